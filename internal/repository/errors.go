package repository

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrDuplicateInviteLink = errors.New("invite link already exists")
	ErrInviteLinkNotFound  = errors.New("invite link not found")
	ErrInviteLinkUsed      = errors.New("invite link already used")
	ErrChargeRecorded      = errors.New("payment charge already recorded")
)
