package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"channelpass/internal/database"
	"channelpass/internal/models"
	"channelpass/internal/monitoring"
	"channelpass/internal/repository"
)

// InviteService issues single-use invite links to the private channel
type InviteService struct {
	links     *repository.InviteLinkRepository
	gateway   MembershipGateway
	channelID int64
	logger    *zap.Logger
	now       func() time.Time
}

// NewInviteService creates a new invite service for channelID
func NewInviteService(db *database.DB, gateway MembershipGateway, channelID int64, logger *zap.Logger) *InviteService {
	return &InviteService{
		links:     repository.NewInviteLinkRepository(db),
		gateway:   gateway,
		channelID: channelID,
		logger:    logger,
		now:       time.Now,
	}
}

// Issue creates a one-member invite link valid for duration and records it.
// A gateway error is returned as *GatewayFailure.
func (s *InviteService) Issue(ctx context.Context, userID int64, duration time.Duration) (*models.InviteLink, error) {
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}

	now := s.now()
	expireAt := now.Add(duration)

	token, err := s.gateway.CreateInviteLink(ctx, InviteLinkRequest{
		ChannelID:          s.channelID,
		Name:               fmt.Sprintf("Premium for user_%d", userID),
		ExpireAt:           expireAt,
		MemberLimit:        1,
		CreatesJoinRequest: false,
	})
	if err == nil && token == "" {
		err = errors.New("gateway returned an empty invite link")
	}
	if err != nil {
		monitoring.InviteFailuresTotal.Inc()
		s.logger.Error("failed to create invite link", zap.Int64("user_id", userID), zap.Error(err))
		return nil, &GatewayFailure{UserID: userID, Err: err}
	}

	link, err := s.links.CreateInviteLink(ctx, userID, token, expireAt, now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("invite link issued", zap.Int64("user_id", userID), zap.Int64("link_id", link.ID))
	return link, nil
}

// MarkUsed records that someone joined the channel through token
func (s *InviteService) MarkUsed(ctx context.Context, token string, userID int64) error {
	link, err := s.links.GetByLink(ctx, token)
	if err != nil {
		return err
	}
	if link == nil {
		return repository.ErrInviteLinkNotFound
	}
	if link.UserID != userID {
		s.logger.Warn("invite link used by a different account",
			zap.Int64("owner_id", link.UserID),
			zap.Int64("joined_id", userID))
	}

	if err := s.links.MarkUsed(ctx, token, s.now()); err != nil {
		return err
	}
	s.logger.Info("invite link consumed", zap.Int64("link_id", link.ID), zap.Int64("user_id", userID))
	return nil
}
