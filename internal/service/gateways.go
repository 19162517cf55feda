package service

import (
	"context"
	"time"

	"channelpass/internal/cryptopay"
)

// InviteLinkRequest asks the membership gateway for a channel invitation
type InviteLinkRequest struct {
	ChannelID          int64
	Name               string
	ExpireAt           time.Time
	MemberLimit        int
	CreatesJoinRequest bool
}

// MembershipGateway creates invite links on the private channel
type MembershipGateway interface {
	CreateInviteLink(ctx context.Context, req InviteLinkRequest) (string, error)
}

// Messenger delivers plain text notifications to a chat
type Messenger interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// StarsInvoicer sends in-chat invoices payable in Telegram stars
type StarsInvoicer interface {
	SendStarsInvoice(ctx context.Context, chatID int64, title, description, payload string, stars int64) error
}

// PaymentProvider creates and queries crypto invoices
type PaymentProvider interface {
	CreateInvoice(ctx context.Context, params cryptopay.CreateInvoiceParams) (*cryptopay.Invoice, error)
	GetInvoiceStatus(ctx context.Context, invoiceID int64) (string, error)
}

// RateSource lists asset exchange rates
type RateSource interface {
	GetExchangeRates(ctx context.Context) ([]cryptopay.ExchangeRate, error)
}

// Alerter raises operator-facing alerts. Delivery is best effort.
type Alerter interface {
	AlertOperator(ctx context.Context, subject, body string)
}
