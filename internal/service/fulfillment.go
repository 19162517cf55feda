package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"channelpass/internal/models"
)

const dateLayout = "02.01.2006"

// Delivery is the outcome of handing a fresh grant to its owner
type Delivery struct {
	Subscription *models.Subscription
	InviteLink   *models.InviteLink
	// LinkErr is set when no invite link could be issued
	LinkErr error
}

// Fulfiller turns a granted subscription into an invite link and a message.
// Link failures never undo the grant; the user is told to contact an
// operator and the operator is alerted.
type Fulfiller struct {
	invites   *InviteService
	messenger Messenger
	alerter   Alerter
	catalog   models.Catalog
	logger    *zap.Logger
}

// NewFulfiller creates a new fulfiller
func NewFulfiller(invites *InviteService, messenger Messenger, alerter Alerter, catalog models.Catalog, logger *zap.Logger) *Fulfiller {
	return &Fulfiller{
		invites:   invites,
		messenger: messenger,
		alerter:   alerter,
		catalog:   catalog,
		logger:    logger,
	}
}

// Deliver issues the invite link for sub and notifies chatID
func (f *Fulfiller) Deliver(ctx context.Context, chatID int64, sub *models.Subscription, headline string) *Delivery {
	delivery := &Delivery{Subscription: sub}

	link, err := f.invites.Issue(ctx, sub.UserID, sub.ExpiresAt.Sub(sub.CreatedAt))
	if err != nil {
		delivery.LinkErr = err
		var gwErr *GatewayFailure
		if errors.As(err, &gwErr) {
			f.alerter.AlertOperator(ctx, "Invite link creation failed",
				fmt.Sprintf("User %d holds subscription %d (%s, until %s) but no invite link could be created: %v",
					sub.UserID, sub.ID, sub.ChannelType, sub.ExpiresAt.Format(dateLayout), gwErr.Err))
		} else {
			f.logger.Error("failed to record invite link", zap.Int64("user_id", sub.UserID), zap.Error(err))
		}
	} else {
		delivery.InviteLink = link
	}

	text := f.grantMessage(headline, delivery)
	if err := f.messenger.Notify(ctx, chatID, text); err != nil {
		f.logger.Error("failed to notify user", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return delivery
}

func (f *Fulfiller) grantMessage(headline string, d *Delivery) string {
	var b strings.Builder
	b.WriteString(headline)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Channel: %s\n", f.catalog.DisplayName(d.Subscription.ChannelType))
	fmt.Fprintf(&b, "Valid until: %s\n", d.Subscription.ExpiresAt.Format(dateLayout))

	if d.InviteLink != nil {
		fmt.Fprintf(&b, "\nYour invite link:\n%s\n\nThe link works for one join only.", d.InviteLink.Link)
	} else {
		b.WriteString("\nWe could not create your invite link. Please contact an operator.")
	}
	return b.String()
}
