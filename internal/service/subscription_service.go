package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"channelpass/internal/database"
	"channelpass/internal/models"
	"channelpass/internal/repository"
)

// SubscriptionService grants and queries channel access. Grants are
// append-only: renewing before expiry adds a row instead of extending one.
type SubscriptionService struct {
	db      *database.DB
	subs    *repository.SubscriptionRepository
	users   *repository.UserRepository
	catalog models.Catalog
	logger  *zap.Logger
	now     func() time.Time
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(db *database.DB, catalog models.Catalog, logger *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		db:      db,
		subs:    repository.NewSubscriptionRepository(db),
		users:   repository.NewUserRepository(db),
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// Grant gives userID access to channelType for duration starting now
func (s *SubscriptionService) Grant(ctx context.Context, userID int64, channelType string, duration time.Duration) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		sub, err = s.grantTx(ctx, tx, userID, channelType, duration)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionService) grantTx(ctx context.Context, tx *database.Tx, userID int64, channelType string, duration time.Duration) (*models.Subscription, error) {
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if _, ok := s.catalog[channelType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelType)
	}

	now := s.now()
	if err := s.users.WithTx(tx).EnsureUser(ctx, userID, "", "", now); err != nil {
		return nil, err
	}

	sub, err := s.subs.WithTx(tx).CreateSubscription(ctx, userID, channelType, now.Add(duration), now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription granted",
		zap.Int64("user_id", userID),
		zap.String("channel", channelType),
		zap.Time("expires_at", sub.ExpiresAt))
	return sub, nil
}

// IsActive reports whether any grant for the user and channel is unexpired.
// It turns false at the exact expiry instant.
func (s *SubscriptionService) IsActive(ctx context.Context, userID int64, channelType string) (bool, error) {
	return s.subs.HasActive(ctx, userID, channelType, s.now())
}

// ListActive returns the user's unexpired grants, furthest expiry first
func (s *SubscriptionService) ListActive(ctx context.Context, userID int64) ([]models.ActiveSubscription, error) {
	subs, err := s.subs.ListActive(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	active := make([]models.ActiveSubscription, 0, len(subs))
	for _, sub := range subs {
		active = append(active, models.ActiveSubscription{
			Subscription: sub,
			ChannelName:  s.catalog.DisplayName(sub.ChannelType),
		})
	}
	return active, nil
}
