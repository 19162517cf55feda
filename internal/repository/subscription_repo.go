package repository

import (
	"context"
	"fmt"
	"time"

	"channelpass/internal/database"
	"channelpass/internal/models"
)

// SubscriptionRepository stores access grants. Rows are insert-only.
type SubscriptionRepository struct {
	db database.DBTX
}

func NewSubscriptionRepository(db database.DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// WithTx returns a copy of the repository bound to tx
func (r *SubscriptionRepository) WithTx(tx *database.Tx) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

// CreateSubscription inserts a new grant row
func (r *SubscriptionRepository) CreateSubscription(ctx context.Context, userID int64, channelType string, expiresAt, createdAt time.Time) (*models.Subscription, error) {
	query := `
		INSERT INTO subscriptions (user_id, channel_type, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, userID, channelType, expiresAt.UTC(), createdAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return &models.Subscription{
		ID:          id,
		UserID:      userID,
		ChannelType: channelType,
		ExpiresAt:   expiresAt,
		CreatedAt:   createdAt,
	}, nil
}

// HasActive reports whether any grant for the user and channel outlives now
func (r *SubscriptionRepository) HasActive(ctx context.Context, userID int64, channelType string, now time.Time) (bool, error) {
	query := `
		SELECT COUNT(*) FROM subscriptions
		WHERE user_id = ? AND channel_type = ? AND expires_at > ?
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, channelType, now.UTC()).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}
	return count > 0, nil
}

// ListActive returns the user's unexpired grants, furthest expiry first
func (r *SubscriptionRepository) ListActive(ctx context.Context, userID int64, now time.Time) ([]models.Subscription, error) {
	query := `
		SELECT id, user_id, channel_type, expires_at, created_at
		FROM subscriptions
		WHERE user_id = ? AND expires_at > ?
		ORDER BY expires_at DESC
	`
	return r.list(ctx, query, userID, now.UTC())
}

// ListByUser returns every grant ever made to the user, oldest first
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]models.Subscription, error) {
	query := `
		SELECT id, user_id, channel_type, expires_at, created_at
		FROM subscriptions
		WHERE user_id = ?
		ORDER BY id
	`
	return r.list(ctx, query, userID)
}

// ListAll returns every grant, for exports
func (r *SubscriptionRepository) ListAll(ctx context.Context) ([]models.Subscription, error) {
	return r.list(ctx, `
		SELECT id, user_id, channel_type, expires_at, created_at
		FROM subscriptions
		ORDER BY id
	`)
}

func (r *SubscriptionRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var s models.Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.ChannelType, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}

	return subs, rows.Err()
}
