package models

import "time"

// Subscription is one access grant. Rows are never updated: renewing
// inserts another row, and "active" is derived from ExpiresAt.
type Subscription struct {
	ID          int64
	UserID      int64
	ChannelType string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// IsActiveAt reports whether the grant still confers access at now.
// Access ends at the exact expiry instant.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// ActiveSubscription is a Subscription resolved to its channel's display name
type ActiveSubscription struct {
	Subscription
	ChannelName string
}
