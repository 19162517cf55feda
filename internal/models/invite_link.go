package models

import "time"

// InviteLink is a single-use, time-bound invitation to the private channel
type InviteLink struct {
	ID        int64
	UserID    int64
	Link      string
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (l *InviteLink) IsExpiredAt(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// IsValidAt reports whether the link can still be used to join
func (l *InviteLink) IsValidAt(now time.Time) bool {
	return !l.Used && !l.IsExpiredAt(now)
}
