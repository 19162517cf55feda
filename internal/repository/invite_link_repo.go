package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"channelpass/internal/database"
	"channelpass/internal/models"
)

type InviteLinkRepository struct {
	db database.DBTX
}

func NewInviteLinkRepository(db database.DBTX) *InviteLinkRepository {
	return &InviteLinkRepository{db: db}
}

// WithTx returns a copy of the repository bound to tx
func (r *InviteLinkRepository) WithTx(tx *database.Tx) *InviteLinkRepository {
	return &InviteLinkRepository{db: tx}
}

// CreateInviteLink persists a freshly issued link. A token that already
// exists is rejected with ErrDuplicateInviteLink, never overwritten.
func (r *InviteLinkRepository) CreateInviteLink(ctx context.Context, userID int64, link string, expiresAt, now time.Time) (*models.InviteLink, error) {
	query := `
		INSERT INTO invite_links (user_id, invite_link, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, userID, link, expiresAt.UTC(), false, now.UTC())
	if err != nil {
		if r.db.GetDialect().IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInviteLink, link)
		}
		return nil, fmt.Errorf("failed to create invite link: %w", err)
	}

	return &models.InviteLink{
		ID:        id,
		UserID:    userID,
		Link:      link,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// GetByLink retrieves an invite link by its token, returning nil when absent
func (r *InviteLinkRepository) GetByLink(ctx context.Context, link string) (*models.InviteLink, error) {
	query := `
		SELECT id, user_id, invite_link, expires_at, used, used_at, created_at
		FROM invite_links
		WHERE invite_link = ?
	`
	l, err := scanInviteLink(r.db.QueryRowContext(ctx, query, link))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invite link: %w", err)
	}
	return l, nil
}

// MarkUsed flips the used flag exactly once
func (r *InviteLinkRepository) MarkUsed(ctx context.Context, link string, now time.Time) error {
	query := `UPDATE invite_links SET used = ?, used_at = ? WHERE invite_link = ? AND used = ?`
	result, err := r.db.ExecContext(ctx, query, true, now.UTC(), link, false)
	if err != nil {
		return fmt.Errorf("failed to mark invite link used: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 1 {
		return nil
	}

	existing, err := r.GetByLink(ctx, link)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrInviteLinkNotFound
	}
	return ErrInviteLinkUsed
}

// ListByUser returns the user's links, newest first
func (r *InviteLinkRepository) ListByUser(ctx context.Context, userID int64) ([]models.InviteLink, error) {
	query := `
		SELECT id, user_id, invite_link, expires_at, used, used_at, created_at
		FROM invite_links
		WHERE user_id = ?
		ORDER BY id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invite links: %w", err)
	}
	defer rows.Close()

	var links []models.InviteLink
	for rows.Next() {
		l, err := scanInviteLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite link: %w", err)
		}
		links = append(links, *l)
	}

	return links, rows.Err()
}

// ListAll returns every invite link ever issued, for exports
func (r *InviteLinkRepository) ListAll(ctx context.Context) ([]models.InviteLink, error) {
	query := `
		SELECT id, user_id, invite_link, expires_at, used, used_at, created_at
		FROM invite_links
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query invite links: %w", err)
	}
	defer rows.Close()

	var links []models.InviteLink
	for rows.Next() {
		l, err := scanInviteLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite link: %w", err)
		}
		links = append(links, *l)
	}

	return links, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInviteLink(row rowScanner) (*models.InviteLink, error) {
	var l models.InviteLink
	var usedAt sql.NullTime
	if err := row.Scan(&l.ID, &l.UserID, &l.Link, &l.ExpiresAt, &l.Used, &usedAt, &l.CreatedAt); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		l.UsedAt = &t
	}
	return &l, nil
}
