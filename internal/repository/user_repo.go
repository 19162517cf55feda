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

// UserRepository handles database operations for users and their balance counter
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a copy of the repository bound to tx
func (r *UserRepository) WithTx(tx *database.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

// EnsureUser creates the user on first contact. For an existing user it
// refreshes non-empty profile fields and never touches the balance.
func (r *UserRepository) EnsureUser(ctx context.Context, id int64, username, firstName string, now time.Time) error {
	query := r.db.GetDialect().UpsertUserQuery()
	if _, err := r.db.ExecContext(ctx, query, id, username, firstName, now.UTC()); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID, returning nil when it does not exist
func (r *UserRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT user_id, username, first_name, balance, created_at
		FROM users
		WHERE user_id = ?
	`
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.FirstName,
		&user.Balance,
		&user.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetBalance returns the balance counter, zero for unknown users
func (r *UserRepository) GetBalance(ctx context.Context, id int64) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, "SELECT balance FROM users WHERE user_id = ?", id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// AddBalance increments the balance counter of an existing user
func (r *UserRepository) AddBalance(ctx context.Context, id, amount int64) error {
	result, err := r.db.ExecContext(ctx, "UPDATE users SET balance = balance + ? WHERE user_id = ?", amount, id)
	if err != nil {
		return fmt.Errorf("failed to add balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DebitIfSufficient subtracts amount only when the balance covers it. The
// check and the write are one statement, so concurrent debits cannot both
// pass the check. It reports whether the debit was applied.
func (r *UserRepository) DebitIfSufficient(ctx context.Context, id, amount int64) (bool, error) {
	query := `
		UPDATE users
		SET balance = balance - ?
		WHERE user_id = ? AND balance >= ?
	`
	result, err := r.db.ExecContext(ctx, query, amount, id, amount)
	if err != nil {
		return false, fmt.Errorf("failed to debit balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read debit result: %w", err)
	}
	return rows == 1, nil
}

// GetAllUsers retrieves all users
func (r *UserRepository) GetAllUsers(ctx context.Context) ([]models.User, error) {
	query := `
		SELECT user_id, username, first_name, balance, created_at
		FROM users
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.FirstName, &user.Balance, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}
