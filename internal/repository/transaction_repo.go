package repository

import (
	"context"
	"fmt"
	"time"

	"channelpass/internal/database"
	"channelpass/internal/models"
)

// TransactionRepository appends to and reads the balance audit trail
type TransactionRepository struct {
	db database.DBTX
}

func NewTransactionRepository(db database.DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// WithTx returns a copy of the repository bound to tx
func (r *TransactionRepository) WithTx(tx *database.Tx) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

// CreateTransaction appends an audit record and fills in its ID
func (r *TransactionRepository) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (user_id, type, amount, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, t.UserID, string(t.Type), t.Amount, t.Description, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	t.ID = id
	return nil
}

// RecordCharge remembers that a Telegram payment charge was credited as
// transaction transactionID. A charge seen before fails with ErrChargeRecorded.
func (r *TransactionRepository) RecordCharge(ctx context.Context, chargeID string, userID, amount, transactionID int64, now time.Time) error {
	query := `
		INSERT INTO stars_payments (charge_id, user_id, amount, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query, chargeID, userID, amount, transactionID, now.UTC()); err != nil {
		if r.db.GetDialect().IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrChargeRecorded, chargeID)
		}
		return fmt.Errorf("failed to record payment charge: %w", err)
	}
	return nil
}

// ListByUser returns a user's transactions, newest first. limit <= 0 means all.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, description, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.list(ctx, query, args...)
}

// ListAll returns the whole audit trail in insertion order
func (r *TransactionRepository) ListAll(ctx context.Context) ([]models.Transaction, error) {
	return r.list(ctx, `
		SELECT id, user_id, type, amount, description, created_at
		FROM transactions
		ORDER BY id
	`)
}

// ListCharges returns every recorded payment charge in insertion order
func (r *TransactionRepository) ListCharges(ctx context.Context) ([]models.StarsPayment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT charge_id, user_id, amount, transaction_id, created_at
		FROM stars_payments
		ORDER BY transaction_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment charges: %w", err)
	}
	defer rows.Close()

	var charges []models.StarsPayment
	for rows.Next() {
		var c models.StarsPayment
		if err := rows.Scan(&c.ChargeID, &c.UserID, &c.Amount, &c.TransactionID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment charge: %w", err)
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var txType string
		if err := rows.Scan(&t.ID, &t.UserID, &txType, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = models.TransactionType(txType)
		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}
