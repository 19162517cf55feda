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

// InvoiceRepository persists crypto invoices awaiting reconciliation so a
// restart can pick them up again.
type InvoiceRepository struct {
	db database.DBTX
}

func NewInvoiceRepository(db database.DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// WithTx returns a copy of the repository bound to tx
func (r *InvoiceRepository) WithTx(tx *database.Tx) *InvoiceRepository {
	return &InvoiceRepository{db: tx}
}

// CreateInvoice stores a new pending invoice
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *models.PendingInvoice) error {
	query := `
		INSERT INTO pending_invoices
			(invoice_id, user_id, chat_id, channel_type, duration_seconds, asset, amount, pay_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		inv.InvoiceID,
		inv.UserID,
		inv.ChatID,
		inv.ChannelType,
		int64(inv.Duration/time.Second),
		inv.Asset,
		inv.Amount.String(),
		inv.PayURL,
		string(inv.Status),
		inv.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create pending invoice: %w", err)
	}
	return nil
}

// GetInvoice retrieves an invoice by provider ID, returning nil when absent
func (r *InvoiceRepository) GetInvoice(ctx context.Context, invoiceID int64) (*models.PendingInvoice, error) {
	query := selectInvoiceColumns + ` WHERE invoice_id = ?`
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, query, invoiceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending invoice: %w", err)
	}
	return inv, nil
}

// ListPending returns every invoice still awaiting payment, oldest first
func (r *InvoiceRepository) ListPending(ctx context.Context) ([]models.PendingInvoice, error) {
	query := selectInvoiceColumns + ` WHERE status = ? ORDER BY created_at`
	return r.list(ctx, query, string(models.InvoicePending))
}

// ListAll returns every invoice regardless of status, for exports
func (r *InvoiceRepository) ListAll(ctx context.Context) ([]models.PendingInvoice, error) {
	return r.list(ctx, selectInvoiceColumns+` ORDER BY created_at`)
}

func (r *InvoiceRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.PendingInvoice, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.PendingInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}

	return invoices, rows.Err()
}

// CompleteInvoice moves a pending invoice to a terminal status. It reports
// false when the invoice was no longer pending, which makes the transition
// happen at most once even across processes.
func (r *InvoiceRepository) CompleteInvoice(ctx context.Context, invoiceID int64, status models.InvoiceStatus, now time.Time) (bool, error) {
	query := `
		UPDATE pending_invoices
		SET status = ?, completed_at = ?
		WHERE invoice_id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query, string(status), now.UTC(), invoiceID, string(models.InvoicePending))
	if err != nil {
		return false, fmt.Errorf("failed to complete invoice: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return rows == 1, nil
}

const selectInvoiceColumns = `
	SELECT invoice_id, user_id, chat_id, channel_type, duration_seconds, asset, amount, pay_url, status, created_at, completed_at
	FROM pending_invoices`

func scanInvoice(row rowScanner) (*models.PendingInvoice, error) {
	var inv models.PendingInvoice
	var durationSeconds int64
	var status string
	var completedAt sql.NullTime

	err := row.Scan(
		&inv.InvoiceID,
		&inv.UserID,
		&inv.ChatID,
		&inv.ChannelType,
		&durationSeconds,
		&inv.Asset,
		&inv.Amount,
		&inv.PayURL,
		&status,
		&inv.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Duration = time.Duration(durationSeconds) * time.Second
	inv.Status = models.InvoiceStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		inv.CompletedAt = &t
	}
	return &inv, nil
}
