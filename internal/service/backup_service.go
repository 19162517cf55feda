package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"channelpass/internal/database"
	"channelpass/internal/repository"
)

// BackupData represents the complete database backup structure
type BackupData struct {
	Version       string               `json:"version"`
	ExportedAt    time.Time            `json:"exported_at"`
	DatabaseType  string               `json:"database_type"`
	Users         []UserBackup         `json:"users"`
	Transactions  []TransactionBackup  `json:"transactions"`
	StarsPayments []StarsPaymentBackup `json:"stars_payments"`
	Subscriptions []SubscriptionBackup `json:"subscriptions"`
	InviteLinks   []InviteLinkBackup   `json:"invite_links"`
	Invoices      []InvoiceBackup      `json:"invoices"`
}

// UserBackup represents a user record for backup
type UserBackup struct {
	ID        int64     `json:"user_id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// TransactionBackup represents one ledger entry for backup
type TransactionBackup struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// StarsPaymentBackup records a Telegram charge that was already credited
type StarsPaymentBackup struct {
	ChargeID      string    `json:"charge_id"`
	UserID        int64     `json:"user_id"`
	Amount        int64     `json:"amount"`
	TransactionID int64     `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type SubscriptionBackup struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ChannelType string    `json:"channel_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type InviteLinkBackup struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Link      string     `json:"invite_link"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// InvoiceBackup represents a tracked crypto invoice for backup
type InvoiceBackup struct {
	InvoiceID       int64           `json:"invoice_id"`
	UserID          int64           `json:"user_id"`
	ChatID          int64           `json:"chat_id"`
	ChannelType     string          `json:"channel_type"`
	DurationSeconds int64           `json:"duration_seconds"`
	Asset           string          `json:"asset"`
	Amount          decimal.Decimal `json:"amount"`
	PayURL          string          `json:"pay_url"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
}

// BackupService handles database backup and restore operations
type BackupService struct {
	db     *database.DB
	logger *zap.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB, logger *zap.Logger) *BackupService {
	return &BackupService{db: db, logger: logger}
}

// Export creates a complete backup of the database to a file
func (s *BackupService) Export(ctx context.Context, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := s.ExportToWriter(ctx, file); err != nil {
		return err
	}

	s.logger.Info("database exported", zap.String("path", outputPath))
	return nil
}

// ExportToWriter writes the backup as indented JSON to w
func (s *BackupService) ExportToWriter(ctx context.Context, w io.Writer) error {
	backup, err := s.collect(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	s.logger.Info("export summary",
		zap.Int("users", len(backup.Users)),
		zap.Int("transactions", len(backup.Transactions)),
		zap.Int("stars_payments", len(backup.StarsPayments)),
		zap.Int("subscriptions", len(backup.Subscriptions)),
		zap.Int("invite_links", len(backup.InviteLinks)),
		zap.Int("invoices", len(backup.Invoices)))
	return nil
}

func (s *BackupService) collect(ctx context.Context) (*BackupData, error) {
	backup := &BackupData{
		Version:      "1.0",
		ExportedAt:   time.Now().UTC(),
		DatabaseType: s.db.Dialect.DriverName(),
	}

	users, err := repository.NewUserRepository(s.db).GetAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export users: %w", err)
	}
	for _, u := range users {
		backup.Users = append(backup.Users, UserBackup{
			ID: u.ID, Username: u.Username, FirstName: u.FirstName, Balance: u.Balance, CreatedAt: u.CreatedAt,
		})
	}

	transactions, err := repository.NewTransactionRepository(s.db).ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export transactions: %w", err)
	}
	for _, t := range transactions {
		backup.Transactions = append(backup.Transactions, TransactionBackup{
			ID: t.ID, UserID: t.UserID, Type: string(t.Type), Amount: t.Amount, Description: t.Description, CreatedAt: t.CreatedAt,
		})
	}

	charges, err := repository.NewTransactionRepository(s.db).ListCharges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export payment charges: %w", err)
	}
	for _, c := range charges {
		backup.StarsPayments = append(backup.StarsPayments, StarsPaymentBackup{
			ChargeID: c.ChargeID, UserID: c.UserID, Amount: c.Amount, TransactionID: c.TransactionID, CreatedAt: c.CreatedAt,
		})
	}

	subs, err := repository.NewSubscriptionRepository(s.db).ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export subscriptions: %w", err)
	}
	for _, sub := range subs {
		backup.Subscriptions = append(backup.Subscriptions, SubscriptionBackup{
			ID: sub.ID, UserID: sub.UserID, ChannelType: sub.ChannelType, ExpiresAt: sub.ExpiresAt, CreatedAt: sub.CreatedAt,
		})
	}

	links, err := repository.NewInviteLinkRepository(s.db).ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export invite links: %w", err)
	}
	for _, l := range links {
		backup.InviteLinks = append(backup.InviteLinks, InviteLinkBackup{
			ID: l.ID, UserID: l.UserID, Link: l.Link, ExpiresAt: l.ExpiresAt, Used: l.Used, UsedAt: l.UsedAt, CreatedAt: l.CreatedAt,
		})
	}

	invoices, err := repository.NewInvoiceRepository(s.db).ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export invoices: %w", err)
	}
	for _, inv := range invoices {
		backup.Invoices = append(backup.Invoices, InvoiceBackup{
			InvoiceID:       inv.InvoiceID,
			UserID:          inv.UserID,
			ChatID:          inv.ChatID,
			ChannelType:     inv.ChannelType,
			DurationSeconds: int64(inv.Duration / time.Second),
			Asset:           inv.Asset,
			Amount:          inv.Amount,
			PayURL:          inv.PayURL,
			Status:          string(inv.Status),
			CreatedAt:       inv.CreatedAt,
			CompletedAt:     inv.CompletedAt,
		})
	}

	return backup, nil
}

// Import restores a database from a backup file
func (s *BackupService) Import(ctx context.Context, inputPath string) error {
	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	return s.ImportFromReader(ctx, file)
}

// ImportFromReader restores a backup into the database in one transaction.
// Rows keep their original IDs, so the target tables should be empty.
func (s *BackupService) ImportFromReader(ctx context.Context, reader io.Reader) error {
	var backup BackupData
	if err := json.NewDecoder(reader).Decode(&backup); err != nil {
		return fmt.Errorf("failed to decode backup: %w", err)
	}

	s.logger.Info("importing backup",
		zap.String("version", backup.Version),
		zap.Time("exported_at", backup.ExportedAt))

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		// Import in order of dependencies
		for _, u := range backup.Users {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO users (user_id, username, first_name, balance, created_at) VALUES (?, ?, ?, ?, ?)",
				u.ID, u.Username, u.FirstName, u.Balance, u.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to import user %d: %w", u.ID, err)
			}
		}

		for _, t := range backup.Transactions {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO transactions (id, user_id, type, amount, description, created_at) VALUES (?, ?, ?, ?, ?, ?)",
				t.ID, t.UserID, t.Type, t.Amount, t.Description, t.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to import transaction %d: %w", t.ID, err)
			}
		}

		for _, c := range backup.StarsPayments {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO stars_payments (charge_id, user_id, amount, transaction_id, created_at) VALUES (?, ?, ?, ?, ?)",
				c.ChargeID, c.UserID, c.Amount, c.TransactionID, c.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to import payment charge %s: %w", c.ChargeID, err)
			}
		}

		for _, sub := range backup.Subscriptions {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO subscriptions (id, user_id, channel_type, expires_at, created_at) VALUES (?, ?, ?, ?, ?)",
				sub.ID, sub.UserID, sub.ChannelType, sub.ExpiresAt.UTC(), sub.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to import subscription %d: %w", sub.ID, err)
			}
		}

		for _, l := range backup.InviteLinks {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO invite_links (id, user_id, invite_link, expires_at, used, used_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
				l.ID, l.UserID, l.Link, l.ExpiresAt.UTC(), l.Used, utcOrNil(l.UsedAt), l.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to import invite link %d: %w", l.ID, err)
			}
		}

		for _, inv := range backup.Invoices {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO pending_invoices
					(invoice_id, user_id, chat_id, channel_type, duration_seconds, asset, amount, pay_url, status, created_at, completed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				inv.InvoiceID, inv.UserID, inv.ChatID, inv.ChannelType, inv.DurationSeconds, inv.Asset,
				inv.Amount.String(), inv.PayURL, inv.Status, inv.CreatedAt.UTC(), utcOrNil(inv.CompletedAt))
			if err != nil {
				return fmt.Errorf("failed to import invoice %d: %w", inv.InvoiceID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("database import completed")
	return nil
}

func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
