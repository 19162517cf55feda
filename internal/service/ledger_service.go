package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"channelpass/internal/database"
	"channelpass/internal/models"
	"channelpass/internal/monitoring"
	"channelpass/internal/repository"
)

// LedgerService owns user balances and their audit trail. The balance
// counter and the transaction log are always written in the same database
// transaction.
type LedgerService struct {
	db           *database.DB
	users        *repository.UserRepository
	transactions *repository.TransactionRepository
	locks        *userLocks
	logger       *zap.Logger
	now          func() time.Time
}

// NewLedgerService creates a new ledger service
func NewLedgerService(db *database.DB, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		db:           db,
		users:        repository.NewUserRepository(db),
		transactions: repository.NewTransactionRepository(db),
		locks:        newUserLocks(),
		logger:       logger,
		now:          time.Now,
	}
}

// Credit adds amount to the user's balance, creating the user if needed
func (s *LedgerService) Credit(ctx context.Context, userID, amount int64, description string) (*models.Transaction, error) {
	return s.credit(ctx, userID, amount, description, "")
}

// CreditPayment credits a Telegram payment once per chargeID. A charge that
// was already credited fails with ErrPaymentAlreadyCredited and leaves the
// balance untouched.
func (s *LedgerService) CreditPayment(ctx context.Context, userID, amount int64, chargeID, description string) (*models.Transaction, error) {
	return s.credit(ctx, userID, amount, description, chargeID)
}

func (s *LedgerService) credit(ctx context.Context, userID, amount int64, description, chargeID string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	var record *models.Transaction
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		now := s.now()
		users := s.users.WithTx(tx)
		if err := users.EnsureUser(ctx, userID, "", "", now); err != nil {
			return err
		}
		if err := users.AddBalance(ctx, userID, amount); err != nil {
			return err
		}

		record = &models.Transaction{
			UserID:      userID,
			Type:        models.TransactionDeposit,
			Amount:      amount,
			Description: description,
			CreatedAt:   now,
		}
		transactions := s.transactions.WithTx(tx)
		if err := transactions.CreateTransaction(ctx, record); err != nil {
			return err
		}
		if chargeID == "" {
			return nil
		}
		return transactions.RecordCharge(ctx, chargeID, userID, amount, record.ID, now)
	})
	if errors.Is(err, repository.ErrChargeRecorded) {
		monitoring.LedgerOperationsTotal.WithLabelValues("credit", "duplicate").Inc()
		s.logger.Info("payment charge already credited",
			zap.Int64("user_id", userID),
			zap.String("charge_id", chargeID))
		return nil, ErrPaymentAlreadyCredited
	}
	if err != nil {
		monitoring.LedgerOperationsTotal.WithLabelValues("credit", "error").Inc()
		return nil, fmt.Errorf("failed to credit user %d: %w", userID, err)
	}

	monitoring.LedgerOperationsTotal.WithLabelValues("credit", "ok").Inc()
	s.logger.Info("balance credited",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("transaction_id", record.ID))
	return record, nil
}

// Debit subtracts amount from the user's balance. It fails with
// ErrInsufficientFunds, leaving everything untouched, when the balance
// does not cover amount.
func (s *LedgerService) Debit(ctx context.Context, userID, amount int64, description string) (*models.Transaction, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	var record *models.Transaction
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		record, err = s.debitTx(ctx, tx, userID, amount, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// debitTx performs the debit inside tx. Callers hold the user's lock.
func (s *LedgerService) debitTx(ctx context.Context, tx *database.Tx, userID, amount int64, description string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ok, err := s.users.WithTx(tx).DebitIfSufficient(ctx, userID, amount)
	if err != nil {
		monitoring.LedgerOperationsTotal.WithLabelValues("debit", "error").Inc()
		return nil, fmt.Errorf("failed to debit user %d: %w", userID, err)
	}
	if !ok {
		monitoring.LedgerOperationsTotal.WithLabelValues("debit", "insufficient").Inc()
		return nil, ErrInsufficientFunds
	}

	record := &models.Transaction{
		UserID:      userID,
		Type:        models.TransactionSubscription,
		Amount:      -amount,
		Description: description,
		CreatedAt:   s.now(),
	}
	if err := s.transactions.WithTx(tx).CreateTransaction(ctx, record); err != nil {
		monitoring.LedgerOperationsTotal.WithLabelValues("debit", "error").Inc()
		return nil, err
	}

	monitoring.LedgerOperationsTotal.WithLabelValues("debit", "ok").Inc()
	return record, nil
}

// Balance returns the user's spendable credit, zero for unknown users
func (s *LedgerService) Balance(ctx context.Context, userID int64) (int64, error) {
	return s.users.GetBalance(ctx, userID)
}

// History returns the user's most recent transactions, newest first
func (s *LedgerService) History(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	return s.transactions.ListByUser(ctx, userID, limit)
}

// RegisterUser records a user on first contact and refreshes their profile
func (s *LedgerService) RegisterUser(ctx context.Context, userID int64, username, firstName string) error {
	return s.users.EnsureUser(ctx, userID, username, firstName, s.now())
}
