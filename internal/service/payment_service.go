package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"channelpass/internal/cryptopay"
	"channelpass/internal/database"
	"channelpass/internal/models"
	"channelpass/internal/monitoring"
	"channelpass/internal/security"
)

// PaymentConfig holds the payment settings PaymentService needs
type PaymentConfig struct {
	AdminID          int64
	InvoiceExpiresIn time.Duration
}

// PaymentService turns each payment path into a subscription grant
type PaymentService struct {
	db            *database.DB
	ledger        *LedgerService
	subscriptions *SubscriptionService
	fulfiller     *Fulfiller
	registry      *InvoiceRegistry
	provider      PaymentProvider
	stars         StarsInvoicer
	rates         *RateTable
	limiter       *security.RateLimiter
	catalog       models.Catalog
	cfg           PaymentConfig
	logger        *zap.Logger
	now           func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	db *database.DB,
	ledger *LedgerService,
	subscriptions *SubscriptionService,
	fulfiller *Fulfiller,
	registry *InvoiceRegistry,
	provider PaymentProvider,
	stars StarsInvoicer,
	rates *RateTable,
	limiter *security.RateLimiter,
	catalog models.Catalog,
	cfg PaymentConfig,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		db:            db,
		ledger:        ledger,
		subscriptions: subscriptions,
		fulfiller:     fulfiller,
		registry:      registry,
		provider:      provider,
		stars:         stars,
		rates:         rates,
		limiter:       limiter,
		catalog:       catalog,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *PaymentService) premium() (models.Channel, error) {
	ch, ok := s.catalog[models.ChannelPremium]
	if !ok {
		return models.Channel{}, fmt.Errorf("%w: %s", ErrUnknownChannel, models.ChannelPremium)
	}
	return ch, nil
}

// PayFromBalance buys the premium channel with the user's star balance.
// The debit and the grant commit together; the invite link and the
// notification follow.
func (s *PaymentService) PayFromBalance(ctx context.Context, userID, chatID int64) (*Delivery, error) {
	ch, err := s.premium()
	if err != nil {
		return nil, err
	}

	unlock := s.ledger.locks.lock(userID)
	var sub *models.Subscription
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := s.ledger.debitTx(ctx, tx, userID, ch.PriceStars, "Subscription paid from balance"); err != nil {
			return err
		}
		var err error
		sub, err = s.subscriptions.grantTx(ctx, tx, userID, ch.Type, ch.Duration)
		return err
	})
	unlock()
	if err != nil {
		return nil, err
	}

	monitoring.SubscriptionsGrantedTotal.WithLabelValues("balance").Inc()
	return s.fulfiller.Deliver(ctx, chatID, sub, "Subscription activated!"), nil
}

// RequestCryptoInvoice opens a provider invoice for the premium channel in
// asset and starts tracking it for reconciliation
func (s *PaymentService) RequestCryptoInvoice(ctx context.Context, userID, chatID int64, asset string) (*models.PendingInvoice, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if _, ok := assetPrecision[asset]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	ch, err := s.premium()
	if err != nil {
		return nil, err
	}

	rate, ok := s.rates.Rate(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRateUnavailable, asset)
	}
	amount, err := QuoteAmount(ch.PriceFiat, rate, asset)
	if err != nil {
		return nil, err
	}

	limiterKey := strconv.FormatInt(userID, 10)
	if !s.limiter.Allow(limiterKey) {
		return nil, ErrRateLimited
	}

	invoice, err := s.provider.CreateInvoice(ctx, cryptopay.CreateInvoiceParams{
		Asset:       asset,
		Amount:      amount,
		Description: fmt.Sprintf("%s subscription for %d days", ch.Name, int(ch.Duration.Hours()/24)),
		Payload:     uuid.NewString(),
		ExpiresIn:   s.cfg.InvoiceExpiresIn,
	})
	if err != nil {
		// Provider outages should not count against the user
		s.limiter.Refund(limiterKey)
		return nil, fmt.Errorf("failed to create crypto invoice: %w", err)
	}

	pending := models.PendingInvoice{
		InvoiceID:   invoice.InvoiceID,
		UserID:      userID,
		ChatID:      chatID,
		ChannelType: ch.Type,
		Duration:    ch.Duration,
		Asset:       asset,
		Amount:      amount,
		PayURL:      invoice.PaymentURL(),
		Status:      models.InvoicePending,
		CreatedAt:   s.now(),
	}
	if invoice.Amount.IsPositive() {
		pending.Amount = invoice.Amount
	}

	if err := s.registry.Add(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to track invoice %d: %w", invoice.InvoiceID, err)
	}

	s.logger.Info("crypto invoice created",
		zap.Int64("invoice_id", pending.InvoiceID),
		zap.Int64("user_id", userID),
		zap.String("asset", asset),
		zap.String("amount", pending.Amount.String()))
	return &pending, nil
}

// SendStarsInvoice sends a stars invoice that tops up the balance by stars
func (s *PaymentService) SendStarsInvoice(ctx context.Context, chatID, stars int64) error {
	if stars <= 0 {
		return ErrInvalidAmount
	}

	title := fmt.Sprintf("%d Telegram Stars", stars)
	description := fmt.Sprintf("Top up %d stars to pay for a subscription", stars)
	payload := fmt.Sprintf("stars_%d", stars)
	if err := s.stars.SendStarsInvoice(ctx, chatID, title, description, payload, stars); err != nil {
		return fmt.Errorf("failed to send stars invoice: %w", err)
	}
	return nil
}

// CreditStars records a completed stars payment on the user's balance.
// Telegram may deliver the same payment twice, so the credit is keyed on
// its charge ID.
func (s *PaymentService) CreditStars(ctx context.Context, userID, amount int64, chargeID string) (*models.Transaction, error) {
	if chargeID == "" {
		return s.ledger.Credit(ctx, userID, amount, "Telegram Stars deposit")
	}
	return s.ledger.CreditPayment(ctx, userID, amount, chargeID, "Telegram Stars deposit")
}

// AdminGrant lets the configured administrator grant premium access by hand.
// The target is notified in their private chat, which shares their user ID.
func (s *PaymentService) AdminGrant(ctx context.Context, adminID, targetUserID int64, days int) (*Delivery, error) {
	if s.cfg.AdminID == 0 || adminID != s.cfg.AdminID {
		return nil, ErrNotAdmin
	}
	if days <= 0 {
		return nil, ErrInvalidDuration
	}

	sub, err := s.subscriptions.Grant(ctx, targetUserID, models.ChannelPremium, time.Duration(days)*24*time.Hour)
	if err != nil {
		return nil, err
	}

	monitoring.SubscriptionsGrantedTotal.WithLabelValues("admin").Inc()
	s.logger.Info("subscription granted by admin",
		zap.Int64("admin_id", adminID),
		zap.Int64("user_id", targetUserID),
		zap.Int("days", days))
	return s.fulfiller.Deliver(ctx, targetUserID, sub, "An administrator granted you a subscription."), nil
}

// IsUserError reports whether err should be shown to the requesting user
// rather than logged as a failure
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrInsufficientFunds,
		ErrInvalidAmount,
		ErrInvalidDuration,
		ErrUnsupportedAsset,
		ErrRateUnavailable,
		ErrRateLimited,
		ErrNotAdmin,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
