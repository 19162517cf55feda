package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"channelpass/internal/cryptopay"
	"channelpass/internal/database"
	"channelpass/internal/models"
	"channelpass/internal/monitoring"
	"channelpass/internal/repository"
)

// ReconcileStats summarizes one reconciliation cycle
type ReconcileStats struct {
	Checked int
	Paid    int
	Expired int
	Errors  int
}

// Reconciler polls the payment provider for pending crypto invoices and
// moves each one to paid or expired exactly once.
type Reconciler struct {
	db            *database.DB
	registry      *InvoiceRegistry
	invoices      *repository.InvoiceRepository
	provider      PaymentProvider
	subscriptions *SubscriptionService
	fulfiller     *Fulfiller
	interval      time.Duration
	ttl           time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewReconciler creates a reconciler polling every interval. Invoices older
// than ttl are abandoned without a grant.
func NewReconciler(
	db *database.DB,
	registry *InvoiceRegistry,
	provider PaymentProvider,
	subscriptions *SubscriptionService,
	fulfiller *Fulfiller,
	interval, ttl time.Duration,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		db:            db,
		registry:      registry,
		invoices:      repository.NewInvoiceRepository(db),
		provider:      provider,
		subscriptions: subscriptions,
		fulfiller:     fulfiller,
		interval:      interval,
		ttl:           ttl,
		logger:        logger,
		now:           time.Now,
	}
}

// Run reconciles every interval until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("invoice reconciler started",
		zap.Duration("interval", r.interval),
		zap.Int("pending", r.registry.Len()))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("invoice reconciler stopped", zap.Int("pending", r.registry.Len()))
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce runs a single pass over every pending invoice
func (r *Reconciler) ReconcileOnce(ctx context.Context) ReconcileStats {
	monitoring.ReconcileCyclesTotal.Inc()

	var stats ReconcileStats
	for _, inv := range r.registry.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		stats.Checked++
		r.reconcileEntry(ctx, inv, &stats)
	}

	if stats.Paid > 0 || stats.Expired > 0 || stats.Errors > 0 {
		r.logger.Info("reconcile cycle finished",
			zap.Int("checked", stats.Checked),
			zap.Int("paid", stats.Paid),
			zap.Int("expired", stats.Expired),
			zap.Int("errors", stats.Errors))
	}
	return stats
}

func (r *Reconciler) reconcileEntry(ctx context.Context, inv models.PendingInvoice, stats *ReconcileStats) {
	defer func() {
		if rec := recover(); rec != nil {
			stats.Errors++
			r.logger.Error("panic while reconciling invoice",
				zap.Int64("invoice_id", inv.InvoiceID),
				zap.Any("panic", rec))
		}
	}()

	if inv.IsAbandonedAt(r.now(), r.ttl) {
		if r.expire(ctx, inv.InvoiceID) {
			stats.Expired++
		}
		return
	}

	status, err := r.provider.GetInvoiceStatus(ctx, inv.InvoiceID)
	if err != nil {
		stats.Errors++
		monitoring.ProviderErrorsTotal.Inc()
		err = &ProviderQueryFailure{InvoiceID: inv.InvoiceID, Err: err}
		r.logger.Warn("invoice status query failed", zap.Error(err))
		return
	}

	switch status {
	case cryptopay.StatusPaid:
		settled, err := r.settle(ctx, inv.InvoiceID)
		if err != nil {
			stats.Errors++
			return
		}
		if settled {
			stats.Paid++
		}
	case cryptopay.StatusExpired:
		if r.expire(ctx, inv.InvoiceID) {
			stats.Expired++
		}
	}
}

// settle claims a paid invoice, grants the subscription and delivers access.
// The claim and the grant commit together, so replaying "paid" is a no-op
// and reports false.
func (r *Reconciler) settle(ctx context.Context, invoiceID int64) (bool, error) {
	inv, ok := r.registry.Take(invoiceID)
	if !ok {
		return false, nil
	}

	var sub *models.Subscription
	err := r.db.WithTx(ctx, func(tx *database.Tx) error {
		claimed, err := r.invoices.WithTx(tx).CompleteInvoice(ctx, inv.InvoiceID, models.InvoicePaid, r.now())
		if err != nil {
			return err
		}
		if !claimed {
			return ErrInvoiceSettled
		}
		sub, err = r.subscriptions.grantTx(ctx, tx, inv.UserID, inv.ChannelType, inv.Duration)
		return err
	})
	if errors.Is(err, ErrInvoiceSettled) {
		r.logger.Info("invoice already settled elsewhere", zap.Int64("invoice_id", inv.InvoiceID))
		return false, nil
	}
	if err != nil {
		r.registry.Restore(inv)
		r.logger.Error("failed to grant paid invoice",
			zap.Int64("invoice_id", inv.InvoiceID),
			zap.Int64("user_id", inv.UserID),
			zap.Error(err))
		return false, fmt.Errorf("failed to settle invoice %d: %w", inv.InvoiceID, err)
	}

	monitoring.InvoicesSettledTotal.WithLabelValues("paid").Inc()
	monitoring.SubscriptionsGrantedTotal.WithLabelValues("crypto").Inc()
	r.logger.Info("crypto invoice paid",
		zap.Int64("invoice_id", inv.InvoiceID),
		zap.Int64("user_id", inv.UserID),
		zap.String("asset", inv.Asset),
		zap.String("amount", inv.Amount.String()))

	r.fulfiller.Deliver(ctx, inv.ChatID, sub, "Payment confirmed! Your subscription is active.")
	return true, nil
}

// expire abandons an invoice without any grant or notification. It reports
// whether this call moved the row out of pending.
func (r *Reconciler) expire(ctx context.Context, invoiceID int64) bool {
	inv, ok := r.registry.Take(invoiceID)
	if !ok {
		return false
	}

	claimed, err := r.invoices.CompleteInvoice(ctx, inv.InvoiceID, models.InvoiceExpired, r.now())
	if err != nil {
		r.registry.Restore(inv)
		r.logger.Error("failed to expire invoice", zap.Int64("invoice_id", inv.InvoiceID), zap.Error(err))
		return false
	}
	if !claimed {
		r.logger.Info("invoice already settled elsewhere", zap.Int64("invoice_id", inv.InvoiceID))
		return false
	}

	monitoring.InvoicesSettledTotal.WithLabelValues("expired").Inc()
	r.logger.Info("crypto invoice abandoned",
		zap.Int64("invoice_id", inv.InvoiceID),
		zap.Int64("user_id", inv.UserID),
		zap.Time("created_at", inv.CreatedAt))
	return true
}
