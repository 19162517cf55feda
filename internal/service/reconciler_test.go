package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"channelpass/internal/cryptopay"
	"channelpass/internal/models"
	"channelpass/internal/repository"
)

func requestInvoice(t *testing.T, h *harness, userID int64, asset string) *models.PendingInvoice {
	t.Helper()
	inv, err := h.payments.RequestCryptoInvoice(context.Background(), userID, userID, asset)
	if err != nil {
		t.Fatalf("RequestCryptoInvoice() error = %v", err)
	}
	return inv
}

func invoiceStatus(t *testing.T, h *harness, invoiceID int64) models.InvoiceStatus {
	t.Helper()
	inv, err := repository.NewInvoiceRepository(h.db).GetInvoice(context.Background(), invoiceID)
	if err != nil || inv == nil {
		t.Fatalf("GetInvoice(%d) = %v, %v", invoiceID, inv, err)
	}
	return inv.Status
}

func TestScenarioCryptoInvoicePaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := requestInvoice(t, h, 42, "BTC")
	if !inv.Amount.Equal(decimal.RequireFromString("0.000266")) {
		t.Fatalf("Amount = %s, want 0.000266", inv.Amount)
	}
	if h.registry.Len() != 1 {
		t.Fatalf("registry holds %d invoices, want 1", h.registry.Len())
	}

	// Still unpaid: nothing happens
	stats := h.reconciler.ReconcileOnce(ctx)
	if stats.Checked != 1 || stats.Paid != 0 || h.registry.Len() != 1 {
		t.Fatalf("active cycle stats = %+v, registry = %d", stats, h.registry.Len())
	}

	h.provider.setStatus(inv.InvoiceID, cryptopay.StatusPaid)
	h.clock.Advance(30 * time.Second)
	stats = h.reconciler.ReconcileOnce(ctx)
	if stats.Paid != 1 {
		t.Fatalf("paid cycle stats = %+v", stats)
	}

	if h.registry.Len() != 0 {
		t.Errorf("registry holds %d invoices after settlement", h.registry.Len())
	}
	if got := invoiceStatus(t, h, inv.InvoiceID); got != models.InvoicePaid {
		t.Errorf("stored status = %s, want paid", got)
	}

	subs, err := repository.NewSubscriptionRepository(h.db).ListByUser(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(subs))
	}
	if want := h.clock.Now().Add(30 * 24 * time.Hour); !subs[0].ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", subs[0].ExpiresAt, want)
	}
	if n := h.countRows(t, "invite_links"); n != 1 {
		t.Errorf("invite links = %d, want 1", n)
	}
	if h.messenger.count() != 1 || !strings.Contains(h.messenger.sent[0].text, "https://t.me/+invite1") {
		t.Errorf("messages = %+v", h.messenger.sent)
	}
}

func TestPaidReplayIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := requestInvoice(t, h, 42, "USDT")
	h.provider.setStatus(inv.InvoiceID, cryptopay.StatusPaid)

	h.reconciler.ReconcileOnce(ctx)
	h.reconciler.ReconcileOnce(ctx)

	// A stale copy of the entry, as another process might hold
	h.registry.Restore(*inv)
	stats := h.reconciler.ReconcileOnce(ctx)
	if stats.Paid != 0 {
		t.Errorf("replayed settlement counted as paid: %+v", stats)
	}

	if n := h.countRows(t, "subscriptions"); n != 1 {
		t.Errorf("subscriptions = %d, want exactly 1", n)
	}
	if h.messenger.count() != 1 {
		t.Errorf("notifications = %d, want 1", h.messenger.count())
	}
	if h.registry.Len() != 0 {
		t.Errorf("registry holds %d invoices", h.registry.Len())
	}
}

func TestAbandonedInvoiceNeverGrants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := requestInvoice(t, h, 42, "TON")

	h.clock.Advance(2 * time.Hour)
	if stats := h.reconciler.ReconcileOnce(ctx); stats.Expired != 0 {
		t.Fatalf("invoice expired at exactly the TTL: %+v", stats)
	}

	h.provider.setStatus(inv.InvoiceID, cryptopay.StatusPaid)
	queries := h.provider.queries[inv.InvoiceID]
	h.clock.Advance(time.Second)

	stats := h.reconciler.ReconcileOnce(ctx)
	if stats.Expired != 1 || stats.Paid != 0 {
		t.Fatalf("stats = %+v, want one expiry", stats)
	}
	if h.provider.queries[inv.InvoiceID] != queries {
		t.Error("abandoned invoice was still queried")
	}
	if n := h.countRows(t, "subscriptions"); n != 0 {
		t.Errorf("abandoned invoice granted %d subscriptions", n)
	}
	if h.messenger.count() != 0 {
		t.Errorf("abandoned invoice sent %d messages", h.messenger.count())
	}
	if got := invoiceStatus(t, h, inv.InvoiceID); got != models.InvoiceExpired {
		t.Errorf("stored status = %s, want expired", got)
	}

	h.reconciler.ReconcileOnce(ctx)
	if n := h.countRows(t, "subscriptions"); n != 0 {
		t.Errorf("later cycle granted %d subscriptions", n)
	}
}

func TestProviderExpiredStatus(t *testing.T) {
	h := newHarness(t)
	inv := requestInvoice(t, h, 42, "ETH")
	h.provider.setStatus(inv.InvoiceID, cryptopay.StatusExpired)

	stats := h.reconciler.ReconcileOnce(context.Background())
	if stats.Expired != 1 || h.registry.Len() != 0 {
		t.Fatalf("stats = %+v, registry = %d", stats, h.registry.Len())
	}
}

func TestExpiredReplayIsNotCounted(t *testing.T) {
	tests := []struct {
		name        string
		firstStatus string
		wantPaid    int
		wantExpired int
	}{
		{name: "expired then replayed", firstStatus: cryptopay.StatusExpired, wantExpired: 1},
		{name: "paid then replayed as expired", firstStatus: cryptopay.StatusPaid, wantPaid: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			inv := requestInvoice(t, h, 42, "ETH")
			h.provider.setStatus(inv.InvoiceID, tt.firstStatus)
			first := h.reconciler.ReconcileOnce(ctx)
			if first.Paid != tt.wantPaid || first.Expired != tt.wantExpired {
				t.Fatalf("first cycle = %+v", first)
			}

			h.provider.setStatus(inv.InvoiceID, cryptopay.StatusExpired)
			h.registry.Restore(*inv)
			second := h.reconciler.ReconcileOnce(ctx)
			if second.Checked != 1 || second.Paid != 0 || second.Expired != 0 || second.Errors != 0 {
				t.Errorf("replayed cycle = %+v, want nothing counted", second)
			}
			if h.registry.Len() != 0 {
				t.Errorf("registry holds %d invoices", h.registry.Len())
			}
		})
	}
}

func TestProviderErrorKeepsInvoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := requestInvoice(t, h, 42, "USDT")
	h.provider.errs[inv.InvoiceID] = errors.New("connection reset")

	for i := 0; i < 3; i++ {
		stats := h.reconciler.ReconcileOnce(ctx)
		if stats.Errors != 1 {
			t.Fatalf("cycle %d stats = %+v", i, stats)
		}
	}
	if h.registry.Len() != 1 || invoiceStatus(t, h, inv.InvoiceID) != models.InvoicePending {
		t.Fatal("invoice left the pending state after provider errors")
	}

	// Recovery on a later cycle
	delete(h.provider.errs, inv.InvoiceID)
	h.provider.setStatus(inv.InvoiceID, cryptopay.StatusPaid)
	if stats := h.reconciler.ReconcileOnce(ctx); stats.Paid != 1 {
		t.Errorf("stats after recovery = %+v", stats)
	}
}

func TestPanickingEntryDoesNotAbortCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := requestInvoice(t, h, 1, "USDT")
	good := requestInvoice(t, h, 2, "USDT")
	h.provider.panics[bad.InvoiceID] = true
	h.provider.setStatus(good.InvoiceID, cryptopay.StatusPaid)

	stats := h.reconciler.ReconcileOnce(ctx)
	if stats.Paid != 1 || stats.Errors != 1 {
		t.Fatalf("stats = %+v, want one paid and one error", stats)
	}
	if h.registry.Len() != 1 {
		t.Errorf("registry = %d, want the panicking invoice kept", h.registry.Len())
	}
}

func TestFailedGrantRestoresInvoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := models.PendingInvoice{
		InvoiceID:   555,
		UserID:      42,
		ChatID:      42,
		ChannelType: "retired-channel",
		Duration:    time.Hour,
		Asset:       "USDT",
		Amount:      decimal.NewFromInt(25),
		CreatedAt:   h.clock.Now(),
	}
	if err := h.registry.Add(ctx, inv); err != nil {
		t.Fatal(err)
	}
	h.provider.setStatus(inv.InvoiceID, cryptopay.StatusPaid)

	stats := h.reconciler.ReconcileOnce(ctx)
	if stats.Errors != 1 || stats.Paid != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if h.registry.Len() != 1 {
		t.Error("invoice was not restored after the failed grant")
	}
	if got := invoiceStatus(t, h, inv.InvoiceID); got != models.InvoicePending {
		t.Errorf("stored status = %s, want the claim rolled back", got)
	}
}

func TestPaidWithoutInviteLinkAlertsOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := requestInvoice(t, h, 42, "USDT")
	h.provider.setStatus(inv.InvoiceID, cryptopay.StatusPaid)
	h.gateway.err = errors.New("timeout")

	if stats := h.reconciler.ReconcileOnce(ctx); stats.Paid != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	active, err := h.subscriptions.IsActive(ctx, 42, models.ChannelPremium)
	if err != nil || !active {
		t.Fatalf("IsActive() = %v, %v; the grant must stand", active, err)
	}
	if len(h.alerter.subjects) != 1 {
		t.Errorf("alerts = %v, want one", h.alerter.subjects)
	}
	if h.messenger.count() != 1 || !strings.Contains(h.messenger.sent[0].text, "contact an operator") {
		t.Errorf("messages = %+v", h.messenger.sent)
	}
}

func TestRestartResumesPendingInvoices(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	before := newHarnessWithDB(t, db)
	inv := requestInvoice(t, before, 42, "BTC")

	after := newHarnessWithDB(t, db)
	loaded, err := after.registry.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded != 1 {
		t.Fatalf("Load() = %d, want 1", loaded)
	}
	got := after.registry.Snapshot()[0]
	if got.UserID != 42 || !got.Amount.Equal(inv.Amount) || got.Duration != inv.Duration {
		t.Errorf("reloaded = %+v, want %+v", got, inv)
	}

	after.provider.setStatus(inv.InvoiceID, cryptopay.StatusPaid)
	if stats := after.reconciler.ReconcileOnce(ctx); stats.Paid != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if n := after.countRows(t, "subscriptions"); n != 1 {
		t.Errorf("subscriptions = %d, want 1", n)
	}
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.reconciler.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.reconciler.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}
