package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"channelpass/internal/database"
	"channelpass/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUserRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("unknown user", func(t *testing.T) {
		user, err := repo.GetUserByID(ctx, 999)
		if err != nil || user != nil {
			t.Fatalf("GetUserByID() = %v, %v; want nil, nil", user, err)
		}
		balance, err := repo.GetBalance(ctx, 999)
		if err != nil || balance != 0 {
			t.Fatalf("GetBalance() = %d, %v; want 0, nil", balance, err)
		}
		if err := repo.AddBalance(ctx, 999, 10); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("AddBalance() = %v, want ErrUserNotFound", err)
		}
	})

	t.Run("ensure keeps balance", func(t *testing.T) {
		if err := repo.EnsureUser(ctx, 1, "alice", "Alice", now); err != nil {
			t.Fatalf("EnsureUser() error = %v", err)
		}
		if err := repo.AddBalance(ctx, 1, 500); err != nil {
			t.Fatalf("AddBalance() error = %v", err)
		}
		if err := repo.EnsureUser(ctx, 1, "", "", now); err != nil {
			t.Fatalf("EnsureUser() error = %v", err)
		}

		user, err := repo.GetUserByID(ctx, 1)
		if err != nil {
			t.Fatalf("GetUserByID() error = %v", err)
		}
		if user.Balance != 500 {
			t.Errorf("Balance = %d, want 500", user.Balance)
		}
		if user.Username != "alice" || user.FirstName != "Alice" {
			t.Errorf("profile = %q/%q, want alice/Alice", user.Username, user.FirstName)
		}
	})

	t.Run("conditional debit", func(t *testing.T) {
		ok, err := repo.DebitIfSufficient(ctx, 1, 501)
		if err != nil || ok {
			t.Fatalf("DebitIfSufficient(501) = %v, %v; want false, nil", ok, err)
		}
		ok, err = repo.DebitIfSufficient(ctx, 1, 500)
		if err != nil || !ok {
			t.Fatalf("DebitIfSufficient(500) = %v, %v; want true, nil", ok, err)
		}
		balance, _ := repo.GetBalance(ctx, 1)
		if balance != 0 {
			t.Errorf("balance = %d, want 0", balance)
		}
	})
}

func TestDebitIfSufficientConcurrent(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	if err := repo.EnsureUser(ctx, 7, "bob", "Bob", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := repo.AddBalance(ctx, 7, 1000); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.DebitIfSufficient(ctx, 7, 300)
			if err != nil {
				t.Errorf("DebitIfSufficient() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 3 {
		t.Errorf("applied debits = %d, want 3", applied)
	}
	balance, _ := repo.GetBalance(ctx, 7)
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
}

func TestTransactionRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := NewUserRepository(db).EnsureUser(ctx, 1, "alice", "Alice", base); err != nil {
		t.Fatal(err)
	}

	repo := NewTransactionRepository(db)
	for i, amount := range []int64{100, 200, -300} {
		kind := models.TransactionDeposit
		if amount < 0 {
			kind = models.TransactionSubscription
		}
		tr := &models.Transaction{
			UserID:    1,
			Type:      kind,
			Amount:    amount,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.CreateTransaction(ctx, tr); err != nil {
			t.Fatalf("CreateTransaction() error = %v", err)
		}
		if tr.ID == 0 {
			t.Error("CreateTransaction() did not set ID")
		}
	}

	latest, err := repo.ListByUser(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("ListByUser(limit 2) returned %d rows", len(latest))
	}
	if latest[0].Amount != -300 || latest[0].Type != models.TransactionSubscription {
		t.Errorf("newest = %+v, want the -300 subscription debit", latest[0])
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListAll() returned %d rows, want 3", len(all))
	}

	if err := repo.RecordCharge(ctx, "charge-a", 1, 500, all[0].ID, base); err != nil {
		t.Fatalf("RecordCharge() error = %v", err)
	}
	if err := repo.RecordCharge(ctx, "charge-a", 1, 500, all[1].ID, base); !errors.Is(err, ErrChargeRecorded) {
		t.Errorf("RecordCharge(duplicate) = %v, want ErrChargeRecorded", err)
	}
	charges, err := repo.ListCharges(ctx)
	if err != nil {
		t.Fatalf("ListCharges() error = %v", err)
	}
	if len(charges) != 1 || charges[0].ChargeID != "charge-a" || charges[0].TransactionID != all[0].ID {
		t.Errorf("ListCharges() = %+v", charges)
	}
}

func TestSubscriptionRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := NewUserRepository(db).EnsureUser(ctx, 1, "alice", "Alice", now); err != nil {
		t.Fatal(err)
	}

	repo := NewSubscriptionRepository(db)
	short, err := repo.CreateSubscription(ctx, 1, models.ChannelPremium, now.Add(time.Hour), now)
	if err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	if _, err := repo.CreateSubscription(ctx, 1, models.ChannelPremium, now.Add(48*time.Hour), now); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before expiry", now.Add(30 * time.Minute), true},
		{"after short expiry", now.Add(2 * time.Hour), true},
		{"exact long expiry", now.Add(48 * time.Hour), false},
		{"after long expiry", now.Add(49 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.HasActive(ctx, 1, models.ChannelPremium, tt.at)
			if err != nil {
				t.Fatalf("HasActive() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("HasActive() = %v, want %v", got, tt.want)
			}
		})
	}

	active, err := repo.ListActive(ctx, 1, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActive() returned %d rows, want 2", len(active))
	}
	if !active[0].ExpiresAt.After(active[1].ExpiresAt) {
		t.Error("ListActive() is not ordered by expiry descending")
	}
	if active[1].ID != short.ID {
		t.Errorf("last active ID = %d, want %d", active[1].ID, short.ID)
	}

	if _, err := repo.CreateSubscription(ctx, 1, models.ChannelPremium, now, now); err == nil {
		t.Error("CreateSubscription() with expires_at == created_at should fail")
	}
}

func TestInviteLinkRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewInviteLinkRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	link, err := repo.CreateInviteLink(ctx, 1, "https://t.me/+abc", now.Add(time.Hour), now)
	if err != nil {
		t.Fatalf("CreateInviteLink() error = %v", err)
	}
	if link.ID == 0 || link.Used {
		t.Errorf("CreateInviteLink() = %+v, want persisted unused link", link)
	}

	_, err = repo.CreateInviteLink(ctx, 2, "https://t.me/+abc", now.Add(time.Hour), now)
	if !errors.Is(err, ErrDuplicateInviteLink) {
		t.Fatalf("duplicate CreateInviteLink() = %v, want ErrDuplicateInviteLink", err)
	}

	stored, err := repo.GetByLink(ctx, "https://t.me/+abc")
	if err != nil {
		t.Fatalf("GetByLink() error = %v", err)
	}
	if stored.UserID != 1 {
		t.Errorf("stored owner = %d, want the first issuer", stored.UserID)
	}

	if err := repo.MarkUsed(ctx, "https://t.me/+abc", now); err != nil {
		t.Fatalf("MarkUsed() error = %v", err)
	}
	if err := repo.MarkUsed(ctx, "https://t.me/+abc", now); !errors.Is(err, ErrInviteLinkUsed) {
		t.Errorf("second MarkUsed() = %v, want ErrInviteLinkUsed", err)
	}
	if err := repo.MarkUsed(ctx, "https://t.me/+missing", now); !errors.Is(err, ErrInviteLinkNotFound) {
		t.Errorf("MarkUsed(unknown) = %v, want ErrInviteLinkNotFound", err)
	}

	links, err := repo.ListByUser(ctx, 1)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(links) != 1 || !links[0].Used || links[0].UsedAt == nil {
		t.Errorf("ListByUser() = %+v, want one used link with used_at", links)
	}
}

func TestInvoiceRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	inv := &models.PendingInvoice{
		InvoiceID:   42,
		UserID:      1,
		ChatID:      1,
		ChannelType: models.ChannelPremium,
		Duration:    30 * 24 * time.Hour,
		Asset:       "BTC",
		Amount:      decimal.RequireFromString("0.000266"),
		PayURL:      "https://pay.example/42",
		Status:      models.InvoicePending,
		CreatedAt:   now,
	}
	if err := repo.CreateInvoice(ctx, inv); err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}

	pending, err := repo.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("ListPending() returned %d rows, want 1", len(pending))
	}
	got := pending[0]
	if !got.Amount.Equal(inv.Amount) || got.Duration != inv.Duration || got.Asset != "BTC" {
		t.Errorf("round trip = %+v, want %+v", got, inv)
	}

	ok, err := repo.CompleteInvoice(ctx, 42, models.InvoicePaid, now)
	if err != nil || !ok {
		t.Fatalf("CompleteInvoice() = %v, %v; want true, nil", ok, err)
	}
	ok, err = repo.CompleteInvoice(ctx, 42, models.InvoiceExpired, now)
	if err != nil || ok {
		t.Fatalf("second CompleteInvoice() = %v, %v; want false, nil", ok, err)
	}

	stored, err := repo.GetInvoice(ctx, 42)
	if err != nil {
		t.Fatalf("GetInvoice() error = %v", err)
	}
	if stored.Status != models.InvoicePaid || stored.CompletedAt == nil {
		t.Errorf("stored = %+v, want paid with completed_at", stored)
	}

	pending, _ = repo.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("ListPending() after completion returned %d rows", len(pending))
	}
}
