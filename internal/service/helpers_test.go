package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"channelpass/internal/cryptopay"
	"channelpass/internal/database"
	"channelpass/internal/models"
	"channelpass/internal/repository"
	"channelpass/internal/security"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []InviteLinkRequest
	err      error
	next     int
}

func (g *fakeGateway) CreateInviteLink(ctx context.Context, req InviteLinkRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	g.next++
	return fmt.Sprintf("https://t.me/+invite%d", g.next), nil
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *fakeMessenger) Notify(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *fakeAlerter) AlertOperator(ctx context.Context, subject, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
}

type fakeProvider struct {
	mu        sync.Mutex
	statuses  map[int64]string
	errs      map[int64]error
	panics    map[int64]bool
	queries   map[int64]int
	created   []cryptopay.CreateInvoiceParams
	createErr error
	nextID    int64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		statuses: make(map[int64]string),
		errs:     make(map[int64]error),
		panics:   make(map[int64]bool),
		queries:  make(map[int64]int),
		nextID:   100,
	}
}

func (p *fakeProvider) CreateInvoice(ctx context.Context, params cryptopay.CreateInvoiceParams) (*cryptopay.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.nextID++
	p.created = append(p.created, params)
	p.statuses[p.nextID] = cryptopay.StatusActive
	return &cryptopay.Invoice{
		InvoiceID:     p.nextID,
		Status:        cryptopay.StatusActive,
		Asset:         params.Asset,
		Amount:        params.Amount,
		BotInvoiceURL: fmt.Sprintf("https://t.me/CryptoBot?start=IV%d", p.nextID),
	}, nil
}

func (p *fakeProvider) GetInvoiceStatus(ctx context.Context, invoiceID int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries[invoiceID]++
	if p.panics[invoiceID] {
		panic("provider exploded")
	}
	if err := p.errs[invoiceID]; err != nil {
		return "", err
	}
	status, ok := p.statuses[invoiceID]
	if !ok {
		return "", errors.New("unknown invoice")
	}
	return status, nil
}

func (p *fakeProvider) setStatus(invoiceID int64, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[invoiceID] = status
}

type fakeStars struct {
	payloads []string
	amounts  []int64
}

func (f *fakeStars) SendStarsInvoice(ctx context.Context, chatID int64, title, description, payload string, stars int64) error {
	f.payloads = append(f.payloads, payload)
	f.amounts = append(f.amounts, stars)
	return nil
}

// testClock is a manually advanced clock shared by every service in a harness
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	testChannelID = int64(-1001234567890)
	testAdminID   = int64(1)
)

func testCatalog() models.Catalog {
	return models.Catalog{
		models.ChannelFree: {
			Type: models.ChannelFree,
			Name: "Free channel",
			Link: "https://t.me/free",
		},
		models.ChannelPremium: {
			Type:       models.ChannelPremium,
			Name:       "Premium channel",
			PriceStars: 1000,
			PriceFiat:  decimal.NewFromInt(25),
			Duration:   30 * 24 * time.Hour,
		},
	}
}

type harness struct {
	db            *database.DB
	clock         *testClock
	gateway       *fakeGateway
	messenger     *fakeMessenger
	alerter       *fakeAlerter
	provider      *fakeProvider
	stars         *fakeStars
	rates         *RateTable
	ledger        *LedgerService
	subscriptions *SubscriptionService
	invites       *InviteService
	fulfiller     *Fulfiller
	registry      *InvoiceRegistry
	reconciler    *Reconciler
	payments      *PaymentService
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "service.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithDB(t, newTestDB(t))
}

func newHarnessWithDB(t *testing.T, db *database.DB) *harness {
	t.Helper()

	logger := zap.NewNop()
	catalog := testCatalog()
	h := &harness{
		db:        db,
		clock:     &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		gateway:   &fakeGateway{},
		messenger: &fakeMessenger{},
		alerter:   &fakeAlerter{},
		provider:  newFakeProvider(),
		stars:     &fakeStars{},
		rates:     NewRateTable("USD", DefaultRates()),
	}

	h.ledger = NewLedgerService(db, logger)
	h.ledger.now = h.clock.Now
	h.subscriptions = NewSubscriptionService(db, catalog, logger)
	h.subscriptions.now = h.clock.Now
	h.invites = NewInviteService(db, h.gateway, testChannelID, logger)
	h.invites.now = h.clock.Now
	h.fulfiller = NewFulfiller(h.invites, h.messenger, h.alerter, catalog, logger)
	h.registry = NewInvoiceRegistry(repository.NewInvoiceRepository(db))
	h.reconciler = NewReconciler(db, h.registry, h.provider, h.subscriptions, h.fulfiller, 30*time.Second, 2*time.Hour, logger)
	h.reconciler.now = h.clock.Now
	h.payments = NewPaymentService(db, h.ledger, h.subscriptions, h.fulfiller, h.registry, h.provider, h.stars,
		h.rates, security.NewRateLimiter(5, 10*time.Minute), catalog,
		PaymentConfig{AdminID: testAdminID, InvoiceExpiresIn: time.Hour}, logger)
	h.payments.now = h.clock.Now
	return h
}

func (h *harness) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := h.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
