package service

import (
	"context"
	"sort"
	"sync"

	"channelpass/internal/models"
	"channelpass/internal/monitoring"
	"channelpass/internal/repository"
)

// InvoiceRegistry is the set of crypto invoices awaiting payment. The map is
// the working copy; every entry is also persisted so Load can rebuild it
// after a restart.
type InvoiceRegistry struct {
	mu      sync.Mutex
	entries map[int64]models.PendingInvoice
	repo    *repository.InvoiceRepository
}

// NewInvoiceRegistry creates an empty registry backed by repo
func NewInvoiceRegistry(repo *repository.InvoiceRepository) *InvoiceRegistry {
	return &InvoiceRegistry{
		entries: make(map[int64]models.PendingInvoice),
		repo:    repo,
	}
}

// Load replaces the registry contents with the persisted pending invoices
func (r *InvoiceRegistry) Load(ctx context.Context) (int, error) {
	pending, err := r.repo.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[int64]models.PendingInvoice, len(pending))
	for _, inv := range pending {
		r.entries[inv.InvoiceID] = inv
	}
	monitoring.PendingInvoices.Set(float64(len(r.entries)))
	return len(r.entries), nil
}

// Add persists inv and starts tracking it
func (r *InvoiceRegistry) Add(ctx context.Context, inv models.PendingInvoice) error {
	inv.Status = models.InvoicePending
	if err := r.repo.CreateInvoice(ctx, &inv); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[inv.InvoiceID] = inv
	monitoring.PendingInvoices.Set(float64(len(r.entries)))
	return nil
}

// Snapshot returns a copy of the tracked invoices, oldest first
func (r *InvoiceRegistry) Snapshot() []models.PendingInvoice {
	r.mu.Lock()
	out := make([]models.PendingInvoice, 0, len(r.entries))
	for _, inv := range r.entries {
		out = append(out, inv)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InvoiceID < out[j].InvoiceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Take removes and returns the invoice. Only one caller can win the claim
// for a given ID; the rest get false.
func (r *InvoiceRegistry) Take(invoiceID int64) (models.PendingInvoice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.entries[invoiceID]
	if ok {
		delete(r.entries, invoiceID)
		monitoring.PendingInvoices.Set(float64(len(r.entries)))
	}
	return inv, ok
}

// Restore puts back an invoice whose claim could not be completed
func (r *InvoiceRegistry) Restore(inv models.PendingInvoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[inv.InvoiceID] = inv
	monitoring.PendingInvoices.Set(float64(len(r.entries)))
}

// Len returns the number of tracked invoices
func (r *InvoiceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
