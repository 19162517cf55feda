package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceExpired InvoiceStatus = "expired"
)

// PendingInvoice tracks a crypto invoice until it is paid or abandoned
type PendingInvoice struct {
	InvoiceID   int64
	UserID      int64
	ChatID      int64
	ChannelType string
	Duration    time.Duration
	Asset       string
	Amount      decimal.Decimal
	PayURL      string
	Status      InvoiceStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// IsAbandonedAt reports whether the invoice outlived ttl without being paid
func (p *PendingInvoice) IsAbandonedAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.CreatedAt) > ttl
}
