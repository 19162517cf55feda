package models

import "time"

type TransactionType string

const (
	TransactionDeposit      TransactionType = "deposit"
	TransactionSubscription TransactionType = "subscription"
)

// Transaction is an immutable audit record of one balance change.
// Amount is signed: deposits are positive, subscription debits negative.
type Transaction struct {
	ID          int64
	UserID      int64
	Type        TransactionType
	Amount      int64
	Description string
	CreatedAt   time.Time
}

// StarsPayment links a Telegram payment charge to the deposit it produced
type StarsPayment struct {
	ChargeID      string
	UserID        int64
	Amount        int64
	TransactionID int64
	CreatedAt     time.Time
}
