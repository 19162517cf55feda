package service

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidDuration   = errors.New("duration must be positive")
	ErrUnknownChannel    = errors.New("unknown channel")
	ErrUnsupportedAsset  = errors.New("unsupported asset")
	ErrRateUnavailable   = errors.New("exchange rate unavailable")
	ErrRateLimited       = errors.New("too many invoice requests")
	ErrNotAdmin          = errors.New("admin privileges required")
	ErrGatewayFailure    = errors.New("channel gateway failure")
	ErrProviderQuery     = errors.New("payment provider query failed")
	ErrInvoiceSettled    = errors.New("invoice already settled")

	ErrPaymentAlreadyCredited = errors.New("payment already credited")
)

// GatewayFailure is returned when the channel membership gateway could not
// create an invite link. Any grant made before the call still stands.
type GatewayFailure struct {
	UserID int64
	Err    error
}

func (e *GatewayFailure) Error() string {
	return fmt.Sprintf("invite link for user %d: %v", e.UserID, e.Err)
}

func (e *GatewayFailure) Unwrap() error { return e.Err }

func (e *GatewayFailure) Is(target error) bool { return target == ErrGatewayFailure }

// ProviderQueryFailure wraps a failed invoice status lookup. The reconciler
// keeps the invoice and retries it next cycle.
type ProviderQueryFailure struct {
	InvoiceID int64
	Err       error
}

func (e *ProviderQueryFailure) Error() string {
	return fmt.Sprintf("status of invoice %d: %v", e.InvoiceID, e.Err)
}

func (e *ProviderQueryFailure) Unwrap() error { return e.Err }

func (e *ProviderQueryFailure) Is(target error) bool { return target == ErrProviderQuery }
