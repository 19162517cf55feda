package models

import "time"

// User represents a Telegram user known to the bot. Balance is measured in
// stars and is only ever changed by the ledger.
type User struct {
	ID        int64
	Username  string
	FirstName string
	Balance   int64
	CreatedAt time.Time
}
