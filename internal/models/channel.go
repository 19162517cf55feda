package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ChannelFree    = "free"
	ChannelPremium = "premium"
)

// Channel describes a channel a user can read or subscribe to
type Channel struct {
	Type        string
	Name        string
	Description string
	// Public link, only set for channels that need no invite
	Link       string
	PriceStars int64
	PriceFiat  decimal.Decimal
	Duration   time.Duration
}

// Catalog maps channel types to their definitions
type Catalog map[string]Channel

// DisplayName resolves a channel type to its human name
func (c Catalog) DisplayName(channelType string) string {
	if ch, ok := c[channelType]; ok {
		return ch.Name
	}
	return fmt.Sprintf("Channel (%s)", channelType)
}
