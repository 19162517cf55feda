package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// assetPrecision is the number of decimal places an invoice amount is
// rounded to, per supported asset
var assetPrecision = map[string]int32{
	"USDT": 2,
	"TON":  2,
	"BTC":  6,
	"ETH":  4,
}

// SupportedAssets lists the assets invoices can be issued in
func SupportedAssets() []string {
	return []string{"USDT", "TON", "BTC", "ETH"}
}

// DefaultRates seeds the rate table until the first refresh succeeds
func DefaultRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"USDT": decimal.NewFromInt(1),
		"TON":  decimal.RequireFromString("5.5"),
		"BTC":  decimal.NewFromInt(94000),
		"ETH":  decimal.NewFromInt(3300),
	}
}

// QuoteAmount converts a fiat price into asset units at rate (fiat per
// unit), rounded half-up to the asset's precision
func QuoteAmount(price, rate decimal.Decimal, asset string) (decimal.Decimal, error) {
	places, ok := assetPrecision[strings.ToUpper(asset)]
	if !ok {
		return decimal.Zero, ErrUnsupportedAsset
	}
	if !rate.IsPositive() {
		return decimal.Zero, ErrRateUnavailable
	}
	return price.DivRound(rate, places+8).Round(places), nil
}

// RateTable holds the fiat price of one unit of each asset
type RateTable struct {
	mu        sync.RWMutex
	fiat      string
	rates     map[string]decimal.Decimal
	updatedAt time.Time
}

// NewRateTable creates a table for prices quoted in fiat
func NewRateTable(fiat string, seed map[string]decimal.Decimal) *RateTable {
	t := &RateTable{fiat: strings.ToUpper(fiat), rates: make(map[string]decimal.Decimal)}
	for asset, rate := range seed {
		t.rates[strings.ToUpper(asset)] = rate
	}
	return t
}

// Fiat returns the currency rates are quoted in
func (t *RateTable) Fiat() string {
	return t.fiat
}

// Rate returns the fiat price of one unit of asset
func (t *RateTable) Rate(asset string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rate, ok := t.rates[strings.ToUpper(asset)]
	return rate, ok && rate.IsPositive()
}

// Update merges fresh rates into the table
func (t *RateTable) Update(rates map[string]decimal.Decimal, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for asset, rate := range rates {
		t.rates[strings.ToUpper(asset)] = rate
	}
	t.updatedAt = at
}

// UpdatedAt returns when the table was last refreshed
func (t *RateTable) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}

// RatesRefresher periodically pulls exchange rates into a RateTable
type RatesRefresher struct {
	source   RateSource
	table    *RateTable
	interval time.Duration
	logger   *zap.Logger
}

// NewRatesRefresher creates a refresher polling source every interval
func NewRatesRefresher(source RateSource, table *RateTable, interval time.Duration, logger *zap.Logger) *RatesRefresher {
	return &RatesRefresher{source: source, table: table, interval: interval, logger: logger}
}

// Run refreshes immediately and then every interval until ctx is cancelled
func (r *RatesRefresher) Run(ctx context.Context) {
	r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

// Refresh performs one update. On failure the previous rates are kept.
func (r *RatesRefresher) Refresh(ctx context.Context) error {
	rates, err := r.source.GetExchangeRates(ctx)
	if err != nil {
		r.logger.Warn("exchange rate refresh failed", zap.Error(err))
		return err
	}

	fresh := make(map[string]decimal.Decimal)
	for _, rate := range rates {
		if !rate.IsValid || !strings.EqualFold(rate.Target, r.table.Fiat()) {
			continue
		}
		asset := strings.ToUpper(rate.Source)
		if _, ok := assetPrecision[asset]; ok && rate.Rate.IsPositive() {
			fresh[asset] = rate.Rate
		}
	}

	r.table.Update(fresh, time.Now())
	r.logger.Debug("exchange rates refreshed", zap.Int("assets", len(fresh)))
	return nil
}
