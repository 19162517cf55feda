package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"channelpass/internal/cryptopay"
)

func TestQuoteAmount(t *testing.T) {
	tests := []struct {
		price   string
		rate    string
		asset   string
		want    string
		wantErr error
	}{
		{price: "25", rate: "94000", asset: "BTC", want: "0.000266"},
		{price: "25", rate: "3300", asset: "ETH", want: "0.0076"},
		{price: "25", rate: "5.5", asset: "TON", want: "4.55"},
		{price: "10", rate: "3", asset: "USDT", want: "3.33"},
		{price: "0.005", rate: "1", asset: "USDT", want: "0.01"}, // half rounds up
		{price: "25", rate: "0", asset: "BTC", wantErr: ErrRateUnavailable},
		{price: "25", rate: "1", asset: "XRP", wantErr: ErrUnsupportedAsset},
	}

	for _, tt := range tests {
		t.Run(tt.asset+"_"+tt.price+"_"+tt.rate, func(t *testing.T) {
			got, err := QuoteAmount(decimal.RequireFromString(tt.price), decimal.RequireFromString(tt.rate), tt.asset)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("QuoteAmount() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("QuoteAmount() = %s, want %s", got, tt.want)
			}
		})
	}
}

type fakeRateSource struct {
	rates []cryptopay.ExchangeRate
	err   error
}

func (f *fakeRateSource) GetExchangeRates(ctx context.Context) ([]cryptopay.ExchangeRate, error) {
	return f.rates, f.err
}

func TestRatesRefresher(t *testing.T) {
	table := NewRateTable("USD", DefaultRates())
	source := &fakeRateSource{rates: []cryptopay.ExchangeRate{
		{IsValid: true, Source: "BTC", Target: "USD", Rate: decimal.NewFromInt(100000)},
		{IsValid: true, Source: "BTC", Target: "EUR", Rate: decimal.NewFromInt(1)},
		{IsValid: false, Source: "ETH", Target: "USD", Rate: decimal.NewFromInt(1)},
		{IsValid: true, Source: "DOGE", Target: "USD", Rate: decimal.NewFromInt(1)},
	}}
	refresher := NewRatesRefresher(source, table, 0, zap.NewNop())

	if err := refresher.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if rate, _ := table.Rate("btc"); !rate.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("BTC = %s, want 100000", rate)
	}
	if rate, _ := table.Rate("ETH"); !rate.Equal(decimal.NewFromInt(3300)) {
		t.Errorf("ETH = %s, an invalid quote replaced the seed", rate)
	}
	if _, ok := table.Rate("DOGE"); ok {
		t.Error("unsupported asset entered the table")
	}
	if table.UpdatedAt().IsZero() {
		t.Error("UpdatedAt not set")
	}

	source.err = errors.New("unavailable")
	source.rates = nil
	if err := refresher.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() should report the source error")
	}
	if rate, _ := table.Rate("BTC"); !rate.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("BTC = %s, previous rate not kept", rate)
	}
}
