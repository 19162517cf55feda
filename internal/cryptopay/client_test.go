package cryptopay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api/", "test-token", 2*time.Second)
}

func TestCreateInvoice(t *testing.T) {
	var got map[string]interface{}
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/createInvoice" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Crypto-Pay-API-Token") != "test-token" {
			t.Error("missing API token header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Write([]byte(`{"ok":true,"result":{"invoice_id":77,"status":"active","asset":"BTC","amount":"0.000266","bot_invoice_url":"https://t.me/CryptoBot?start=IV77"}}`))
	})

	inv, err := client.CreateInvoice(context.Background(), CreateInvoiceParams{
		Asset:       "BTC",
		Amount:      decimal.RequireFromString("0.000266"),
		Description: "Premium for 30 days",
		Payload:     "ref-1",
		ExpiresIn:   time.Hour,
	})
	if err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}

	if inv.InvoiceID != 77 || inv.Status != StatusActive {
		t.Errorf("invoice = %+v", inv)
	}
	if !inv.Amount.Equal(decimal.RequireFromString("0.000266")) {
		t.Errorf("Amount = %s", inv.Amount)
	}
	if inv.PaymentURL() != "https://t.me/CryptoBot?start=IV77" {
		t.Errorf("PaymentURL() = %q", inv.PaymentURL())
	}
	if got["amount"] != "0.000266" || got["asset"] != "BTC" || got["expires_in"] != float64(3600) {
		t.Errorf("request body = %v", got)
	}
}

func TestGetInvoiceStatus(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus string
		wantErr    bool
	}{
		{
			name:       "paid",
			body:       `{"ok":true,"result":{"items":[{"invoice_id":5,"status":"paid"}]}}`,
			wantStatus: StatusPaid,
		},
		{
			name:    "missing",
			body:    `{"ok":true,"result":{"items":[]}}`,
			wantErr: true,
		},
		{
			name:    "api error",
			body:    `{"ok":false,"error":{"code":401,"name":"UNAUTHORIZED"}}`,
			wantErr: true,
		},
		{
			name:    "malformed",
			body:    `<html>bad gateway</html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("invoice_ids") != "5" {
					t.Errorf("invoice_ids = %q", r.URL.Query().Get("invoice_ids"))
				}
				w.Write([]byte(tt.body))
			})

			status, err := client.GetInvoiceStatus(context.Background(), 5)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetInvoiceStatus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status, tt.wantStatus)
			}
		})
	}
}

func TestAPIErrorIsTyped(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error":{"code":400,"name":"AMOUNT_TOO_SMALL"}}`))
	})

	_, err := client.CreateInvoice(context.Background(), CreateInvoiceParams{Asset: "TON", Amount: decimal.NewFromInt(1)})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Name != "AMOUNT_TOO_SMALL" {
		t.Fatalf("error = %v, want *APIError AMOUNT_TOO_SMALL", err)
	}
}

func TestGetExchangeRates(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":[
			{"is_valid":true,"is_crypto":true,"source":"BTC","target":"USD","rate":"94000"},
			{"is_valid":false,"is_crypto":true,"source":"TON","target":"USD","rate":"0"}
		]}`))
	})

	rates, err := client.GetExchangeRates(context.Background())
	if err != nil {
		t.Fatalf("GetExchangeRates() error = %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("got %d rates, want 2", len(rates))
	}
	if rates[0].Source != "BTC" || !rates[0].Rate.Equal(decimal.NewFromInt(94000)) || !rates[0].IsValid {
		t.Errorf("rates[0] = %+v", rates[0])
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "t", 50*time.Millisecond)
	if _, err := client.GetInvoiceStatus(context.Background(), 1); err == nil {
		t.Fatal("expected timeout error")
	}
}
