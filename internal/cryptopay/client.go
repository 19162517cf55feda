// Package cryptopay is a small client for the Crypto Pay API used to bill
// subscriptions in crypto assets.
package cryptopay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice statuses reported by the API
const (
	StatusActive  = "active"
	StatusPaid    = "paid"
	StatusExpired = "expired"
)

// Invoice is the subset of the API invoice object the bot relies on
type Invoice struct {
	InvoiceID     int64           `json:"invoice_id"`
	Status        string          `json:"status"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	PayURL        string          `json:"pay_url"`
	BotInvoiceURL string          `json:"bot_invoice_url"`
	Payload       string          `json:"payload"`
}

// PaymentURL returns the link the payer should open
func (i *Invoice) PaymentURL() string {
	if i.BotInvoiceURL != "" {
		return i.BotInvoiceURL
	}
	return i.PayURL
}

// CreateInvoiceParams describes a new invoice
type CreateInvoiceParams struct {
	Asset       string
	Amount      decimal.Decimal
	Description string
	Payload     string
	ExpiresIn   time.Duration
}

// ExchangeRate is one source/target pair from getExchangeRates
type ExchangeRate struct {
	IsValid  bool            `json:"is_valid"`
	IsCrypto bool            `json:"is_crypto"`
	Source   string          `json:"source"`
	Target   string          `json:"target"`
	Rate     decimal.Decimal `json:"rate"`
}

// APIError is returned when the API answers with ok=false
type APIError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crypto pay error %d: %s", e.Code, e.Name)
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *APIError       `json:"error"`
}

// Client talks to the Crypto Pay HTTP API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client. Every request is bounded by timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateInvoice opens a new invoice payable in params.Asset
func (c *Client) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	body := map[string]interface{}{
		"asset":           params.Asset,
		"amount":          params.Amount.String(),
		"description":     params.Description,
		"payload":         params.Payload,
		"allow_comments":  false,
		"allow_anonymous": false,
	}
	if params.ExpiresIn > 0 {
		body["expires_in"] = int(params.ExpiresIn / time.Second)
	}

	var invoice Invoice
	if err := c.call(ctx, http.MethodPost, "createInvoice", nil, body, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetInvoice fetches a single invoice by ID
func (c *Client) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	query := url.Values{"invoice_ids": {strconv.FormatInt(invoiceID, 10)}}

	var result struct {
		Items []Invoice `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, "getInvoices", query, nil, &result); err != nil {
		return nil, err
	}
	for i := range result.Items {
		if result.Items[i].InvoiceID == invoiceID {
			return &result.Items[i], nil
		}
	}
	return nil, fmt.Errorf("invoice %d not found", invoiceID)
}

// GetInvoiceStatus returns the provider-side status of an invoice
func (c *Client) GetInvoiceStatus(ctx context.Context, invoiceID int64) (string, error) {
	invoice, err := c.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	return invoice.Status, nil
}

// GetExchangeRates lists the current conversion rates
func (c *Client) GetExchangeRates(ctx context.Context) ([]ExchangeRate, error) {
	var rates []ExchangeRate
	if err := c.call(ctx, http.MethodGet, "getExchangeRates", nil, nil, &rates); err != nil {
		return nil, err
	}
	return rates, nil
}

func (c *Client) call(ctx context.Context, method, apiMethod string, query url.Values, body interface{}, out interface{}) error {
	endpoint := c.baseURL + "/" + apiMethod
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", apiMethod, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", apiMethod, err)
	}
	req.Header.Set("Crypto-Pay-API-Token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", apiMethod, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", apiMethod, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("malformed %s response (HTTP %d): %w", apiMethod, resp.StatusCode, err)
	}
	if !env.OK {
		if env.Error != nil {
			return env.Error
		}
		return fmt.Errorf("%s failed with HTTP %d", apiMethod, resp.StatusCode)
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("malformed %s result: %w", apiMethod, err)
	}
	return nil
}
