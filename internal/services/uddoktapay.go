package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/hostcore/internal/metrics"
)

// UddoktaPayAPIKeyHeader authenticates calls in both directions.
const UddoktaPayAPIKeyHeader = "RT-UDDOKTAPAY-API-KEY"

// PaymentGateway creates checkout sessions and reports authoritative payment status.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	VerifyPayment(ctx context.Context, invoiceID string) (*GatewayPayment, error)
}

// ChargeRequest is a checkout session request.
type ChargeRequest struct {
	FullName    string            `json:"full_name"`
	Email       string            `json:"email"`
	Amount      decimal.Decimal   `json:"amount"`
	Metadata    map[string]string `json:"metadata"`
	RedirectURL string            `json:"redirect_url"`
	ReturnType  string            `json:"return_type"`
	CancelURL   string            `json:"cancel_url"`
	WebhookURL  string            `json:"webhook_url"`
}

// ChargeResult is the gateway's answer to a checkout request.
type ChargeResult struct {
	PaymentURL string
	InvoiceID  string
}

// Amount decodes gateway money fields sent either as numbers or numeric strings.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a.Decimal = d
	return nil
}

// GatewayPayment is the payment shape sent by webhooks and returned by verification.
type GatewayPayment struct {
	FullName      string         `json:"full_name"`
	Email         string         `json:"email"`
	Amount        Amount         `json:"amount"`
	Fee           Amount         `json:"fee"`
	ChargedAmount Amount         `json:"charged_amount"`
	InvoiceID     string         `json:"invoice_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PaymentMethod string         `json:"payment_method"`
	SenderNumber  string         `json:"sender_number"`
	TransactionID string         `json:"transaction_id"`
	Date          string         `json:"date"`
	Status        string         `json:"status"`
}

// UddoktaPayClient talks to the UddoktaPay checkout API.
type UddoktaPayClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewUddoktaPayClient builds a client with the given request timeout.
func NewUddoktaPayClient(baseURL, apiKey string, timeout time.Duration) *UddoktaPayClient {
	return &UddoktaPayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type checkoutResponse struct {
	Status     bool   `json:"status"`
	Message    string `json:"message"`
	PaymentURL string `json:"payment_url"`
	InvoiceID  string `json:"invoice_id"`
}

func (c *UddoktaPayClient) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.ReturnType == "" {
		req.ReturnType = "GET"
	}

	var resp checkoutResponse
	if err := c.post(ctx, "checkout", "/api/checkout-v2", req, &resp); err != nil {
		return nil, err
	}

	if resp.PaymentURL == "" {
		if resp.Message != "" {
			return nil, fmt.Errorf("uddoktapay checkout rejected: %s", resp.Message)
		}
		return nil, errors.New("uddoktapay checkout returned no payment url")
	}

	invoiceID := resp.InvoiceID
	if invoiceID == "" {
		invoiceID = invoiceIDFromURL(resp.PaymentURL)
	}
	if invoiceID == "" {
		return nil, fmt.Errorf("cannot derive invoice id from payment url %q", resp.PaymentURL)
	}

	return &ChargeResult{PaymentURL: resp.PaymentURL, InvoiceID: invoiceID}, nil
}

func (c *UddoktaPayClient) VerifyPayment(ctx context.Context, invoiceID string) (*GatewayPayment, error) {
	var resp GatewayPayment
	body := map[string]string{"invoice_id": invoiceID}
	if err := c.post(ctx, "verify", "/api/verify-payment", body, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, errors.New("uddoktapay verify returned no status")
	}
	if resp.InvoiceID == "" {
		resp.InvoiceID = invoiceID
	}
	return &resp, nil
}

func (c *UddoktaPayClient) post(ctx context.Context, operation, endpoint string, payload, out any) error {
	started := time.Now()
	defer func() {
		metrics.GatewayRequestDuration.WithLabelValues("uddoktapay_" + operation).Observe(time.Since(started).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(UddoktaPayAPIKeyHeader, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("uddoktapay %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("uddoktapay %s read body: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("uddoktapay %s returned status %d: %s", operation, resp.StatusCode, truncate(string(raw), 256))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("uddoktapay %s decode: %w", operation, err)
	}
	return nil
}

func invoiceIDFromURL(paymentURL string) string {
	u, err := url.Parse(paymentURL)
	if err != nil {
		return ""
	}
	last := path.Base(strings.TrimRight(u.Path, "/"))
	if last == "." || last == "/" {
		return ""
	}
	return last
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
