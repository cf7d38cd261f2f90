package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// MailService calls the external mail-sending function.
type MailService struct {
	functionURL string
	functionKey string
	client      *http.Client
}

// NewMailService builds a MailService. An empty URL disables sending.
func NewMailService(functionURL, functionKey string, timeout time.Duration) *MailService {
	return &MailService{
		functionURL: functionURL,
		functionKey: functionKey,
		client:      &http.Client{Timeout: timeout},
	}
}

// OrderConfirmation is the data sent with the order-confirmation email.
type OrderConfirmation struct {
	OrderID       string          `json:"orderId"`
	InvoiceID     string          `json:"invoiceId"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	ItemName      string          `json:"itemName"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentURL    string          `json:"paymentUrl"`
}

type mailRequest struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Data any    `json:"data"`
}

// SendOrderConfirmation posts an order_confirmation email request.
func (s *MailService) SendOrderConfirmation(ctx context.Context, n OrderConfirmation) error {
	return s.send(ctx, mailRequest{Type: "order_confirmation", To: n.CustomerEmail, Data: n})
}

func (s *MailService) send(ctx context.Context, payload mailRequest) error {
	if s.functionURL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.functionURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.functionKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.functionKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail function request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail function returned status %d", resp.StatusCode)
	}
	return nil
}
