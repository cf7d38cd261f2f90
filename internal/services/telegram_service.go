package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramService sends admin alerts to a Telegram chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	client      *http.Client
	log         *zap.Logger
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string, log *zap.Logger) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     telegramAPIBase,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends an HTML formatted message to chatID.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("telegram bot token not configured")
		return nil
	}

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		s.log.Debug("telegram admin chat not configured")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// FormatPrice renders an amount with thousand separators and two decimals.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "BDT"
	}

	fixed := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if amount.IsNegative() {
		b.WriteByte('-')
	}
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	b.WriteByte('.')
	b.WriteString(frac)

	return b.String() + " " + currency
}

// PaymentCompletion describes a settled payment for the admin chat.
type PaymentCompletion struct {
	InvoiceID     string
	InvoiceNumber string
	OrderID       string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	TransactionID string
	CustomerEmail string
}

// NotifyPaymentCompleted announces a completed payment.
func (s *TelegramService) NotifyPaymentCompleted(ctx context.Context, p PaymentCompletion) error {
	method := p.PaymentMethod
	if method == "" {
		method = "unknown"
	}

	message := fmt.Sprintf(`<b>Payment received</b>
<b>Invoice:</b> %s
<b>Gateway invoice:</b> %s
<b>Order:</b> %s
<b>Amount:</b> %s
<b>Method:</b> %s
<b>Transaction:</b> %s
<b>Customer:</b> %s`,
		html.EscapeString(p.InvoiceNumber),
		html.EscapeString(p.InvoiceID),
		html.EscapeString(p.OrderID),
		FormatPrice(p.Amount, p.Currency),
		html.EscapeString(method),
		html.EscapeString(p.TransactionID),
		html.EscapeString(p.CustomerEmail),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

// NotifyDomainFailure alerts staff that a registrar action failed.
func (s *TelegramService) NotifyDomainFailure(ctx context.Context, domain, action, reason string) error {
	message := fmt.Sprintf("<b>Registrar action failed</b>\n<b>Domain:</b> %s\n<b>Action:</b> %s\n<b>Error:</b> %s",
		html.EscapeString(domain),
		html.EscapeString(action),
		html.EscapeString(truncate(reason, 500)),
	)
	return s.SendToAdmin(ctx, message)
}
