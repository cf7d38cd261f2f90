package services

import "context"

// Notifier delivers customer and staff notifications. Callers treat failures as non-fatal.
type Notifier interface {
	OrderConfirmation(ctx context.Context, n OrderConfirmation) error
	PaymentCompleted(ctx context.Context, n PaymentCompletion) error
	DomainFailure(ctx context.Context, domain, action, reason string) error
}

// NotificationService routes customer mail through the mail function and staff alerts to Telegram.
type NotificationService struct {
	mail     *MailService
	telegram *TelegramService
}

func NewNotificationService(mail *MailService, telegram *TelegramService) *NotificationService {
	return &NotificationService{mail: mail, telegram: telegram}
}

func (n *NotificationService) OrderConfirmation(ctx context.Context, c OrderConfirmation) error {
	if n.mail == nil {
		return nil
	}
	return n.mail.SendOrderConfirmation(ctx, c)
}

func (n *NotificationService) PaymentCompleted(ctx context.Context, p PaymentCompletion) error {
	if n.telegram == nil {
		return nil
	}
	return n.telegram.NotifyPaymentCompleted(ctx, p)
}

func (n *NotificationService) DomainFailure(ctx context.Context, domain, action, reason string) error {
	if n.telegram == nil {
		return nil
	}
	return n.telegram.NotifyDomainFailure(ctx, domain, action, reason)
}
