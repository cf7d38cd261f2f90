package services_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/hostcore/internal/events"
	"github.com/example/hostcore/internal/mocks"
	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/services"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type paymentFixture struct {
	svc       *services.PaymentService
	store     *mocks.Store
	gateway   *mocks.MockGateway
	notifier  *mocks.MockNotifier
	publisher *mocks.MockPublisher
	archive   *mocks.MockArchive
}

func newPaymentFixture(t *testing.T, withArchive bool) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		store:     mocks.NewStore(),
		gateway:   new(mocks.MockGateway),
		notifier:  new(mocks.MockNotifier),
		publisher: new(mocks.MockPublisher),
	}
	f.store.Now = func() time.Time { return fixedNow }

	deps := services.PaymentDeps{
		Payments:      f.store,
		Orders:        f.store,
		Webhooks:      f.store,
		Gateway:       f.gateway,
		Notifier:      f.notifier,
		Publisher:     f.publisher,
		WebhookSecret: "secret",
		Log:           zap.NewNop(),
		Clock:         func() time.Time { return fixedNow },
		Dispatch:      mocks.Inline,
	}
	if withArchive {
		f.archive = new(mocks.MockArchive)
		deps.Archive = f.archive
	}
	f.svc = services.NewPaymentService(deps)
	return f
}

func (f *paymentFixture) seedPayment(t *testing.T, userID uuid.UUID, orderRef, invoiceID string) {
	t.Helper()
	require.NoError(t, f.store.CreatePayment(context.Background(), &models.Payment{
		OrderID:   orderRef,
		UserID:    userID,
		InvoiceID: invoiceID,
		Amount:    decimal.NewFromInt(500),
		Status:    models.PaymentStatusPending,
	}))
}

func (f *paymentFixture) seedOrder(t *testing.T, userID uuid.UUID) *models.Order {
	t.Helper()
	order := &models.Order{
		UserID:   userID,
		Status:   models.OrderStatusPending,
		ItemName: "Starter hosting",
		ItemType: "hosting",
		Amount:   decimal.NewFromInt(500),
		Currency: "BDT",
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), order))
	return order
}

func requireServiceError(t *testing.T, err error, status int) *services.ServiceError {
	t.Helper()
	require.Error(t, err)
	se, ok := services.AsServiceError(err)
	require.True(t, ok, "expected ServiceError, got %v", err)
	assert.Equal(t, status, se.Status)
	return se
}

func TestMapGatewayStatus(t *testing.T) {
	tests := map[string]string{
		"COMPLETED": models.PaymentStatusCompleted,
		"completed": models.PaymentStatusCompleted,
		"PENDING":   models.PaymentStatusPending,
		"ERROR":     models.PaymentStatusFailed,
		"":          models.PaymentStatusFailed,
	}
	for in, want := range tests {
		assert.Equal(t, want, services.MapGatewayStatus(in), in)
	}
}

func TestPaymentService_Initiate(t *testing.T) {
	userID := uuid.New()

	t.Run("records pending payment and returns checkout url", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.gateway.On("CreateCharge", mock.Anything, mock.MatchedBy(func(r services.ChargeRequest) bool {
			return r.Metadata["order_id"] == "o1" && r.Amount.Equal(decimal.NewFromInt(500))
		})).Return(&services.ChargeResult{PaymentURL: "https://pay/x", InvoiceID: "inv1"}, nil)
		f.notifier.On("OrderConfirmation", mock.Anything, mock.MatchedBy(func(n services.OrderConfirmation) bool {
			return n.InvoiceID == "inv1" && n.CustomerEmail == "a@b.c"
		})).Return(nil)

		res, err := f.svc.Initiate(context.Background(), userID, services.InitiatePaymentRequest{
			OrderID:       "o1",
			Amount:        decimal.NewFromInt(500),
			CustomerName:  "A",
			CustomerEmail: "a@b.c",
			ItemName:      "Starter hosting",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://pay/x", res.PaymentURL)
		assert.Equal(t, "inv1", res.InvoiceID)

		stored := f.store.PaymentByInvoice("inv1")
		require.NotNil(t, stored)
		assert.Equal(t, models.PaymentStatusPending, stored.Status)
		assert.Equal(t, "o1", stored.OrderID)
		assert.Equal(t, userID, stored.UserID)
		f.notifier.AssertExpectations(t)
	})

	t.Run("mail failure does not fail the request", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.gateway.On("CreateCharge", mock.Anything, mock.Anything).
			Return(&services.ChargeResult{PaymentURL: "https://pay/y", InvoiceID: "inv2"}, nil)
		f.notifier.On("OrderConfirmation", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

		res, err := f.svc.Initiate(context.Background(), userID, services.InitiatePaymentRequest{
			OrderID: "o2", Amount: decimal.NewFromInt(10), CustomerName: "A", CustomerEmail: "a@b.c", ItemName: "x",
		})
		require.NoError(t, err)
		assert.Equal(t, "inv2", res.InvoiceID)
	})

	t.Run("payment insert failure still returns checkout url", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.store.FailOn("CreatePayment", errors.New("db down"))
		f.gateway.On("CreateCharge", mock.Anything, mock.Anything).
			Return(&services.ChargeResult{PaymentURL: "https://pay/z", InvoiceID: "inv3"}, nil)
		f.notifier.On("OrderConfirmation", mock.Anything, mock.Anything).Return(nil)

		res, err := f.svc.Initiate(context.Background(), userID, services.InitiatePaymentRequest{
			OrderID: "o3", Amount: decimal.NewFromInt(10), CustomerName: "A", CustomerEmail: "a@b.c", ItemName: "x",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://pay/z", res.PaymentURL)
		assert.Nil(t, f.store.PaymentByInvoice("inv3"))
	})

	t.Run("gateway failure", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.gateway.On("CreateCharge", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

		_, err := f.svc.Initiate(context.Background(), userID, services.InitiatePaymentRequest{
			OrderID: "o4", Amount: decimal.NewFromInt(10), CustomerName: "A", CustomerEmail: "a@b.c", ItemName: "x",
		})
		se := requireServiceError(t, err, http.StatusInternalServerError)
		assert.Equal(t, "failed to create payment", se.Message)
		assert.Empty(t, f.store.Payments)
	})

	t.Run("stored order must be the caller's, pending and fully paid", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		own := f.seedOrder(t, userID)
		foreign := f.seedOrder(t, uuid.New())
		cancelled := f.seedOrder(t, userID)
		f.store.Orders[cancelled.ID].Status = models.OrderStatusCancelled

		cases := []struct {
			name    string
			orderID string
			amount  int64
			status  int
		}{
			{"another user's order", foreign.ID.String(), 500, http.StatusForbidden},
			{"cancelled order", cancelled.ID.String(), 500, http.StatusBadRequest},
			{"underpaid order", own.ID.String(), 1, http.StatusBadRequest},
			{"unknown order", uuid.NewString(), 500, http.StatusNotFound},
		}
		for _, tc := range cases {
			_, err := f.svc.Initiate(context.Background(), userID, services.InitiatePaymentRequest{
				OrderID: tc.orderID, Amount: decimal.NewFromInt(tc.amount), CustomerName: "A", CustomerEmail: "a@b.c", ItemName: "x",
			})
			requireServiceError(t, err, tc.status)
		}
		f.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)

		f.gateway.On("CreateCharge", mock.Anything, mock.Anything).
			Return(&services.ChargeResult{PaymentURL: "https://pay/o", InvoiceID: "inv-own"}, nil)
		f.notifier.On("OrderConfirmation", mock.Anything, mock.Anything).Return(nil)
		res, err := f.svc.Initiate(context.Background(), userID, services.InitiatePaymentRequest{
			OrderID: own.ID.String(), Amount: decimal.NewFromInt(500), CustomerName: "A", CustomerEmail: "a@b.c", ItemName: "x",
		})
		require.NoError(t, err)
		assert.Equal(t, "inv-own", res.InvoiceID)
	})

	t.Run("validation", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		cases := []services.InitiatePaymentRequest{
			{Amount: decimal.NewFromInt(10), CustomerName: "A", CustomerEmail: "a@b.c", ItemName: "x"},
			{OrderID: "o", Amount: decimal.Zero, CustomerName: "A", CustomerEmail: "a@b.c", ItemName: "x"},
			{OrderID: "o", Amount: decimal.NewFromInt(10), CustomerName: "A", CustomerEmail: "nope", ItemName: "x"},
		}
		for _, req := range cases {
			_, err := f.svc.Initiate(context.Background(), userID, req)
			requireServiceError(t, err, http.StatusBadRequest)
		}
		f.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	})
}

func completedBody(invoiceID string) []byte {
	return []byte(`{"full_name":"A","email":"a@b.c","amount":"500.00","fee":"0.00","charged_amount":"500.00",` +
		`"invoice_id":"` + invoiceID + `","payment_method":"bkash","sender_number":"01700000000",` +
		`"transaction_id":"TX1","date":"2026-10-19 12:00:00","status":"COMPLETED"}`)
}

func TestPaymentService_HandleWebhook(t *testing.T) {
	userID := uuid.New()

	t.Run("completed settles payment, order and one invoice", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		order := f.seedOrder(t, userID)
		f.seedPayment(t, userID, order.ID.String(), "inv1")
		f.publisher.On("Publish", mock.Anything, events.PaymentCompleted, mock.Anything).Return(nil)
		f.notifier.On("PaymentCompleted", mock.Anything, mock.MatchedBy(func(p services.PaymentCompletion) bool {
			return p.InvoiceID == "inv1" && strings.HasPrefix(p.InvoiceNumber, "INV-20261019-")
		})).Return(nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), completedBody("inv1")))

		payment := f.store.PaymentByInvoice("inv1")
		assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
		assert.Equal(t, "TX1", payment.TransactionID)
		assert.Equal(t, "bkash", payment.PaymentMethod)
		require.NotNil(t, payment.PaidAt)

		storedOrder, err := f.store.FindOrder(context.Background(), order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusCompleted, storedOrder.Status)
		require.NotNil(t, storedOrder.ExpiryDate)
		assert.True(t, storedOrder.ExpiryDate.Equal(fixedNow.AddDate(1, 0, 0)))

		invoices := f.store.InvoicesForPayment(payment.ID)
		require.Len(t, invoices, 1)
		assert.Equal(t, models.InvoiceStatusPaid, invoices[0].Status)

		logs := f.store.WebhookLogList()
		require.Len(t, logs, 1)
		assert.Equal(t, models.WebhookStatusProcessed, logs[0].Status)
		assert.Equal(t, "inv1", logs[0].InvoiceID)

		t.Run("redelivery creates no second invoice", func(t *testing.T) {
			require.NoError(t, f.svc.HandleWebhook(context.Background(), completedBody("inv1")))

			assert.Len(t, f.store.InvoicesForPayment(payment.ID), 1)
			f.publisher.AssertNumberOfCalls(t, "Publish", 1)
			f.notifier.AssertNumberOfCalls(t, "PaymentCompleted", 1)

			logs := f.store.WebhookLogList()
			require.Len(t, logs, 2)
			notes := []string{logs[0].Note, logs[1].Note}
			assert.Contains(t, notes, "already completed")
		})
	})

	t.Run("settlement leaves foreign and cancelled orders alone", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		foreign := f.seedOrder(t, uuid.New())
		cancelled := f.seedOrder(t, userID)
		f.store.Orders[cancelled.ID].Status = models.OrderStatusCancelled
		f.seedPayment(t, userID, foreign.ID.String(), "inv-foreign")
		f.seedPayment(t, userID, cancelled.ID.String(), "inv-cancelled")
		f.publisher.On("Publish", mock.Anything, events.PaymentCompleted, mock.Anything).Return(nil)
		f.notifier.On("PaymentCompleted", mock.Anything, mock.Anything).Return(nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), completedBody("inv-foreign")))
		require.NoError(t, f.svc.HandleWebhook(context.Background(), completedBody("inv-cancelled")))

		assert.Equal(t, models.PaymentStatusCompleted, f.store.PaymentByInvoice("inv-foreign").Status)
		assert.Equal(t, models.OrderStatusPending, f.store.Orders[foreign.ID].Status)
		assert.Nil(t, f.store.Orders[foreign.ID].ExpiryDate)
		assert.Equal(t, models.OrderStatusCancelled, f.store.Orders[cancelled.ID].Status)
	})

	t.Run("unparsable order reference skips order completion", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.seedPayment(t, userID, "o1", "inv1")
		f.publisher.On("Publish", mock.Anything, events.PaymentCompleted, mock.Anything).Return(nil)
		f.notifier.On("PaymentCompleted", mock.Anything, mock.Anything).Return(nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), completedBody("inv1")))

		payment := f.store.PaymentByInvoice("inv1")
		assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
		assert.Len(t, f.store.InvoicesForPayment(payment.ID), 1)
	})

	t.Run("failed status creates no invoice", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.seedPayment(t, userID, "o1", "inv9")
		f.publisher.On("Publish", mock.Anything, events.PaymentFailed, mock.Anything).Return(nil)

		body := []byte(`{"invoice_id":"inv9","status":"ERROR","amount":500}`)
		require.NoError(t, f.svc.HandleWebhook(context.Background(), body))

		payment := f.store.PaymentByInvoice("inv9")
		assert.Equal(t, models.PaymentStatusFailed, payment.Status)
		assert.Empty(t, f.store.InvoicesForPayment(payment.ID))
		f.notifier.AssertNotCalled(t, "PaymentCompleted", mock.Anything, mock.Anything)
	})

	t.Run("pending status refreshes details only", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.seedPayment(t, userID, "o1", "inv5")

		body := []byte(`{"invoice_id":"inv5","status":"PENDING","transaction_id":"TX5","payment_method":"nagad"}`)
		require.NoError(t, f.svc.HandleWebhook(context.Background(), body))

		payment := f.store.PaymentByInvoice("inv5")
		assert.Equal(t, models.PaymentStatusPending, payment.Status)
		assert.Equal(t, "TX5", payment.TransactionID)
		f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		err := f.svc.HandleWebhook(context.Background(), completedBody("missing"))
		requireServiceError(t, err, http.StatusNotFound)

		logs := f.store.WebhookLogList()
		require.Len(t, logs, 1)
		assert.Equal(t, models.WebhookStatusFailed, logs[0].Status)
		assert.Equal(t, "payment not found", logs[0].Note)
	})

	t.Run("invalid payload", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		for _, body := range []string{`not json`, `{"status":"COMPLETED"}`} {
			err := f.svc.HandleWebhook(context.Background(), []byte(body))
			requireServiceError(t, err, http.StatusBadRequest)
		}
		for _, l := range f.store.WebhookLogList() {
			assert.Equal(t, models.WebhookStatusFailed, l.Status)
		}
	})

	t.Run("settlement error marks log failed", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.seedPayment(t, userID, "o1", "inv1")
		f.store.FailOn("ApplySettlement", errors.New("deadlock"))

		err := f.svc.HandleWebhook(context.Background(), completedBody("inv1"))
		requireServiceError(t, err, http.StatusInternalServerError)

		assert.Equal(t, models.PaymentStatusPending, f.store.PaymentByInvoice("inv1").Status)
		logs := f.store.WebhookLogList()
		require.Len(t, logs, 1)
		assert.Equal(t, models.WebhookStatusFailed, logs[0].Status)
	})

	t.Run("archives payload when storage is configured", func(t *testing.T) {
		f := newPaymentFixture(t, true)
		f.seedPayment(t, userID, "o1", "inv1")
		f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.notifier.On("PaymentCompleted", mock.Anything, mock.Anything).Return(nil)
		f.archive.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
			return strings.HasPrefix(key, "webhooks/2026/10/19/") && strings.HasSuffix(key, ".json")
		}), completedBody("inv1"), "application/json").Return(nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), completedBody("inv1")))

		f.archive.AssertExpectations(t)
		logs := f.store.WebhookLogList()
		require.Len(t, logs, 1)
		assert.NotEmpty(t, logs[0].ArchiveKey)
	})

	t.Run("archive failure does not block settlement", func(t *testing.T) {
		f := newPaymentFixture(t, true)
		f.seedPayment(t, userID, "o1", "inv1")
		f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.notifier.On("PaymentCompleted", mock.Anything, mock.Anything).Return(nil)
		f.archive.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("s3 down"))

		require.NoError(t, f.svc.HandleWebhook(context.Background(), completedBody("inv1")))
		assert.Equal(t, models.PaymentStatusCompleted, f.store.PaymentByInvoice("inv1").Status)
	})
}

func TestPaymentService_WebhookSecret(t *testing.T) {
	f := newPaymentFixture(t, false)
	assert.True(t, f.svc.CheckWebhookSecret("secret"))
	assert.False(t, f.svc.CheckWebhookSecret("wrong"))
	assert.False(t, f.svc.CheckWebhookSecret(""))

	open := services.NewPaymentService(services.PaymentDeps{Log: zap.NewNop()})
	assert.False(t, open.CheckWebhookSecret(""))
	assert.False(t, open.CheckWebhookSecret("anything"))

	f.svc.RecordRejectedWebhook(context.Background(), completedBody("inv1"), "invalid api key")
	logs := f.store.WebhookLogList()
	require.Len(t, logs, 1)
	assert.Equal(t, models.WebhookStatusFailed, logs[0].Status)
	assert.Equal(t, "invalid api key", logs[0].Note)
	assert.Equal(t, "inv1", logs[0].InvoiceID)
}

func TestPaymentService_Verify(t *testing.T) {
	owner := uuid.New()

	t.Run("owner verification settles", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.seedPayment(t, owner, "o1", "inv1")
		f.gateway.On("VerifyPayment", mock.Anything, "inv1").Return(&services.GatewayPayment{
			InvoiceID: "inv1", Status: "COMPLETED", TransactionID: "TX1",
		}, nil)
		f.publisher.On("Publish", mock.Anything, events.PaymentCompleted, mock.Anything).Return(nil)
		f.notifier.On("PaymentCompleted", mock.Anything, mock.Anything).Return(nil)

		res, err := f.svc.Verify(context.Background(), services.Actor{UserID: owner, Role: models.RoleUser}, "inv1")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusCompleted, res.Status)
		assert.Equal(t, "TX1", res.Data.TransactionID)
	})

	t.Run("other user is forbidden", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.seedPayment(t, owner, "o1", "inv1")

		_, err := f.svc.Verify(context.Background(), services.Actor{UserID: uuid.New(), Role: models.RoleUser}, "inv1")
		requireServiceError(t, err, http.StatusForbidden)
		f.gateway.AssertNotCalled(t, "VerifyPayment", mock.Anything, mock.Anything)
	})

	t.Run("admin may verify any payment", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.seedPayment(t, owner, "o1", "inv1")
		f.gateway.On("VerifyPayment", mock.Anything, "inv1").Return(&services.GatewayPayment{InvoiceID: "inv1", Status: "PENDING"}, nil)

		res, err := f.svc.Verify(context.Background(), services.Actor{UserID: uuid.New(), Role: models.RoleAdmin}, "inv1")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPending, res.Status)
	})

	t.Run("errors", func(t *testing.T) {
		f := newPaymentFixture(t, false)
		f.seedPayment(t, owner, "o1", "inv1")
		f.gateway.On("VerifyPayment", mock.Anything, "inv1").Return(nil, errors.New("gateway 502"))
		actor := services.Actor{UserID: owner, Role: models.RoleUser}

		_, err := f.svc.Verify(context.Background(), actor, " ")
		requireServiceError(t, err, http.StatusBadRequest)

		_, err = f.svc.Verify(context.Background(), actor, "missing")
		requireServiceError(t, err, http.StatusNotFound)

		_, err = f.svc.Verify(context.Background(), actor, "inv1")
		se := requireServiceError(t, err, http.StatusInternalServerError)
		assert.Equal(t, services.CodeUpstream, se.Code)
	})
}

func TestPaymentService_SettleConcurrent(t *testing.T) {
	f := newPaymentFixture(t, false)
	owner := uuid.New()
	order := f.seedOrder(t, owner)
	f.seedPayment(t, owner, order.ID.String(), "inv1")
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("PaymentCompleted", mock.Anything, mock.Anything).Return(nil)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Settle(context.Background(), "inv1", &services.GatewayPayment{InvoiceID: "inv1", Status: "COMPLETED"})
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, models.PaymentStatusCompleted, res.Status)
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	payment := f.store.PaymentByInvoice("inv1")
	assert.Len(t, f.store.InvoicesForPayment(payment.ID), 1)
	f.publisher.AssertNumberOfCalls(t, "Publish", 1)
}
