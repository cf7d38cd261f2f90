package routes

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/hostcore/internal/handlers"
	"github.com/example/hostcore/internal/mocks"
	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/services"
	"github.com/example/hostcore/internal/utils"
)

const (
	testSecret     = "routes-secret"
	webhookAPIKey  = "gateway-key"
	contentTypeHdr = "Content-Type"
)

type testApp struct {
	app      *fiber.App
	store    *mocks.Store
	gateway  *mocks.MockGateway
	notifier *mocks.MockNotifier
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := zap.NewNop()
	ta := &testApp{
		store:    mocks.NewStore(),
		gateway:  new(mocks.MockGateway),
		notifier: new(mocks.MockNotifier),
	}
	ta.notifier.On("OrderConfirmation", mock.Anything, mock.Anything).Return(nil).Maybe()
	ta.notifier.On("PaymentCompleted", mock.Anything, mock.Anything).Return(nil).Maybe()
	ta.notifier.On("DomainFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	limiter := services.NewRateLimitService(ta.store, log)
	svc := &Services{
		Payments: services.NewPaymentService(services.PaymentDeps{
			Payments:      ta.store,
			Orders:        ta.store,
			Webhooks:      ta.store,
			Gateway:       ta.gateway,
			Notifier:      ta.notifier,
			WebhookSecret: webhookAPIKey,
			Log:           log,
			Dispatch:      mocks.Inline,
		}),
		Domains: services.NewDomainService(services.DomainDeps{
			Domains:            ta.store,
			Audit:              ta.store,
			Notifier:           ta.notifier,
			DefaultNameservers: []string{"ns1.hostcore.net", "ns2.hostcore.net"},
			Log:                log,
			Dispatch:           mocks.Inline,
		}),
		Accounts: services.NewAccountService(ta.store, limiter, testSecret, time.Hour, log),
		Orders:   services.NewOrderService(ta.store),
		Limiter:  limiter,
		Roles:    services.NewRoleService(ta.store, nil, log),
		Admin:    services.NewAdminService(ta.store, ta.store),
	}

	ta.app = fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(log)})
	Register(ta.app, svc, Options{JWTSecret: testSecret})
	return ta
}

func (ta *testApp) userToken(t *testing.T, roles ...string) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	ta.store.Roles[id] = roles
	token, err := utils.GenerateToken(testSecret, id, time.Hour)
	require.NoError(t, err)
	return id, token
}

func (ta *testApp) do(t *testing.T, method, path, token string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(contentTypeHdr, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestPaymentInitiation(t *testing.T) {
	ta := newTestApp(t)
	userID, token := ta.userToken(t, models.RoleUser)
	ta.gateway.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&services.ChargeResult{PaymentURL: "https://pay/x", InvoiceID: "inv1"}, nil).Once()

	status, body := ta.do(t, http.MethodPost, "/api/payments/initiate", token, map[string]any{
		"orderId":       "o1",
		"amount":        500,
		"customerName":  "A",
		"customerEmail": "a@b.c",
		"itemName":      "Starter hosting",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, map[string]any{"success": true, "payment_url": "https://pay/x", "invoice_id": "inv1"}, body)

	payment := ta.store.PaymentByInvoice("inv1")
	require.NotNil(t, payment)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, userID, payment.UserID)

	status, body = ta.do(t, http.MethodPost, "/api/payments/initiate", token, map[string]any{"orderId": "o1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, services.CodeValidation, body["code"])

	status, _ = ta.do(t, http.MethodPost, "/api/payments/initiate", "", map[string]any{"orderId": "o1"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPaymentInitiationForStoredOrder(t *testing.T) {
	ta := newTestApp(t)
	victimID, _ := ta.userToken(t, models.RoleUser)
	_, attackerToken := ta.userToken(t, models.RoleUser)
	order := &models.Order{UserID: victimID, Status: models.OrderStatusPending, ItemName: "VPS", ItemType: "vps", Amount: decimal.NewFromInt(1000), Currency: "BDT"}
	require.NoError(t, ta.store.CreateOrder(t.Context(), order))
	cancelled := &models.Order{UserID: victimID, Status: models.OrderStatusCancelled, ItemName: "VPS", ItemType: "vps", Amount: decimal.NewFromInt(1000), Currency: "BDT"}
	require.NoError(t, ta.store.CreateOrder(t.Context(), cancelled))

	request := func(orderID string) map[string]any {
		return map[string]any{
			"orderId": orderID, "amount": 1, "customerName": "B", "customerEmail": "b@c.d", "itemName": "VPS",
		}
	}

	status, body := ta.do(t, http.MethodPost, "/api/payments/initiate", attackerToken, request(order.ID.String()))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, services.CodeForbidden, body["code"])

	status, _ = ta.do(t, http.MethodPost, "/api/payments/initiate", attackerToken, request(cancelled.ID.String()))
	assert.Equal(t, http.StatusForbidden, status)

	ta.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	assert.Empty(t, ta.store.Payments)
	assert.Equal(t, models.OrderStatusPending, ta.store.Orders[order.ID].Status)
	assert.Equal(t, models.OrderStatusCancelled, ta.store.Orders[cancelled.ID].Status)
}

func TestCORSPreflight(t *testing.T) {
	ta := newTestApp(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/payments/webhook", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://shop.example.com")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, http.MethodPost)
	req.Header.Set(fiber.HeaderAccessControlRequestHeaders, "RT-UDDOKTAPAY-API-KEY")

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	assert.Contains(t, resp.Header.Get(fiber.HeaderAccessControlAllowHeaders), "RT-UDDOKTAPAY-API-KEY")
	assert.Contains(t, resp.Header.Get(fiber.HeaderAccessControlAllowMethods), http.MethodPost)
}

func TestPaymentWebhook(t *testing.T) {
	ta := newTestApp(t)
	ownerID, _ := ta.userToken(t, models.RoleUser)
	order := &models.Order{UserID: ownerID, Status: models.OrderStatusPending, ItemName: "VPS", ItemType: "vps", Amount: decimal.NewFromInt(500), Currency: "BDT"}
	require.NoError(t, ta.store.CreateOrder(t.Context(), order))
	require.NoError(t, ta.store.CreatePayment(t.Context(), &models.Payment{
		OrderID: order.ID.String(), UserID: ownerID, InvoiceID: "inv1", Amount: decimal.NewFromInt(500), Status: models.PaymentStatusPending,
	}))

	payload := `{"invoice_id":"inv1","status":"COMPLETED","amount":"500.00","transaction_id":"TX1","payment_method":"bkash"}`

	t.Run("wrong api key is rejected and logged", func(t *testing.T) {
		status, body := ta.do(t, http.MethodPost, "/api/payments/webhook", "", payload, "RT-UDDOKTAPAY-API-KEY", "nope")
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, false, body["success"])

		logs := ta.store.WebhookLogList()
		require.Len(t, logs, 1)
		assert.Equal(t, models.WebhookStatusFailed, logs[0].Status)
		assert.Equal(t, "invalid api key", logs[0].Note)
	})

	t.Run("completed notification settles once", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			status, body := ta.do(t, http.MethodPost, "/api/payments/webhook", "", payload, "RT-UDDOKTAPAY-API-KEY", webhookAPIKey)
			require.Equal(t, http.StatusOK, status, body)
			assert.Equal(t, map[string]any{"success": true}, body)
		}

		payment := ta.store.PaymentByInvoice("inv1")
		assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
		assert.Len(t, ta.store.InvoicesForPayment(payment.ID), 1)
		assert.Equal(t, models.OrderStatusCompleted, ta.store.Orders[order.ID].Status)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		status, body := ta.do(t, http.MethodPost, "/api/payments/webhook", "", `{"invoice_id":"missing","status":"COMPLETED"}`, "RT-UDDOKTAPAY-API-KEY", webhookAPIKey)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "payment not found", body["error"])
	})

	t.Run("malformed payload", func(t *testing.T) {
		status, _ := ta.do(t, http.MethodPost, "/api/payments/webhook", "", `not json`, "RT-UDDOKTAPAY-API-KEY", webhookAPIKey)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestPaymentVerify(t *testing.T) {
	ta := newTestApp(t)
	ownerID, ownerToken := ta.userToken(t, models.RoleUser)
	_, strangerToken := ta.userToken(t, models.RoleUser)
	require.NoError(t, ta.store.CreatePayment(t.Context(), &models.Payment{
		OrderID: "legacy-ref", UserID: ownerID, InvoiceID: "inv2", Amount: decimal.NewFromInt(100), Status: models.PaymentStatusPending,
	}))
	ta.gateway.On("VerifyPayment", mock.Anything, "inv2").
		Return(&services.GatewayPayment{InvoiceID: "inv2", Status: "PENDING", Amount: services.Amount{Decimal: decimal.NewFromInt(100)}}, nil)

	status, body := ta.do(t, http.MethodPost, "/api/payments/verify", strangerToken, map[string]any{"invoiceId": "inv2"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, services.CodeForbidden, body["code"])

	status, body = ta.do(t, http.MethodPost, "/api/payments/verify", ownerToken, map[string]any{"invoiceId": "inv2"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, models.PaymentStatusPending, body["status"])
	assert.NotNil(t, body["data"])

	status, _ = ta.do(t, http.MethodPost, "/api/payments/verify", ownerToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDomainRoutes(t *testing.T) {
	ta := newTestApp(t)
	ownerID, token := ta.userToken(t, models.RoleUser)
	_, adminToken := ta.userToken(t, models.RoleAdmin)

	status, body := ta.do(t, http.MethodPost, "/api/domains/register", token, map[string]any{"domainName": "example.com"})
	require.Equal(t, http.StatusOK, status, body)
	domain := body["domain"].(map[string]any)
	assert.Equal(t, models.DomainStatusActive, domain["status"])
	domainID := domain["id"].(string)

	t.Run("duplicate registration", func(t *testing.T) {
		status, body := ta.do(t, http.MethodPost, "/api/domains/register", token, map[string]any{"domainName": "EXAMPLE.com"})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, services.CodeDomainExists, body["code"])
		assert.Len(t, ta.store.Domains, 1)
	})

	t.Run("bad nameservers leave the domain untouched", func(t *testing.T) {
		audits := ta.store.AuditCount()
		status, body := ta.do(t, http.MethodPost, "/api/domains/nameservers", token, map[string]any{
			"domainId": domainID, "nameservers": []string{"ns1.example.net"},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, []string{"ns1.hostcore.net", "ns2.hostcore.net"}, []string(ta.store.Domain(uuid.MustParse(domainID)).Nameservers))
		assert.Equal(t, audits, ta.store.AuditCount())
	})

	t.Run("auth code is returned", func(t *testing.T) {
		status, body := ta.do(t, http.MethodPost, "/api/domains/auth-code", token, map[string]any{"domainId": domainID})
		require.Equal(t, http.StatusOK, status, body)
		assert.Len(t, body["authCode"], 16)
	})

	t.Run("transfer-in decision needs admin", func(t *testing.T) {
		status, body := ta.do(t, http.MethodPost, "/api/domains/transfer-in/request", token, map[string]any{
			"domainName": "moving.org", "authCode": "XYZ123",
		})
		require.Equal(t, http.StatusOK, status, body)
		transferID := body["domain"].(map[string]any)["id"].(string)

		status, _ = ta.do(t, http.MethodPost, "/api/domains/transfer-in", token, map[string]any{"domainId": transferID, "action": "accept"})
		assert.Equal(t, http.StatusForbidden, status)

		status, body = ta.do(t, http.MethodPost, "/api/domains/transfer-in", adminToken, map[string]any{"domainId": transferID, "action": "accept"})
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, "transfer accepted", body["message"])
		assert.Equal(t, models.DomainStatusActive, body["domain"].(map[string]any)["status"])
	})

	t.Run("listing is scoped to the caller", func(t *testing.T) {
		status, body := ta.do(t, http.MethodGet, "/api/domains?limit=10", token, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body["data"], 2)

		_, otherToken := ta.userToken(t, models.RoleUser)
		status, body = ta.do(t, http.MethodGet, "/api/domains", otherToken, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Empty(t, body["data"])

		status, _ = ta.do(t, http.MethodGet, "/api/domains/"+domainID, otherToken, nil)
		assert.Equal(t, http.StatusForbidden, status)
	})

	assert.Equal(t, ownerID, ta.store.Domain(uuid.MustParse(domainID)).UserID)
}

func TestRateLimitRoute(t *testing.T) {
	ta := newTestApp(t)

	status, body := ta.do(t, http.MethodPost, "/api/rate-limit", "", map[string]any{"identifier": "User@Example.com", "action": "check"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isLocked"])
	assert.EqualValues(t, 5, body["attemptsRemaining"])

	ta.store.FailOn("CheckRateLimit", errors.New("connection refused"))
	status, body = ta.do(t, http.MethodPost, "/api/rate-limit", "", map[string]any{"identifier": "user@example.com", "action": "check"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["isLocked"])
	assert.EqualValues(t, 5, body["attemptsRemaining"])
	assert.Nil(t, body["lockedUntil"])

	status, _ = ta.do(t, http.MethodPost, "/api/rate-limit", "", map[string]any{"identifier": "", "action": "check"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ta.do(t, http.MethodPost, "/api/rate-limit", "", map[string]any{"identifier": "x", "action": "explode"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRoleRoute(t *testing.T) {
	ta := newTestApp(t)
	_, adminToken := ta.userToken(t, models.RoleUser, models.RoleAdmin)
	_, userToken := ta.userToken(t)

	_, body := ta.do(t, http.MethodGet, "/api/roles/me", adminToken, nil)
	assert.Equal(t, models.RoleAdmin, body["role"])

	ta.store.FailOn("FindRoles", errors.New("timeout"))
	status, body := ta.do(t, http.MethodGet, "/api/roles/me", userToken, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RoleUser, body["role"])

	status, _ = ta.do(t, http.MethodGet, "/api/roles/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAccountAndOrderRoutes(t *testing.T) {
	ta := newTestApp(t)

	status, body := ta.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email": "new@example.com", "password": "password1", "fullName": "New User",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotEmpty(t, body["token"])
	assert.NotContains(t, body["user"], "PasswordHash")

	status, body = ta.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "new@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.EqualValues(t, 4, body["attemptsRemaining"])

	status, body = ta.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "new@example.com", "password": "password1"})
	require.Equal(t, http.StatusOK, status, body)
	token := body["token"].(string)

	status, body = ta.do(t, http.MethodPost, "/api/orders", token, map[string]any{
		"itemName": "Business hosting", "itemType": "hosting", "amount": "1500",
	})
	require.Equal(t, http.StatusCreated, status, body)
	orderID := body["order"].(map[string]any)["id"].(string)

	status, body = ta.do(t, http.MethodGet, "/api/orders/"+orderID, token, nil)
	require.Equal(t, http.StatusOK, status, body)

	status, body = ta.do(t, http.MethodGet, "/api/orders?page=1&limit=5", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)
	assert.EqualValues(t, 1, body["pagination"].(map[string]any)["total"])
}

func TestAdminRoutes(t *testing.T) {
	ta := newTestApp(t)
	_, userToken := ta.userToken(t, models.RoleUser)
	_, adminToken := ta.userToken(t, models.RoleAdmin)

	paths := []string{
		"/api/admin/stats",
		"/api/admin/payments",
		"/api/admin/webhook-logs",
		"/api/admin/domains",
		"/api/admin/provisioning-queue",
		"/api/admin/audit-logs",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			status, _ := ta.do(t, http.MethodGet, path, userToken, nil)
			assert.Equal(t, http.StatusForbidden, status)

			status, body := ta.do(t, http.MethodGet, path, adminToken, nil)
			require.Equal(t, http.StatusOK, status, body)
			assert.Equal(t, true, body["success"])
		})
	}
}
