package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/example/hostcore/internal/services"
)

type MockGateway struct {
	mock.Mock
}

type MockRegistrar struct {
	mock.Mock
}

type MockNotifier struct {
	mock.Mock
}

type MockPublisher struct {
	mock.Mock
}

type MockArchive struct {
	mock.Mock
}

func (m *MockGateway) CreateCharge(ctx context.Context, req services.ChargeRequest) (*services.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ChargeResult), args.Error(1)
}

func (m *MockGateway) VerifyPayment(ctx context.Context, invoiceID string) (*services.GatewayPayment, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.GatewayPayment), args.Error(1)
}

func (m *MockRegistrar) RegisterDomain(ctx context.Context, req services.RegistrationRequest) (*services.RegistrarResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RegistrarResult), args.Error(1)
}

func (m *MockRegistrar) UpdateNameservers(ctx context.Context, domain string, nameservers []string) (*services.RegistrarResult, error) {
	args := m.Called(ctx, domain, nameservers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RegistrarResult), args.Error(1)
}

func (m *MockNotifier) OrderConfirmation(ctx context.Context, n services.OrderConfirmation) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockNotifier) PaymentCompleted(ctx context.Context, n services.PaymentCompletion) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockNotifier) DomainFailure(ctx context.Context, domain, action, reason string) error {
	args := m.Called(ctx, domain, action, reason)
	return args.Error(0)
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, data any) error {
	args := m.Called(ctx, routingKey, data)
	return args.Error(0)
}

func (m *MockArchive) Put(ctx context.Context, key string, body []byte, contentType string) error {
	args := m.Called(ctx, key, body, contentType)
	return args.Error(0)
}

// Inline runs dispatched work on the calling goroutine.
func Inline(fn func()) { fn() }
