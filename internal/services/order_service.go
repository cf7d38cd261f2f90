package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/example/hostcore/internal/models"
	"github.com/example/hostcore/internal/repository"
	"github.com/example/hostcore/internal/utils"
)

const defaultCurrency = "BDT"

type CreateOrderRequest struct {
	ItemName  string          `json:"itemName" validate:"required"`
	ItemType  string          `json:"itemType" validate:"required,oneof=hosting domain vps ssl other"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
	Metadata  map[string]any  `json:"metadata"`
}

// OrderService creates and reads orders.
type OrderService struct {
	orders repository.OrderRepository
}

func NewOrderService(orders repository.OrderRepository) *OrderService {
	return &OrderService{orders: orders}
}

// Create stores a pending order owned by the actor.
func (s *OrderService) Create(ctx context.Context, actor Actor, req CreateOrderRequest) (*models.Order, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err.Error())
	}
	if !req.Amount.IsPositive() {
		return nil, validationError("amount must be greater than zero")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	order := &models.Order{
		UserID:    actor.UserID,
		Status:    models.OrderStatusPending,
		ItemName:  strings.TrimSpace(req.ItemName),
		ItemType:  req.ItemType,
		Reference: strings.TrimSpace(req.Reference),
		Amount:    req.Amount.Round(2),
		Currency:  currency,
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, validationError("metadata must be a JSON object")
		}
		order.Metadata = datatypes.JSON(raw)
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, internalError("failed to create order", err)
	}
	return order, nil
}

// Get returns an order the actor owns, or any order for admins.
func (s *OrderService) Get(ctx context.Context, actor Actor, rawID string) (*models.Order, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, validationError("invalid order id")
	}
	order, err := s.orders.FindOrder(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("order not found")
	}
	if err != nil {
		return nil, internalError("failed to load order", err)
	}
	if !actor.CanAccess(order.UserID) {
		return nil, forbiddenError("order belongs to another user")
	}
	return order, nil
}

// List returns a page of orders. A nil user lists all orders.
func (s *OrderService) List(ctx context.Context, p repository.ListParams) ([]models.Order, int64, error) {
	return s.orders.ListOrders(ctx, p)
}
