package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

type OrderRepository interface {
	// CreateOrder persists the order and all of its items in one transaction
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns nil, nil when the order does not exist
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)

	ListOrders(ctx context.Context) ([]domain.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Order, error)

	// ListUnfinishedOrders returns every order not in DONE or CANCELLED
	ListUnfinishedOrders(ctx context.Context) ([]domain.Order, error)

	// UpdateOrderStatus moves the order to `to` only if it is still in `from`.
	// Returns false when nothing matched.
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) (bool, error)

	// StartProcessing moves the order from `from` to PROCESSING and takes every
	// quantity out of stock, all in one transaction. Returns false when the
	// order was no longer in `from`. Returns domain.ErrInsufficientStock when
	// any product falls short; nothing is written in that case.
	StartProcessing(ctx context.Context, id uuid.UUID, from domain.OrderStatus, quantities map[uuid.UUID]int) (bool, error)

	// DeleteOrder removes the order and its items, reporting whether a row was removed
	DeleteOrder(ctx context.Context, id uuid.UUID) (bool, error)
}

type ProductRepository interface {
	// FindProductsByIDs returns the products that exist; missing IDs are absent from the result
	FindProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Product, error)

	// SaveProducts inserts or updates the given products
	SaveProducts(ctx context.Context, products []domain.Product) error
}
