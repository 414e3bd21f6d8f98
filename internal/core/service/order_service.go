package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/port"
)

const (
	tracerName     = "github.com/rl1809/order-pipeline/internal/core/service"
	releaseTimeout = 2 * time.Second
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrProductNotFound  = errors.New("product not found")
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrStaleOrder       = errors.New("order status changed concurrently")

	ErrInsufficientStock = domain.ErrInsufficientStock
)

type CreateOrderItem struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type CreateOrderRequest struct {
	BuyerID uuid.UUID         `json:"buyerId"`
	Items   []CreateOrderItem `json:"items"`
}

type OrderService struct {
	orders      port.OrderRepository
	products    port.ProductRepository
	tracker     port.PurchaseTracker
	idempotency port.IdempotencyStore
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*OrderService)

// WithIdempotency enables duplicate detection for Create calls carrying a key.
func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *OrderService) { s.idempotency = store }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *OrderService) { s.tracer = tracer }
}

func NewOrderService(
	orders port.OrderRepository,
	products port.ProductRepository,
	tracker port.PurchaseTracker,
	logger *zap.Logger,
	opts ...Option,
) *OrderService {
	s := &OrderService{
		orders:   orders,
		products: products,
		tracker:  tracker,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create checks every item against current stock and persists the order in
// PENDING. The stock check is advisory; nothing is reserved here.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest, idempotencyKey string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("buyer.id", req.BuyerID.String()),
		attribute.Int("order.items", len(req.Items)),
	)

	if err := validateCreate(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(req.Items))
	seen := make(map[uuid.UUID]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	found, err := s.products.FindProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	byID := make(map[uuid.UUID]domain.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	order := domain.Order{
		ID:      uuid.New(),
		BuyerID: req.BuyerID,
		Date:    s.now().UTC().Truncate(time.Microsecond),
		Status:  domain.OrderStatusPending,
		Items:   make([]domain.OrderItem, 0, len(req.Items)),
	}

	for _, item := range req.Items {
		product, ok := byID[item.ProductID]
		if !ok {
			err := fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if !product.CanFulfil(item.Quantity) {
			err := fmt.Errorf("product %s has %d, requested %d: %w",
				product.ID, product.Stock, item.Quantity, ErrInsufficientStock)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:       uuid.New(),
			OrderID:  order.ID,
			Quantity: item.Quantity,
			Product:  product,
		})
	}

	// claimed only once the request is known to be valid, so a rejected
	// request can be retried under the same key
	key, err := s.claimKey(ctx, idempotencyKey)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.releaseKey(ctx, key)
		return nil, fmt.Errorf("save order: %w", err)
	}

	span.SetAttributes(attribute.String("order.id", order.ID.String()))
	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("buyer_id", order.BuyerID.String()),
		zap.Int("items", len(order.Items)),
	)

	return &order, nil
}

func (s *OrderService) claimKey(ctx context.Context, idempotencyKey string) (string, error) {
	if idempotencyKey == "" || s.idempotency == nil {
		return "", nil
	}
	key := "order:create:" + idempotencyKey
	ok, err := s.idempotency.SetIdempotency(ctx, key)
	if err != nil {
		return "", fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return "", ErrDuplicateRequest
	}
	return key, nil
}

// releaseKey frees a claimed key after a failed create. It runs detached from
// ctx so an expired request still gives the key back.
func (s *OrderService) releaseKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.idempotency.ReleaseIdempotency(ctx, key); err != nil {
		s.logger.Warn("failed to release idempotency key",
			zap.String("key", key), zap.Error(err))
	}
}

func validateCreate(req CreateOrderRequest) error {
	if req.BuyerID == uuid.Nil {
		return fmt.Errorf("%w: buyer id required", ErrInvalidOrder)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item required", ErrInvalidOrder)
	}
	for i, item := range req.Items {
		if item.ProductID == uuid.Nil {
			return fmt.Errorf("%w: item %d has no product id", ErrInvalidOrder, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidOrder, i)
		}
	}
	return nil
}

func (s *OrderService) FindAllOrders(ctx context.Context) ([]domain.Order, error) {
	return s.orders.ListOrders(ctx)
}

func (s *OrderService) FindAllOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID) ([]domain.Order, error) {
	return s.orders.ListOrdersByBuyer(ctx, buyerID)
}

// FindOrderByID returns nil, nil when the order does not exist.
func (s *OrderService) FindOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, id)
}

func (s *OrderService) FindNotFinishedOrders(ctx context.Context) ([]domain.Order, error) {
	return s.orders.ListUnfinishedOrders(ctx)
}

// Transition persists target as the order's status. Entering PROCESSING also
// takes the ordered quantities out of stock in the same write; when stock is
// short the order is moved to CANCELLED instead and nothing is decremented.
func (s *OrderService) Transition(ctx context.Context, order domain.Order, target domain.OrderStatus) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.String("order.from", string(order.Status)),
		attribute.String("order.to", string(target)),
	)

	if !target.Valid() {
		return order, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, target)
	}
	if target == domain.OrderStatusProcessing {
		return s.startProcessing(ctx, order)
	}

	ok, err := s.orders.UpdateOrderStatus(ctx, order.ID, order.Status, target)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return order, fmt.Errorf("update status: %w", err)
	}
	if !ok {
		return order, ErrStaleOrder
	}
	order.Status = target
	return order, nil
}

// startProcessing reconciles stock on entry to PROCESSING. Any failure other
// than short stock leaves the order in its previous status for the next tick.
func (s *OrderService) startProcessing(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "stock.reconcile")
	defer span.End()

	ok, err := s.orders.StartProcessing(ctx, order.ID, order.Status, order.Quantities())
	switch {
	case errors.Is(err, ErrInsufficientStock):
		s.logger.Info("not enough stock, cancelling order",
			zap.String("order_id", order.ID.String()))
		span.SetAttributes(attribute.Bool("stock.available", false))

		ok, err := s.orders.UpdateOrderStatus(ctx, order.ID, order.Status, domain.OrderStatusCancelled)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return order, fmt.Errorf("cancel order: %w", err)
		}
		if !ok {
			return order, ErrStaleOrder
		}
		order.Status = domain.OrderStatusCancelled
		return order, nil

	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		return order, fmt.Errorf("start processing: %w", err)

	case !ok:
		return order, ErrStaleOrder
	}

	order.Status = domain.OrderStatusProcessing
	span.SetAttributes(attribute.Bool("stock.available", true))
	if s.tracker == nil {
		return order, nil
	}
	for _, productID := range order.ProductIDs() {
		if err := s.tracker.TrackPurchase(ctx, order.BuyerID, productID); err != nil {
			s.logger.Warn("failed to track purchase",
				zap.String("order_id", order.ID.String()),
				zap.String("product_id", productID.String()),
				zap.Error(err))
		}
	}
	return order, nil
}

// DeleteOrderByID returns the removed order, or nil when nothing was deleted.
func (s *OrderService) DeleteOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, nil
	}

	removed, err := s.orders.DeleteOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete order: %w", err)
	}
	if !removed {
		return nil, nil
	}

	s.logger.Info("order deleted", zap.String("order_id", id.String()))
	return order, nil
}
