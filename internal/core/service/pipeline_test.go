package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/order-pipeline/internal/adapter/storage"
	"github.com/rl1809/order-pipeline/internal/core/domain"
)

type pipeline struct {
	adapter   *storage.SQLAdapter
	service   *OrderService
	processor *OrdersProcessor
	tracker   *mockTracker
	notifier  *mockNotifier
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.DBConfig{Driver: storage.DialectSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	adapter := storage.NewSQLAdapter(db)
	tracker := &mockTracker{}
	notifier := &mockNotifier{name: "http"}
	svc := NewOrderService(adapter, adapter, tracker, zap.NewNop())
	p, _ := newTestProcessor(svc, ProcessorConfig{Enabled: true}, notifier)

	return &pipeline{adapter: adapter, service: svc, processor: p, tracker: tracker, notifier: notifier}
}

func (p *pipeline) seed(t *testing.T, stock int) domain.Product {
	t.Helper()
	product := domain.Product{
		ID:       uuid.New(),
		Title:    "keyboard",
		Price:    decimal.RequireFromString("49.99"),
		Stock:    stock,
		SellerID: uuid.New(),
	}
	require.NoError(t, p.adapter.SaveProducts(context.Background(), []domain.Product{product}))
	return product
}

func (p *pipeline) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	products, err := p.adapter.FindProductsByIDs(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, products, 1)
	return products[0].Stock
}

func (p *pipeline) status(t *testing.T, id uuid.UUID) domain.OrderStatus {
	t.Helper()
	order, err := p.service.FindOrderByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, order)
	return order.Status
}

func TestPipeline_OrderRunsToDone(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	product := p.seed(t, 10)

	order, err := p.service.Create(ctx, CreateOrderRequest{
		BuyerID: uuid.New(),
		Items:   []CreateOrderItem{{ProductID: product.ID, Quantity: 5}},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, 10, p.stock(t, product.ID))

	for _, want := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipping,
		domain.OrderStatusDone,
	} {
		res := p.processor.Tick(ctx)
		assert.Equal(t, 1, res.Advanced)
		assert.Equal(t, want, p.status(t, order.ID))
	}

	res := p.processor.Tick(ctx)
	assert.Zero(t, res.Loaded)

	assert.Equal(t, 5, p.stock(t, product.ID))
	assert.Equal(t, 1, p.tracker.count())
	assert.Equal(t, 3, p.notifier.count())
}

func TestPipeline_CancelsWhenStockShrinks(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	product := p.seed(t, 10)

	order, err := p.service.Create(ctx, CreateOrderRequest{
		BuyerID: uuid.New(),
		Items:   []CreateOrderItem{{ProductID: product.ID, Quantity: 5}},
	}, "")
	require.NoError(t, err)

	products, err := p.adapter.FindProductsByIDs(ctx, []uuid.UUID{product.ID})
	require.NoError(t, err)
	require.Len(t, products, 1)
	products[0].Stock = 3
	require.NoError(t, p.adapter.SaveProducts(ctx, products))

	res := p.processor.Tick(ctx)

	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, domain.OrderStatusCancelled, p.status(t, order.ID))
	assert.Equal(t, 3, p.stock(t, product.ID))
	assert.Zero(t, p.tracker.count())

	res = p.processor.Tick(ctx)
	assert.Zero(t, res.Loaded)
}

func TestPipeline_ConcurrentOrdersNeverOversell(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	product := p.seed(t, 4)

	var ids []uuid.UUID
	for i := 0; i < 10; i++ {
		order, err := p.service.Create(ctx, CreateOrderRequest{
			BuyerID: uuid.New(),
			Items:   []CreateOrderItem{{ProductID: product.ID, Quantity: 1}},
		}, "")
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}

	res := p.processor.Tick(ctx)
	assert.Equal(t, 10, res.Advanced)
	assert.Equal(t, 6, res.Cancelled)

	counts := make(map[domain.OrderStatus]int)
	for _, id := range ids {
		counts[p.status(t, id)]++
	}
	assert.Equal(t, 4, counts[domain.OrderStatusProcessing])
	assert.Equal(t, 6, counts[domain.OrderStatusCancelled])
	assert.Zero(t, p.stock(t, product.ID))
}
