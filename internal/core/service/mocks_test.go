package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

// Mock OrderRepository
type mockOrderRepo struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]domain.Order
	createErr error
	updateErr error
	listErr   error
	keepRows  bool // DeleteOrder reports nothing removed
	updates   []statusUpdate
	products  *mockProductRepo // stock taken by StartProcessing
}

type statusUpdate struct {
	id       uuid.UUID
	from, to domain.OrderStatus
}

func newMockOrderRepo(orders ...domain.Order) *mockOrderRepo {
	m := &mockOrderRepo{orders: make(map[uuid.UUID]domain.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.orders[order.ID] = order
	return nil
}

func (m *mockOrderRepo) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *mockOrderRepo) ListOrders(ctx context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, m.listErr
}

func (m *mockOrderRepo) ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	return out, m.listErr
}

func (m *mockOrderRepo) ListUnfinishedOrders(ctx context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, m.listErr
}

func (m *mockOrderRepo) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return false, m.updateErr
	}
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	m.orders[id] = o
	m.updates = append(m.updates, statusUpdate{id: id, from: from, to: to})
	return true, nil
}

func (m *mockOrderRepo) StartProcessing(ctx context.Context, id uuid.UUID, from domain.OrderStatus, quantities map[uuid.UUID]int) (bool, error) {
	if err := m.products.waitIfBlocked(ctx); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return false, m.updateErr
	}
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	if err := m.products.take(quantities); err != nil {
		return false, err
	}
	o.Status = domain.OrderStatusProcessing
	m.orders[id] = o
	m.updates = append(m.updates, statusUpdate{id: id, from: from, to: domain.OrderStatusProcessing})
	return true, nil
}

func (m *mockOrderRepo) DeleteOrder(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keepRows {
		return false, nil
	}
	if _, ok := m.orders[id]; !ok {
		return false, nil
	}
	delete(m.orders, id)
	return true, nil
}

func (m *mockOrderRepo) status(id uuid.UUID) domain.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Status
}

// Mock ProductRepository
type mockProductRepo struct {
	mu           sync.Mutex
	products     map[uuid.UUID]domain.Product
	decrementErr error
	decrements   int
	block        chan struct{} // holds StartProcessing until closed or ctx is done
}

func newMockProductRepo(products ...domain.Product) *mockProductRepo {
	m := &mockProductRepo{products: make(map[uuid.UUID]domain.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockProductRepo) FindProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) waitIfBlocked(ctx context.Context) error {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// take removes every quantity or nothing at all
func (m *mockProductRepo) take(quantities map[uuid.UUID]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decrementErr != nil {
		return m.decrementErr
	}
	for id, qty := range quantities {
		if p, ok := m.products[id]; !ok || p.Stock < qty {
			return domain.ErrInsufficientStock
		}
	}
	for id, qty := range quantities {
		p := m.products[id]
		p.Stock -= qty
		p.Version++
		m.products[id] = p
	}
	m.decrements++
	return nil
}

func (m *mockProductRepo) SaveProducts(ctx context.Context, products []domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range products {
		m.products[p.ID] = p
	}
	return nil
}

func (m *mockProductRepo) stock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

// Mock PurchaseTracker
type mockTracker struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (m *mockTracker) TrackPurchase(ctx context.Context, buyerID, productID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, productID)
	return m.err
}

func (m *mockTracker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Mock IdempotencyStore
type mockIdempotency struct {
	mu       sync.Mutex
	keys     map[string]bool
	released int
}

func (m *mockIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *mockIdempotency) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	m.released++
	return nil
}

// Mock Notifier
type mockNotifier struct {
	mu     sync.Mutex
	name   string
	orders []domain.Order
	failOn map[uuid.UUID]bool
	block  bool
	panics bool
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Notify(ctx context.Context, order domain.Order) error {
	if m.panics {
		panic("boom")
	}
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order)
	if m.failOn[order.ID] {
		return context.DeadlineExceeded
	}
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func newProduct(stock int) domain.Product {
	return domain.Product{ID: uuid.New(), Title: "product", Stock: stock}
}

func newOrder(status domain.OrderStatus, items ...domain.OrderItem) domain.Order {
	o := domain.Order{ID: uuid.New(), BuyerID: uuid.New(), Status: status}
	for _, item := range items {
		item.ID = uuid.New()
		item.OrderID = o.ID
		o.Items = append(o.Items, item)
	}
	return o
}
