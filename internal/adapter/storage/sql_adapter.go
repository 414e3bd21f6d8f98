package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

var ErrOptimisticLock = errors.New("optimistic lock conflict")

// SQLAdapter implements the order and product repositories on top of
// database/sql. Queries stick to syntax shared by MySQL and SQLite.
type SQLAdapter struct {
	db *sql.DB
}

func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db}
}

func (m *SQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, status, created_at)
		VALUES (?, ?, ?, ?)`,
		order.ID, order.BuyerID, order.Status, order.Date,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, position)
			VALUES (?, ?, ?, ?, ?)`,
			item.ID, order.ID, item.Product.ID, item.Quantity, i,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func (m *SQLAdapter) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	orders, err := m.queryOrders(ctx, "o.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (m *SQLAdapter) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return m.queryOrders(ctx, "1 = 1")
}

func (m *SQLAdapter) ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Order, error) {
	return m.queryOrders(ctx, "o.buyer_id = ?", buyerID)
}

func (m *SQLAdapter) ListUnfinishedOrders(ctx context.Context) ([]domain.Order, error) {
	return m.queryOrders(ctx, "o.status NOT IN (?, ?)",
		domain.OrderStatusDone, domain.OrderStatusCancelled)
}

func (m *SQLAdapter) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE orders SET status = ?
		WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

func (m *SQLAdapter) DeleteOrder(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete order items: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return rows > 0, nil
}

// queryOrders loads orders matching where (written against alias o) together
// with their items and the current state of each referenced product.
func (m *SQLAdapter) queryOrders(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT o.id, o.buyer_id, o.status, o.created_at
		FROM orders o
		WHERE `+where+`
		ORDER BY o.created_at, o.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	var orders []domain.Order
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.BuyerID, &o.Status, &o.Date); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Items = []domain.OrderItem{}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	if len(orders) == 0 {
		return nil, nil
	}

	itemRows, err := m.db.QueryContext(ctx, `
		SELECT i.id, i.order_id, i.quantity,
			p.id, p.title, p.description, p.price, p.stock, p.image_url, p.seller_id, p.version, p.created_at
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		JOIN products p ON p.id = i.product_id
		WHERE `+where+`
		ORDER BY i.order_id, i.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item domain.OrderItem
		p := &item.Product
		if err := itemRows.Scan(&item.ID, &item.OrderID, &item.Quantity,
			&p.ID, &p.Title, &p.Description, &p.Price, &p.Stock, &p.ImageURL, &p.SellerID, &p.Version, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return orders, nil
}

func (m *SQLAdapter) FindProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, title, description, price, stock, image_url, seller_id, version, created_at
		FROM products WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Price, &p.Stock,
			&p.ImageURL, &p.SellerID, &p.Version, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// StartProcessing moves the order from `from` to PROCESSING and takes the
// ordered quantities out of stock in one transaction. Each stock update only
// matches while enough is left, so a short product rolls back the status flip
// together with the whole batch and no quantity is ever driven negative.
func (m *SQLAdapter) StartProcessing(ctx context.Context, id uuid.UUID, from domain.OrderStatus, quantities map[uuid.UUID]int) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?
		WHERE id = ? AND status = ?`,
		domain.OrderStatusProcessing, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if err := decrementStock(ctx, tx, quantities); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func decrementStock(ctx context.Context, tx *sql.Tx, quantities map[uuid.UUID]int) error {
	// stable lock order across concurrent transactions
	ids := make([]uuid.UUID, 0, len(quantities))
	for id, qty := range quantities {
		if qty <= 0 {
			return fmt.Errorf("invalid quantity %d for product %s", qty, id)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		qty := quantities[id]
		result, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - ?, version = version + 1
			WHERE id = ? AND stock >= ?`,
			qty, id, qty,
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("product %s: %w", id, domain.ErrInsufficientStock)
		}
	}
	return nil
}

// SaveProducts inserts new products and updates existing ones. Updates carry
// the version the caller read; a concurrent change yields ErrOptimisticLock
// and nothing in the batch is written.
func (m *SQLAdapter) SaveProducts(ctx context.Context, products []domain.Product) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, p := range products {
		if p.Stock < 0 {
			return fmt.Errorf("product %s: negative stock", p.ID)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE products
			SET title = ?, description = ?, price = ?, stock = ?, image_url = ?, seller_id = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			p.Title, p.Description, p.Price, p.Stock, p.ImageURL, p.SellerID, p.ID, p.Version,
		)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows > 0 {
			continue
		}

		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = ?`, p.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("product %s: %w", p.ID, ErrOptimisticLock)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query product: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO products (id, title, description, price, stock, image_url, seller_id, version, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			p.ID, p.Title, p.Description, p.Price, p.Stock, p.ImageURL, p.SellerID, createdAt,
		)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
	}

	return tx.Commit()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
