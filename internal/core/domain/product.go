package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInsufficientStock is returned whenever a requested quantity exceeds what
// the catalog currently holds.
var ErrInsufficientStock = errors.New("insufficient stock")

// Product is the catalog record an order item points at. Stock is owned by the
// catalog; orders only read it and decrement it on entering PROCESSING.
type Product struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"imageUrl"`
	SellerID    uuid.UUID       `json:"sellerId"`
	Version     int             `json:"-"` // bumped on every stock change
	CreatedAt   time.Time       `json:"createdAt"`
}

// CanFulfil reports whether quantity units can be taken from the current stock.
func (p Product) CanFulfil(quantity int) bool {
	return quantity > 0 && quantity <= p.Stock
}
