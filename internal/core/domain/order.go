package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipping   OrderStatus = "SHIPPING"
	OrderStatusDone       OrderStatus = "DONE"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipping,
		OrderStatusDone, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition exists from s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDone || s == OrderStatusCancelled
}

// UnfinishedStatuses lists every status the processor still has to advance.
func UnfinishedStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusShipping}
}

type Order struct {
	ID      uuid.UUID   `json:"id"`
	BuyerID uuid.UUID   `json:"buyerId"`
	Date    time.Time   `json:"date"`
	Status  OrderStatus `json:"status"`
	Items   []OrderItem `json:"items"`
}

type OrderItem struct {
	ID       uuid.UUID `json:"id"`
	OrderID  uuid.UUID `json:"orderId"`
	Quantity int       `json:"quantity"`
	Product  Product   `json:"product"`
}

// Quantities sums item quantities per distinct product.
func (o Order) Quantities() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(o.Items))
	for _, item := range o.Items {
		out[item.Product.ID] += item.Quantity
	}
	return out
}

// ProductIDs returns the distinct products referenced by the order, sorted.
func (o Order) ProductIDs() []uuid.UUID {
	quantities := o.Quantities()
	ids := make([]uuid.UUID, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
