package port

import (
	"context"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

// Notifier tells a downstream consumer that an order changed status.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, order domain.Order) error
}
