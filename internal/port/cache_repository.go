package port

import (
	"context"

	"github.com/google/uuid"
)

type IdempotencyStore interface {
	// SetIdempotency claims a key, returns false if it was already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a claimed key so the request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}

type PurchaseTracker interface {
	// TrackPurchase records that the buyer purchased the product
	TrackPurchase(ctx context.Context, buyerID, productID uuid.UUID) error
}
