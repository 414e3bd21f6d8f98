package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "idemp:"
	purchasedKeyPrefix   = "purchased:"
	purchaseCountKey     = "purchases:count"

	defaultIdempotencyTTL = 24 * time.Hour
)

// trackPurchaseScript adds the product to the buyer's purchased set and bumps
// the product's purchase counter in one round trip.
var trackPurchaseScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
redis.call('ZINCRBY', KEYS[2], 1, ARGV[1])
return added
`)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, idempotencyTTL time.Duration) *RedisAdapter {
	if idempotencyTTL <= 0 {
		idempotencyTTL = defaultIdempotencyTTL
	}
	return &RedisAdapter{client: client, ttl: idempotencyTTL}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func (r *RedisAdapter) TrackPurchase(ctx context.Context, buyerID, productID uuid.UUID) error {
	keys := []string{purchasedKeyPrefix + buyerID.String(), purchaseCountKey}
	if err := trackPurchaseScript.Run(ctx, r.client, keys, productID.String()).Err(); err != nil {
		return fmt.Errorf("track purchase: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
