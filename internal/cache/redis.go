package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
)

const (
	baseTTL   = 15 * time.Minute
	maxJitter = 5 * time.Minute
	// genTTL outlives any cached cart. A generation key that expires reads
	// as zero, which only ever makes an in-flight fill look stale.
	genTTL = time.Hour
)

// RedisCache stores carts as JSON next to a per-cart generation counter.
// TTLs are jittered so carts cached together do not all expire together.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(cartID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

// Version returns the cart's current generation. Read it before loading the
// cart from the repository and hand it back to Set.
func (r *RedisCache) Version(ctx context.Context, cartID string) (int64, error) {
	return readGeneration(ctx, r.client, cartID)
}

// Set writes the cart only if no Delete ran since version was read. The
// generation key is watched, so a Delete landing between the check and the
// write aborts the transaction.
func (r *RedisCache) Set(ctx context.Context, cartID string, cart *domain.Cart, version int64) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	ttl := baseTTL + time.Duration(rand.Int64N(int64(maxJitter)))

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if current != version {
			return ErrStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(cartID), data, ttl)
			return nil
		})
		return err
	}, generationKey(cartID))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleFill), errors.Is(err, redis.TxFailedErr):
		return ErrStaleFill
	default:
		return fmt.Errorf("redis set failed: %w", err)
	}
}

// Delete drops the cached cart and advances its generation in one
// transaction.
func (r *RedisCache) Delete(ctx context.Context, cartID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(cartID))
		pipe.Expire(ctx, generationKey(cartID), genTTL)
		pipe.Del(ctx, cacheKey(cartID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, c stringGetter, cartID string) (int64, error) {
	gen, err := c.Get(ctx, generationKey(cartID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis generation read failed: %w", err)
	}
	return gen, nil
}

func cacheKey(cartID string) string {
	return "cart:" + cartID
}

func generationKey(cartID string) string {
	return "cartgen:" + cartID
}
