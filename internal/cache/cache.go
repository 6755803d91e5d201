package cache

import (
	"context"
	"errors"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
)

// CartCache is a versioned cart cache. Every Delete advances the cart's
// version; Set only writes when the version it was given is still current,
// so a fill that read the repository before an invalidation cannot
// resurrect the old cart.
type CartCache interface {
	Get(ctx context.Context, cartID string) (*domain.Cart, error)
	Version(ctx context.Context, cartID string) (int64, error)
	Set(ctx context.Context, cartID string, cart *domain.Cart, version int64) error
	Delete(ctx context.Context, cartID string) error
}

var (
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleFill is returned by Set when the cart was invalidated after
	// the caller read its version.
	ErrStaleFill = errors.New("cache fill is stale")
)

// NoopCache always misses. It stands in when no Redis is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*domain.Cart, error)      { return nil, ErrCacheMiss }
func (NoopCache) Version(context.Context, string) (int64, error)         { return 0, nil }
func (NoopCache) Set(context.Context, string, *domain.Cart, int64) error { return nil }
func (NoopCache) Delete(context.Context, string) error                   { return nil }
