package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gourilakshmianusha/petshoptify/internal/cache"
	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/gourilakshmianusha/petshoptify/internal/pricing"
	"github.com/gourilakshmianusha/petshoptify/internal/repository"
)

type CartService struct {
	repo  repository.CartRepository
	cache cache.CartCache
	sfg   singleflight.Group // Prevents cache stampede
	log   *slog.Logger
}

func NewCartService(repo repository.CartRepository, c cache.CartCache, log *slog.Logger) *CartService {
	if c == nil {
		c = cache.NoopCache{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &CartService{
		repo:  repo,
		cache: c,
		log:   log,
	}
}

// GetCart never reports ErrCartNotFound: a cart nobody has added to yet is empty.
func (s *CartService) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(cartID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, cartID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cache get error", "cart_id", cartID, "error", err) // log cache error but continue
		}

		// The version is read before the repo so an invalidation that lands
		// while the repo read is in flight makes the fill stale.
		version, verr := s.cache.Version(ctx, cartID)
		if verr != nil {
			s.log.WarnContext(ctx, "cache version error", "cart_id", cartID, "error", verr)
		}

		cart, err = s.repo.GetCart(ctx, cartID)
		if errors.Is(err, repository.ErrCartNotFound) {
			now := time.Now()
			return &domain.Cart{ID: cartID, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}
		if verr != nil {
			return cart, nil
		}

		err = s.cache.Set(ctx, cartID, cart, version)
		switch {
		case errors.Is(err, cache.ErrStaleFill):
			s.log.DebugContext(ctx, "cache fill skipped, cart changed during load", "cart_id", cartID)
		case err != nil:
			s.log.WarnContext(ctx, "cache set error", "cart_id", cartID, "error", err)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (s *CartService) AddItem(ctx context.Context, cartID string, item domain.CartItem) error {
	if err := validateItem(item); err != nil {
		return err
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	if err := s.repo.AddItem(ctx, cartID, item); err != nil {
		s.log.ErrorContext(ctx, "repo add item error", "cart_id", cartID, "item_id", item.ID, "error", err)
		return err
	}

	s.invalidateCache(cartID)
	return nil
}

// UpdateQuantity sets the item quantity. Zero removes the item.
func (s *CartService) UpdateQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	if quantity < 0 {
		return repository.ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, cartID, itemID)
	}
	if err := s.repo.UpdateItemQuantity(ctx, cartID, itemID, quantity); err != nil {
		s.log.ErrorContext(ctx, "repo update item quantity error", "cart_id", cartID, "item_id", itemID, "error", err)
		return err
	}

	s.invalidateCache(cartID)
	return nil
}

func (s *CartService) RemoveItem(ctx context.Context, cartID, itemID string) error {
	if err := s.repo.RemoveItem(ctx, cartID, itemID); err != nil {
		s.log.ErrorContext(ctx, "repo remove item error", "cart_id", cartID, "item_id", itemID, "error", err)
		return err
	}

	s.invalidateCache(cartID)
	return nil
}

// ClearCart empties the cart. Clearing a cart that does not exist succeeds.
func (s *CartService) ClearCart(ctx context.Context, cartID string) error {
	err := s.repo.DeleteCart(ctx, cartID)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		s.log.ErrorContext(ctx, "repo delete cart error", "cart_id", cartID, "error", err)
		return err
	}

	s.invalidateCache(cartID)
	return nil
}

func (s *CartService) Summary(ctx context.Context, cartID string) (pricing.Aggregate, error) {
	cart, err := s.GetCart(ctx, cartID)
	if err != nil {
		return pricing.Aggregate{}, err
	}
	return pricing.Compute(cart.Items), nil
}

func (s *CartService) invalidateCache(cartID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, cartID); err != nil {
		s.log.Warn("cache invalidate error", "cart_id", cartID, "error", err)
	}
}

func validateItem(item domain.CartItem) error {
	switch {
	case strings.TrimSpace(item.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidItem)
	case strings.TrimSpace(item.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	case item.UnitPrice.IsNegative():
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidItem)
	case item.Quantity < 1:
		return repository.ErrInvalidQuantity
	}
	return nil
}
