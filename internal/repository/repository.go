package repository

import (
	"context"
	"errors"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// CartRepository defines the interface for cart data operations
type CartRepository interface {
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	// AddItem inserts the item or, when the id is already in the cart, adds to its quantity.
	AddItem(ctx context.Context, cartID string, item domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error
	RemoveItem(ctx context.Context, cartID, itemID string) error
	DeleteCart(ctx context.Context, cartID string) error
}
