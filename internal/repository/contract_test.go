package repository

import (
	"context"
	"testing"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chewToy(qty int) domain.CartItem {
	return domain.CartItem{
		ID:        "chew-toy",
		Name:      "Chew toy",
		UnitPrice: decimal.RequireFromString("12.49"),
		Quantity:  qty,
		ImageRef:  "img/chew-toy.png",
	}
}

func catnip(qty int) domain.CartItem {
	return domain.CartItem{
		ID:        "catnip",
		Name:      "Catnip",
		UnitPrice: decimal.RequireFromString("4.99"),
		Quantity:  qty,
	}
}

// runCartRepositoryContract checks behaviour every CartRepository must share.
func runCartRepositoryContract(t *testing.T, newRepo func(t *testing.T) CartRepository) {
	ctx := context.Background()

	t.Run("GetCart_NotFound", func(t *testing.T) {
		repo := newRepo(t)
		cart, err := repo.GetCart(ctx, "nonexistent")
		assert.ErrorIs(t, err, ErrCartNotFound)
		assert.Nil(t, cart)
	})

	t.Run("AddItem_NewCart", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.AddItem(ctx, "cart-1", chewToy(3)))

		cart, err := repo.GetCart(ctx, "cart-1")
		require.NoError(t, err)
		assert.Equal(t, "cart-1", cart.ID)
		require.Len(t, cart.Items, 1)
		assert.Equal(t, "chew-toy", cart.Items[0].ID)
		assert.Equal(t, 3, cart.Items[0].Quantity)
		assert.Equal(t, "12.49", cart.Items[0].UnitPrice.StringFixed(2))
		assert.Equal(t, "img/chew-toy.png", cart.Items[0].ImageRef)
	})

	t.Run("AddItem_ExistingItemIncrementsQuantity", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.AddItem(ctx, "cart-1", chewToy(1)))
		require.NoError(t, repo.AddItem(ctx, "cart-1", catnip(1)))
		require.NoError(t, repo.AddItem(ctx, "cart-1", chewToy(2)))

		cart, err := repo.GetCart(ctx, "cart-1")
		require.NoError(t, err)
		require.Len(t, cart.Items, 2)
		assert.Equal(t, 3, cart.Items[0].Quantity)
		assert.Equal(t, 1, cart.Items[1].Quantity)
	})

	t.Run("AddItem_InvalidQuantity", func(t *testing.T) {
		repo := newRepo(t)
		assert.ErrorIs(t, repo.AddItem(ctx, "cart-1", chewToy(0)), ErrInvalidQuantity)
	})

	t.Run("UpdateItemQuantity", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.AddItem(ctx, "cart-1", chewToy(1)))

		require.NoError(t, repo.UpdateItemQuantity(ctx, "cart-1", "chew-toy", 5))

		cart, err := repo.GetCart(ctx, "cart-1")
		require.NoError(t, err)
		assert.Equal(t, 5, cart.Items[0].Quantity)
	})

	t.Run("UpdateItemQuantity_Errors", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.AddItem(ctx, "cart-1", chewToy(1)))

		assert.ErrorIs(t, repo.UpdateItemQuantity(ctx, "cart-1", "missing", 2), ErrItemNotFound)
		assert.ErrorIs(t, repo.UpdateItemQuantity(ctx, "other", "chew-toy", 2), ErrItemNotFound)
		assert.ErrorIs(t, repo.UpdateItemQuantity(ctx, "cart-1", "chew-toy", 0), ErrInvalidQuantity)
	})

	t.Run("RemoveItem", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.AddItem(ctx, "cart-1", chewToy(1)))
		require.NoError(t, repo.AddItem(ctx, "cart-1", catnip(2)))

		require.NoError(t, repo.RemoveItem(ctx, "cart-1", "chew-toy"))

		cart, err := repo.GetCart(ctx, "cart-1")
		require.NoError(t, err)
		require.Len(t, cart.Items, 1)
		assert.Equal(t, "catnip", cart.Items[0].ID)

		assert.ErrorIs(t, repo.RemoveItem(ctx, "cart-1", "chew-toy"), ErrItemNotFound)
		assert.ErrorIs(t, repo.RemoveItem(ctx, "other", "catnip"), ErrItemNotFound)
	})

	t.Run("DeleteCart", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.AddItem(ctx, "cart-1", chewToy(1)))

		require.NoError(t, repo.DeleteCart(ctx, "cart-1"))

		_, err := repo.GetCart(ctx, "cart-1")
		assert.ErrorIs(t, err, ErrCartNotFound)
		assert.ErrorIs(t, repo.DeleteCart(ctx, "cart-1"), ErrCartNotFound)
	})
}
