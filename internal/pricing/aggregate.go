// Package pricing turns cart line items into the totals shown in the cart
// drawer and the checkout order summary.
//
// Tax is rounded to cents with round-half-up (decimal.Round rounds half away
// from zero, and amounts here are never negative).
package pricing

import (
	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/shopspring/decimal"
)

// Policy holds the store-wide pricing constants.
type Policy struct {
	TaxRate  decimal.Decimal
	Shipping decimal.Decimal
}

// DefaultPolicy is 8% sales tax and free shipping.
var DefaultPolicy = Policy{
	TaxRate:  decimal.RequireFromString("0.08"),
	Shipping: decimal.Zero,
}

// Aggregate is derived from the current items on every call and never stored.
type Aggregate struct {
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
}

// Compute summarises items using DefaultPolicy.
func Compute(items []domain.CartItem) Aggregate {
	return DefaultPolicy.Compute(items)
}

func (p Policy) Compute(items []domain.CartItem) Aggregate {
	itemCount := 0
	subtotal := decimal.Zero
	for _, item := range items {
		itemCount += item.Quantity
		subtotal = subtotal.Add(item.LineTotal())
	}

	tax := subtotal.Mul(p.TaxRate).Round(2)

	// shipping is charged only when something is actually being bought
	shipping := decimal.Zero
	if itemCount > 0 {
		shipping = p.Shipping
	}

	return Aggregate{
		ItemCount: itemCount,
		Subtotal:  subtotal,
		TaxRate:   p.TaxRate,
		Tax:       tax,
		Shipping:  shipping,
		Total:     subtotal.Add(shipping).Add(tax),
	}
}
