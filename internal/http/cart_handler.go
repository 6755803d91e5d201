package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/gourilakshmianusha/petshoptify/internal/pricing"
)

type CartService interface {
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	AddItem(ctx context.Context, cartID string, item domain.CartItem) error
	UpdateQuantity(ctx context.Context, cartID, itemID string, quantity int) error
	RemoveItem(ctx context.Context, cartID, itemID string) error
	ClearCart(ctx context.Context, cartID string) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"image_ref"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type CartItemDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
	ImageRef  string `json:"image_ref,omitempty"`
}

// SummaryDTO renders money with exactly two decimals.
type SummaryDTO struct {
	ItemCount int    `json:"item_count"`
	Subtotal  string `json:"subtotal"`
	TaxRate   string `json:"tax_rate"`
	Tax       string `json:"tax"`
	Shipping  string `json:"shipping"`
	Total     string `json:"total"`
}

type CartResponseDTO struct {
	CartID  string        `json:"cart_id"`
	Items   []CartItemDTO `json:"items"`
	Summary SummaryDTO    `json:"summary"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.respondCart(ctx, w, r, http.StatusOK)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	cartID := getCartIDFromContext(r.Context())
	err := h.carts.AddItem(ctx, cartID, domain.CartItem{
		ID:        strings.TrimSpace(req.ID),
		Name:      strings.TrimSpace(req.Name),
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
		ImageRef:  req.ImageRef,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondCart(ctx, w, r, http.StatusCreated)
}

// PUT /api/v1/cart/items/{item_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	itemID := chi.URLParam(r, "item_id")
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity is required")
		return
	}
	if *req.Quantity < 0 || *req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}

	cartID := getCartIDFromContext(r.Context())
	if err := h.carts.UpdateQuantity(ctx, cartID, itemID, *req.Quantity); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondCart(ctx, w, r, http.StatusOK)
}

// DELETE /api/v1/cart/items/{item_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cartID := getCartIDFromContext(r.Context())
	if err := h.carts.RemoveItem(ctx, cartID, chi.URLParam(r, "item_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondCart(ctx, w, r, http.StatusOK)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cartID := getCartIDFromContext(r.Context())
	if err := h.carts.ClearCart(ctx, cartID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondCart(ctx, w, r, http.StatusOK)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, r *http.Request, status int) {
	cartID := getCartIDFromContext(r.Context())
	cart, err := h.carts.GetCart(ctx, cartID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, status, newCartResponse(cartID, cart))
}

func newCartResponse(cartID string, cart *domain.Cart) CartResponseDTO {
	items := make([]CartItemDTO, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, CartItemDTO{
			ID:        it.ID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal().StringFixed(2),
			ImageRef:  it.ImageRef,
		})
	}
	return CartResponseDTO{
		CartID:  cartID,
		Items:   items,
		Summary: newSummaryDTO(pricing.Compute(cart.Items)),
	}
}

func newSummaryDTO(a pricing.Aggregate) SummaryDTO {
	return SummaryDTO{
		ItemCount: a.ItemCount,
		Subtotal:  a.Subtotal.StringFixed(2),
		TaxRate:   a.TaxRate.String(),
		Tax:       a.Tax.StringFixed(2),
		Shipping:  a.Shipping.StringFixed(2),
		Total:     a.Total.StringFixed(2),
	}
}
