package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gourilakshmianusha/petshoptify/internal/checkout"
	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/gourilakshmianusha/petshoptify/internal/service"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type CheckoutService interface {
	Submit(ctx context.Context, cartID, key string, values map[string]string) (*service.SubmitResult, error)
	Status(ctx context.Context, cartID string) (*service.CheckoutStatus, error)
	Cancel(ctx context.Context, cartID string) (checkout.Snapshot, error)
	Confirmation(ctx context.Context, cartID string) (domain.OrderConfirmation, error)
}

type CheckoutHandler struct {
	checkouts CheckoutService
	timeout   time.Duration
}

func NewCheckoutHandler(checkouts CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkouts: checkouts,
		timeout:   timeout,
	}
}

type CheckoutResponseDTO struct {
	checkout.Snapshot
	Duplicate bool `json:"duplicate,omitempty"`
}

type ConfirmationResponseDTO struct {
	OrderID          string                  `json:"order_id"`
	DeliveryEstimate domain.DeliveryEstimate `json:"delivery_estimate_days"`
	DeliveryLabel    string                  `json:"delivery_label"`
	CreatedAt        time.Time               `json:"created_at"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	// fields are keyed by the domain.Field* names
	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cartID := getCartIDFromContext(r.Context())
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	res, err := h.checkouts.Submit(ctx, cartID, key, values)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, CheckoutResponseDTO{Snapshot: res.Snapshot, Duplicate: res.Duplicate})
}

// GET /api/v1/checkout
func (h *CheckoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	st, err := h.checkouts.Status(ctx, getCartIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// DELETE /api/v1/checkout
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.checkouts.Cancel(ctx, getCartIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CheckoutResponseDTO{Snapshot: snap})
}

// GET /api/v1/checkout/confirmation
func (h *CheckoutHandler) Confirmation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	conf, err := h.checkouts.Confirmation(ctx, getCartIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ConfirmationResponseDTO{
		OrderID:          conf.OrderID,
		DeliveryEstimate: conf.DeliveryEstimate,
		DeliveryLabel:    conf.DeliveryEstimate.String(),
		CreatedAt:        conf.CreatedAt,
	})
}
