package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gourilakshmianusha/petshoptify/internal/checkout"
	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/gourilakshmianusha/petshoptify/internal/repository"
	"github.com/gourilakshmianusha/petshoptify/internal/service"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps service and domain errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   vErr.Error(),
			Code:    "validation_failed",
			Details: vErr.Field,
		})
		return
	}

	var httpStatus int
	var code string

	switch {
	case errors.Is(err, service.ErrInvalidItem), errors.Is(err, repository.ErrInvalidQuantity):
		httpStatus = http.StatusBadRequest
		code = "invalid_argument"
	case errors.Is(err, repository.ErrItemNotFound), errors.Is(err, repository.ErrCartNotFound):
		httpStatus = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, service.ErrNoConfirmation):
		httpStatus = http.StatusNotFound
		code = "no_confirmation"
	case errors.Is(err, checkout.ErrAlreadyProcessing):
		httpStatus = http.StatusConflict
		code = "already_processing"
	case errors.Is(err, checkout.ErrNotProcessing):
		httpStatus = http.StatusConflict
		code = "not_processing"
	case errors.Is(err, checkout.ErrIllegalTransition):
		httpStatus = http.StatusConflict
		code = "illegal_transition"
	case errors.Is(err, service.ErrKeyConflict):
		httpStatus = http.StatusConflict
		code = "idempotency_key_conflict"
	case errors.Is(err, checkout.ErrEmptyCart):
		httpStatus = http.StatusUnprocessableEntity
		code = "empty_cart"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}
