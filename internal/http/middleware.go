package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gourilakshmianusha/petshoptify/internal/metrics"
)

type contextKey string

const (
	cartIDKey contextKey = "cart_id"

	CartIDHeader   = "X-Cart-ID"
	maxCartIDBytes = 128
)

// CartIDMiddleware reads the shopper's cart identity from the X-Cart-ID header.
// Carts are anonymous; anyone holding the id owns the cart.
func CartIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cartID := strings.TrimSpace(r.Header.Get(CartIDHeader))
		if cartID == "" {
			respondError(w, http.StatusBadRequest, "missing_cart_id", CartIDHeader+" header is required")
			return
		}
		if len(cartID) > maxCartIDBytes {
			respondError(w, http.StatusBadRequest, "invalid_cart_id", CartIDHeader+" header is too long")
			return
		}

		ctx := context.WithValue(r.Context(), cartIDKey, cartID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getCartIDFromContext(ctx context.Context) string {
	if cartID, ok := ctx.Value(cartIDKey).(string); ok {
		return cartID
	}
	return ""
}

// InstrumentMiddleware logs every request and records it in the server metrics,
// labelled by route pattern.
func InstrumentMiddleware(m *metrics.ServerMetrics, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)

			if m != nil {
				m.ObserveRequest(r.Method+" "+route, strconv.Itoa(status), elapsed)
			}
			log.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
