// Package publisher announces confirmed orders to downstream consumers.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/gourilakshmianusha/petshoptify/internal/pricing"
)

const EventTypeOrderConfirmed = "order.confirmed"

type OrderConfirmedEvent struct {
	EventID          string                  `json:"event_id"`
	CartID           string                  `json:"cart_id"`
	AttemptID        string                  `json:"attempt_id"`
	OrderID          string                  `json:"order_id"`
	Items            []domain.CartItem       `json:"items"`
	ItemCount        int                     `json:"item_count"`
	Subtotal         decimal.Decimal         `json:"subtotal"`
	Tax              decimal.Decimal         `json:"tax"`
	Shipping         decimal.Decimal         `json:"shipping"`
	Total            decimal.Decimal         `json:"total"`
	DeliveryEstimate domain.DeliveryEstimate `json:"delivery_estimate_days"`
	ConfirmedAt      time.Time               `json:"confirmed_at"`
}

func NewOrderConfirmedEvent(cartID, attemptID string, conf domain.OrderConfirmation, items []domain.CartItem, totals pricing.Aggregate) OrderConfirmedEvent {
	return OrderConfirmedEvent{
		EventID:          uuid.NewString(),
		CartID:           cartID,
		AttemptID:        attemptID,
		OrderID:          conf.OrderID,
		Items:            items,
		ItemCount:        totals.ItemCount,
		Subtotal:         totals.Subtotal,
		Tax:              totals.Tax,
		Shipping:         totals.Shipping,
		Total:            totals.Total,
		DeliveryEstimate: conf.DeliveryEstimate,
		ConfirmedAt:      conf.CreatedAt,
	}
}

type Publisher interface {
	PublishOrderConfirmed(ctx context.Context, event OrderConfirmedEvent) error
	Close() error
}

// LogPublisher only logs events. Used when no brokers are configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishOrderConfirmed(ctx context.Context, event OrderConfirmedEvent) error {
	p.log.InfoContext(ctx, "order confirmed",
		"event_id", event.EventID,
		"cart_id", event.CartID,
		"order_id", event.OrderID,
		"total", event.Total.StringFixed(2))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
