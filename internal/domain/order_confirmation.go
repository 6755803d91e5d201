package domain

import (
	"fmt"
	"time"
)

// DeliveryEstimate is a delivery window in business days.
type DeliveryEstimate struct {
	MinDays int `json:"min_days"`
	MaxDays int `json:"max_days"`
}

func (d DeliveryEstimate) String() string {
	return fmt.Sprintf("%d-%d Business Days", d.MinDays, d.MaxDays)
}

// OrderConfirmation is created once per successful checkout and never changes afterwards.
type OrderConfirmation struct {
	OrderID          string           `json:"order_id"`
	DeliveryEstimate DeliveryEstimate `json:"delivery_estimate_days"`
	CreatedAt        time.Time        `json:"created_at"`
}
