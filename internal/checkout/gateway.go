package checkout

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/shopspring/decimal"
)

type SettlementRequest struct {
	AttemptID string
	Amount    decimal.Decimal
	Form      domain.CheckoutForm
}

// Gateway finalizes payment for one checkout attempt. A non-nil error moves the
// session to Failed with the error text as the reason.
type Gateway interface {
	Settle(ctx context.Context, req SettlementRequest) error
}

// DeclinedError is returned by gateways that refuse a charge.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

// SimulatedGateway approves every settlement. No network call is made; the
// round trip latency is modelled by the session's settlement delay.
type SimulatedGateway struct{}

func (SimulatedGateway) Settle(context.Context, SettlementRequest) error {
	return nil
}

// Refusal reasons reported by RandomDeclineGateway.
var refusalReasons = []string{
	"insufficient funds",
	"card expired",
	"suspected fraud",
	"issuer unavailable",
}

// RandomDeclineGateway refuses roughly DeclinePercent of settlements, for
// exercising the failure path in demos and load tests.
type RandomDeclineGateway struct {
	DeclinePercent int
	// IntN returns a uniform int in [0, n); nil uses math/rand/v2.
	IntN func(n int) int
}

func (g RandomDeclineGateway) Settle(context.Context, SettlementRequest) error {
	intN := g.IntN
	if intN == nil {
		intN = rand.IntN
	}
	if intN(100) >= g.DeclinePercent {
		return nil
	}
	return &DeclinedError{Reason: refusalReasons[intN(len(refusalReasons))]}
}
