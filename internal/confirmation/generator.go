package confirmation

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
)

const (
	OrderIDPrefix = "PWR-"
	orderIDLength = 7
	alphabet      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// DefaultDeliveryEstimate is a fixed policy, not derived from the cart or address.
var DefaultDeliveryEstimate = domain.DeliveryEstimate{MinDays: 2, MaxDays: 4}

// RandomSource returns a uniform int in [0, n).
type RandomSource interface {
	IntN(n int) int
}

// RandomFunc adapts a plain function to RandomSource.
type RandomFunc func(n int) int

func (f RandomFunc) IntN(n int) int { return f(n) }

// Generator mints display order ids. Ids are not guaranteed unique; with 36^7
// possible values collisions are negligible for storefront volume.
type Generator struct {
	random RandomSource
	now    func() time.Time
}

// NewGenerator uses the goroutine-safe math/rand/v2 global source when random is nil.
func NewGenerator(random RandomSource) *Generator {
	if random == nil {
		random = RandomFunc(rand.IntN)
	}
	return &Generator{random: random, now: time.Now}
}

func (g *Generator) Create() domain.OrderConfirmation {
	return domain.OrderConfirmation{
		OrderID:          g.orderID(),
		DeliveryEstimate: DefaultDeliveryEstimate,
		CreatedAt:        g.now(),
	}
}

func (g *Generator) orderID() string {
	var b strings.Builder
	b.Grow(len(OrderIDPrefix) + orderIDLength)
	b.WriteString(OrderIDPrefix)
	for i := 0; i < orderIDLength; i++ {
		b.WriteByte(alphabet[g.random.IntN(len(alphabet))])
	}
	return b.String()
}
