package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
)

const namespace = "petshoptify"

// Submission results recorded by the checkout service.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultInvalid   = "invalid"
	ResultEmptyCart = "empty_cart"
	ResultError     = "error"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

type CheckoutMetrics struct {
	Submissions  *prometheus.CounterVec
	Settlements  *prometheus.CounterVec
	SettlementMS prometheus.Histogram
}

type Metrics struct {
	Server   *ServerMetrics
	Checkout *CheckoutMetrics
	gatherer prometheus.Gatherer
}

// New registers every collector on reg. A nil reg gets a fresh registry so
// tests never collide on the default one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_submissions_total",
		Help:      "Checkout submissions by result.",
	}, []string{"result"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_settlements_total",
		Help:      "Checkout attempts that reached a terminal state.",
	}, []string{"state"})
	settlementMS := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkout_settlement_duration_ms",
		Help:      "Time from submission to terminal state in milliseconds.",
		Buckets:   []float64{100, 500, 1000, 2000, 2500, 3000, 5000, 10000},
	})

	reg.MustRegister(requests, latency, submissions, settlements, settlementMS)

	return &Metrics{
		Server:   &ServerMetrics{Requests: requests, LatencyMS: latency},
		Checkout: &CheckoutMetrics{Submissions: submissions, Settlements: settlements, SettlementMS: settlementMS},
		gatherer: reg,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (c *CheckoutMetrics) ObserveSubmission(result string) {
	c.Submissions.WithLabelValues(result).Inc()
}

func (c *CheckoutMetrics) ObserveSettlement(state domain.CheckoutState, elapsed time.Duration) {
	c.Settlements.WithLabelValues(string(state)).Inc()
	c.SettlementMS.Observe(float64(elapsed.Milliseconds()))
}

func (s *ServerMetrics) ObserveRequest(handler, status string, elapsed time.Duration) {
	s.Requests.WithLabelValues(handler, status).Inc()
	s.LatencyMS.WithLabelValues(handler).Observe(float64(elapsed.Milliseconds()))
}
