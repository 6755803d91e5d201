package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gourilakshmianusha/petshoptify/internal/confirmation"
	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/gourilakshmianusha/petshoptify/internal/pricing"
)

const (
	// DefaultSettlementDelay models the payment gateway round trip.
	DefaultSettlementDelay = 2500 * time.Millisecond
	// DefaultSettleTimeout bounds the gateway call and the completion hook
	// together. The session stays locked for that long at most.
	DefaultSettleTimeout = 10 * time.Second
)

// Settlement describes a checkout attempt that the gateway approved.
type Settlement struct {
	AttemptID    string
	Items        []domain.CartItem
	Totals       pricing.Aggregate
	Form         domain.CheckoutForm
	Confirmation domain.OrderConfirmation
	StartedAt    time.Time
}

// CompletionFunc applies the success side effects (cart clear, confirmation
// hand-off). It runs while the session is locked and must not call back into it.
// Returning an error fails the attempt and discards the confirmation.
type CompletionFunc func(ctx context.Context, s Settlement) error

// SettledFunc observes every attempt that reached a terminal state.
type SettledFunc func(state domain.CheckoutState, elapsed time.Duration)

type Options struct {
	Delay         time.Duration
	SettleTimeout time.Duration
	Scheduler     Scheduler
	Gateway       Gateway
	Generator     *confirmation.Generator
	OnComplete    CompletionFunc
	OnSettled     SettledFunc
	Now           func() time.Time
	Logger        *slog.Logger
}

// Snapshot is a copy of the session state for callers to render.
type Snapshot struct {
	State        domain.CheckoutState      `json:"state"`
	AttemptID    string                    `json:"attempt_id,omitempty"`
	StartedAt    *time.Time                `json:"started_at,omitempty"`
	ErrorReason  string                    `json:"error_reason,omitempty"`
	Confirmation *domain.OrderConfirmation `json:"confirmation,omitempty"`
}

type pendingCheckout struct {
	form   domain.CheckoutForm
	items  []domain.CartItem
	totals pricing.Aggregate
}

// Session drives one checkout at a time: Idle -> Processing -> Succeeded|Failed -> Idle.
type Session struct {
	mu   sync.Mutex
	opts Options
	log  *slog.Logger

	state        domain.CheckoutState
	attempt      uint64
	attemptID    string
	startedAt    *time.Time
	errorReason  string
	task         Task
	pending      *pendingCheckout
	confirmation *domain.OrderConfirmation
	retired      bool
}

func NewSession(opts Options) *Session {
	if opts.Delay <= 0 {
		opts.Delay = DefaultSettlementDelay
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = DefaultSettleTimeout
	}
	if opts.Scheduler == nil {
		opts.Scheduler = TimerScheduler{}
	}
	if opts.Gateway == nil {
		opts.Gateway = SimulatedGateway{}
	}
	if opts.Generator == nil {
		opts.Generator = confirmation.NewGenerator(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		opts:  opts,
		log:   opts.Logger,
		state: domain.CheckoutStateIdle,
	}
}

// Submit validates the attempt and schedules settlement. Nothing changes when it
// returns an error. Submitting after a terminal state starts a fresh attempt.
func (s *Session) Submit(ctx context.Context, form domain.CheckoutForm, items []domain.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired {
		return ErrSessionRetired
	}
	if s.state == domain.CheckoutStateProcessing {
		s.log.WarnContext(ctx, "checkout submit rejected, attempt in flight", "attempt_id", s.attemptID)
		return ErrAlreadyProcessing
	}
	if len(items) == 0 {
		return ErrEmptyCart
	}
	if err := form.Validate(); err != nil {
		return err
	}

	if s.state.IsTerminal() {
		s.resetLocked()
	}
	if err := s.transition(domain.CheckoutStateProcessing); err != nil {
		return err
	}

	snapshot := append([]domain.CartItem(nil), items...)
	now := s.opts.Now()
	s.attempt++
	s.attemptID = uuid.NewString()
	s.startedAt = &now
	s.errorReason = ""
	s.confirmation = nil
	s.pending = &pendingCheckout{
		form:   form,
		items:  snapshot,
		totals: pricing.Compute(snapshot),
	}

	attempt := s.attempt
	settleCtx := context.WithoutCancel(ctx)
	s.task = s.opts.Scheduler.AfterFunc(s.opts.Delay, func() {
		s.settle(settleCtx, attempt)
	})

	s.log.InfoContext(ctx, "checkout processing",
		"attempt_id", s.attemptID,
		"item_count", s.pending.totals.ItemCount,
		"total", s.pending.totals.Total.StringFixed(2))
	return nil
}

// Cancel abandons the in-flight attempt. It fails with ErrNotProcessing once the
// settlement has already committed a terminal state.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.CheckoutStateProcessing {
		return ErrNotProcessing
	}
	if s.task != nil {
		s.task.Stop()
	}
	if err := s.transition(domain.CheckoutStateIdle); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "checkout cancelled", "attempt_id", s.attemptID)
	s.clearAttemptLocked()
	return nil
}

// Reset returns a settled or idle session to Idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.CheckoutStateProcessing {
		return ErrIllegalTransition
	}
	s.resetLocked()
	return nil
}

// Retire marks the session as finished for good so its owner can drop it.
// An idle session always retires. A settled one retires, and is reset, only
// when its attempt started before cutoff. A retired session rejects Submit
// with ErrSessionRetired.
func (s *Session) Retire(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.retired, s.state == domain.CheckoutStateIdle:
	case s.state.IsTerminal() && s.startedAt != nil && s.startedAt.Before(cutoff):
		s.resetLocked()
	default:
		return false
	}
	s.retired = true
	return true
}

func (s *Session) State() domain.CheckoutState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:       s.state,
		AttemptID:   s.attemptID,
		ErrorReason: s.errorReason,
	}
	if s.startedAt != nil {
		started := *s.startedAt
		snap.StartedAt = &started
	}
	if s.confirmation != nil {
		conf := *s.confirmation
		snap.Confirmation = &conf
	}
	return snap
}

func (s *Session) settle(ctx context.Context, attempt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a cancel or a newer attempt won the race; this resume is stale
	if s.state != domain.CheckoutStateProcessing || s.attempt != attempt {
		return
	}
	s.task = nil
	pending := s.pending

	ctx, cancel := context.WithTimeout(ctx, s.opts.SettleTimeout)
	defer cancel()

	err := s.opts.Gateway.Settle(ctx, SettlementRequest{
		AttemptID: s.attemptID,
		Amount:    pending.totals.Total,
		Form:      pending.form,
	})
	if err != nil {
		s.failLocked(ctx, err.Error())
		return
	}

	conf := s.opts.Generator.Create()
	if s.opts.OnComplete != nil {
		err = s.opts.OnComplete(ctx, Settlement{
			AttemptID:    s.attemptID,
			Items:        pending.items,
			Totals:       pending.totals,
			Form:         pending.form,
			Confirmation: conf,
			StartedAt:    *s.startedAt,
		})
		if err != nil {
			s.failLocked(ctx, fmt.Sprintf("completing checkout: %v", err))
			return
		}
	}

	if err := s.transition(domain.CheckoutStateSucceeded); err != nil {
		s.log.ErrorContext(ctx, "checkout settle", "attempt_id", s.attemptID, "error", err)
		return
	}
	s.confirmation = &conf
	s.pending = nil
	s.log.InfoContext(ctx, "checkout succeeded", "attempt_id", s.attemptID, "order_id", conf.OrderID)
	s.observe()
}

func (s *Session) failLocked(ctx context.Context, reason string) {
	if err := s.transition(domain.CheckoutStateFailed); err != nil {
		s.log.ErrorContext(ctx, "checkout fail", "attempt_id", s.attemptID, "error", err)
		return
	}
	s.errorReason = reason
	s.pending = nil
	s.log.WarnContext(ctx, "checkout failed", "attempt_id", s.attemptID, "reason", reason)
	s.observe()
}

func (s *Session) observe() {
	if s.opts.OnSettled == nil || s.startedAt == nil {
		return
	}
	s.opts.OnSettled(s.state, s.opts.Now().Sub(*s.startedAt))
}

func (s *Session) transition(to domain.CheckoutState) error {
	if !domain.CanTransitionTo(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.state, to)
	}
	s.state = to
	return nil
}

func (s *Session) resetLocked() {
	s.state = domain.CheckoutStateIdle
	s.clearAttemptLocked()
}

func (s *Session) clearAttemptLocked() {
	s.task = nil
	s.startedAt = nil
	s.errorReason = ""
	s.pending = nil
	s.confirmation = nil
}
