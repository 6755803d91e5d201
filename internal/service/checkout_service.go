package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/gourilakshmianusha/petshoptify/internal/checkout"
	"github.com/gourilakshmianusha/petshoptify/internal/confirmation"
	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/gourilakshmianusha/petshoptify/internal/idempotency"
	"github.com/gourilakshmianusha/petshoptify/internal/metrics"
	"github.com/gourilakshmianusha/petshoptify/internal/publisher"
)

const (
	publishTimeout = 5 * time.Second

	DefaultRetention     = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// CheckoutConfig carries the settings shared by every cart's session.
type CheckoutConfig struct {
	Delay         time.Duration
	SettleTimeout time.Duration
	// Retention is how long a settled session and its confirmation are
	// kept once nobody looks at them.
	Retention time.Duration
	Scheduler checkout.Scheduler
	Gateway   checkout.Gateway
	Generator *confirmation.Generator
	Now       func() time.Time
}

type SubmitResult struct {
	Snapshot  checkout.Snapshot
	Duplicate bool
}

type CheckoutStatus struct {
	checkout.Snapshot
	CartEmpty bool `json:"cart_empty"`
}

type storedConfirmation struct {
	conf     domain.OrderConfirmation
	storedAt time.Time
}

// CheckoutService owns one checkout session per cart. Sessions exist only
// while a cart has an attempt in flight or an outcome to report; idle ones
// are dropped.
type CheckoutService struct {
	carts     *CartService
	keys      idempotency.Store
	publisher publisher.Publisher
	metrics   *metrics.CheckoutMetrics
	cfg       CheckoutConfig
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*checkout.Session

	// confMu is separate from mu because the completion hook takes it while
	// a session is locked.
	confMu        sync.Mutex
	confirmations map[string]storedConfirmation

	publishing sync.WaitGroup
}

func NewCheckoutService(
	carts *CartService,
	keys idempotency.Store,
	pub publisher.Publisher,
	m *metrics.CheckoutMetrics,
	cfg CheckoutConfig,
	log *slog.Logger,
) *CheckoutService {
	if keys == nil {
		keys = idempotency.NewMemoryStore()
	}
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = publisher.NewLogPublisher(log)
	}
	if m == nil {
		m = metrics.New(nil).Checkout
	}
	if cfg.Generator == nil {
		cfg.Generator = confirmation.NewGenerator(nil)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CheckoutService{
		carts:         carts,
		keys:          keys,
		publisher:     pub,
		metrics:       m,
		cfg:           cfg,
		log:           log,
		sessions:      make(map[string]*checkout.Session),
		confirmations: make(map[string]storedConfirmation),
	}
}

// Submit starts a checkout attempt for the cart's current items. values are
// the raw form fields; they go through domain.NewCheckoutForm. A non-empty
// key is reserved before anything starts: reusing it on the same cart
// returns the current snapshot, reusing it on another cart fails with
// ErrKeyConflict.
func (s *CheckoutService) Submit(ctx context.Context, cartID, key string, values map[string]string) (*SubmitResult, error) {
	if key != "" {
		rec, err := s.reserveKey(ctx, cartID, key)
		switch {
		case err != nil:
			s.metrics.ObserveSubmission(metrics.ResultError)
			return nil, err
		case rec != nil && rec.CartID != cartID:
			s.metrics.ObserveSubmission(metrics.ResultRejected)
			return nil, ErrKeyConflict
		case rec != nil:
			s.metrics.ObserveSubmission(metrics.ResultDuplicate)
			s.log.InfoContext(ctx, "duplicate checkout submission", "cart_id", cartID, "attempt_id", rec.AttemptID)
			return &SubmitResult{Snapshot: s.snapshot(cartID), Duplicate: true}, nil
		}
	}

	snap, err := s.start(ctx, cartID, values)
	if err != nil {
		s.metrics.ObserveSubmission(submitResult(err))
		if key != "" {
			s.releaseKey(ctx, cartID, key)
		}
		return nil, err
	}
	s.metrics.ObserveSubmission(metrics.ResultAccepted)

	if key != "" {
		if err := s.keys.SetAttempt(ctx, key, snap.AttemptID); err != nil {
			// the reservation still blocks a second attempt; only the attempt id is lost
			s.log.WarnContext(ctx, "failed to record idempotency key attempt", "cart_id", cartID, "error", err)
		}
	}
	return &SubmitResult{Snapshot: snap}, nil
}

// start reports errors in the same order Session.Submit does: an attempt in
// flight, then an empty cart, then the form.
func (s *CheckoutService) start(ctx context.Context, cartID string, values map[string]string) (checkout.Snapshot, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return checkout.Snapshot{}, fmt.Errorf("loading cart: %w", err)
	}

	form, formErr := domain.NewCheckoutForm(values)
	for {
		sess := s.lookup(cartID)
		if formErr != nil || cart.IsEmpty() {
			switch {
			case sess != nil && sess.State() == domain.CheckoutStateProcessing:
				return checkout.Snapshot{}, checkout.ErrAlreadyProcessing
			case cart.IsEmpty():
				return checkout.Snapshot{}, checkout.ErrEmptyCart
			default:
				return checkout.Snapshot{}, formErr
			}
		}
		if sess == nil {
			sess = s.session(cartID)
		}

		err := sess.Submit(ctx, form, cart.Items)
		if errors.Is(err, checkout.ErrSessionRetired) {
			s.forget(cartID, sess)
			continue
		}
		if err != nil {
			return checkout.Snapshot{}, err
		}
		return sess.Snapshot(), nil
	}
}

// reserveKey claims key for cartID. It returns nil when the key is now ours,
// or the existing record when someone else holds it.
func (s *CheckoutService) reserveKey(ctx context.Context, cartID, key string) (*idempotency.Record, error) {
	for range 2 {
		err := s.keys.Save(ctx, idempotency.Record{Key: key, CartID: cartID})
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, idempotency.ErrKeyExists) {
			return nil, fmt.Errorf("reserving idempotency key: %w", err)
		}

		rec, err := s.keys.Get(ctx, key)
		if errors.Is(err, idempotency.ErrKeyNotFound) {
			// released by a submission that failed; try to claim it again
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("reserving idempotency key: %w", idempotency.ErrKeyExists)
}

// releaseKey frees a reservation whose submission was rejected, so the
// shopper can fix the form and retry with the same key.
func (s *CheckoutService) releaseKey(ctx context.Context, cartID, key string) {
	if err := s.keys.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.WarnContext(ctx, "failed to release idempotency key", "cart_id", cartID, "error", err)
	}
}

// Status reports the session state. A settled-as-failed session whose cart
// emptied in the meantime is reset so the caller can send the shopper back
// to the shop. A cart without a session is Idle.
func (s *CheckoutService) Status(ctx context.Context, cartID string) (*CheckoutStatus, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}

	empty := cart.IsEmpty()
	sess := s.lookup(cartID)
	if sess == nil {
		return &CheckoutStatus{Snapshot: idleSnapshot(), CartEmpty: empty}, nil
	}
	if empty && sess.State() == domain.CheckoutStateFailed {
		if err := sess.Reset(); err != nil && !errors.Is(err, checkout.ErrIllegalTransition) {
			return nil, err
		}
		snap := sess.Snapshot()
		s.dropIdle(cartID, sess)
		return &CheckoutStatus{Snapshot: snap, CartEmpty: empty}, nil
	}
	return &CheckoutStatus{Snapshot: sess.Snapshot(), CartEmpty: empty}, nil
}

func (s *CheckoutService) Cancel(ctx context.Context, cartID string) (checkout.Snapshot, error) {
	sess := s.lookup(cartID)
	if sess == nil {
		return checkout.Snapshot{}, checkout.ErrNotProcessing
	}
	if err := sess.Cancel(ctx); err != nil {
		return checkout.Snapshot{}, err
	}
	snap := sess.Snapshot()
	s.dropIdle(cartID, sess)
	return snap, nil
}

// Confirmation returns the cart's latest order confirmation. Viewing it
// returns a succeeded session to Idle. The confirmation stays readable until
// the retention window passes.
func (s *CheckoutService) Confirmation(ctx context.Context, cartID string) (domain.OrderConfirmation, error) {
	s.confMu.Lock()
	stored, ok := s.confirmations[cartID]
	s.confMu.Unlock()
	if !ok {
		return domain.OrderConfirmation{}, ErrNoConfirmation
	}

	if sess := s.lookup(cartID); sess != nil && sess.State() == domain.CheckoutStateSucceeded {
		if err := sess.Reset(); err != nil {
			s.log.WarnContext(ctx, "failed to reset checkout session", "cart_id", cartID, "error", err)
		} else {
			s.dropIdle(cartID, sess)
		}
	}
	return stored.conf, nil
}

// Sweep drops idle sessions, settled sessions whose attempt started before
// the retention window, and confirmations stored before it. It returns the
// number of sessions dropped.
func (s *CheckoutService) Sweep(now time.Time) int {
	cutoff := now.Add(-s.cfg.Retention)

	s.mu.Lock()
	candidates := maps.Clone(s.sessions)
	s.mu.Unlock()

	dropped := 0
	for cartID, sess := range candidates {
		if sess.Retire(cutoff) && s.forget(cartID, sess) {
			dropped++
		}
	}

	s.confMu.Lock()
	for cartID, stored := range s.confirmations {
		if stored.storedAt.Before(cutoff) {
			delete(s.confirmations, cartID)
		}
	}
	s.confMu.Unlock()
	return dropped
}

// Run sweeps every interval until ctx is done.
func (s *CheckoutService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.cfg.Now()); n > 0 {
				s.log.DebugContext(ctx, "dropped checkout sessions", "count", n)
			}
		}
	}
}

// Close waits for in-flight order events and closes the publisher.
func (s *CheckoutService) Close() error {
	s.publishing.Wait()
	return s.publisher.Close()
}

func (s *CheckoutService) lookup(cartID string) *checkout.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[cartID]
}

func (s *CheckoutService) snapshot(cartID string) checkout.Snapshot {
	if sess := s.lookup(cartID); sess != nil {
		return sess.Snapshot()
	}
	return idleSnapshot()
}

func (s *CheckoutService) session(cartID string) *checkout.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[cartID]
	if !ok {
		sess = checkout.NewSession(checkout.Options{
			Delay:         s.cfg.Delay,
			SettleTimeout: s.cfg.SettleTimeout,
			Scheduler:     s.cfg.Scheduler,
			Gateway:       s.cfg.Gateway,
			Generator:     s.cfg.Generator,
			Now:           s.cfg.Now,
			OnComplete:    s.completion(cartID),
			OnSettled:     s.metrics.ObserveSettlement,
			Logger:        s.log.With("cart_id", cartID),
		})
		s.sessions[cartID] = sess
	}
	return sess
}

// dropIdle retires sess and forgets it if it is still idle.
func (s *CheckoutService) dropIdle(cartID string, sess *checkout.Session) {
	if sess.Retire(time.Time{}) {
		s.forget(cartID, sess)
	}
}

// forget removes sess unless the map already holds a newer session.
func (s *CheckoutService) forget(cartID string, sess *checkout.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[cartID] != sess {
		return false
	}
	delete(s.sessions, cartID)
	return true
}

// completion runs under the session lock, so it only touches the cart
// service and confMu, never the session or s.mu.
func (s *CheckoutService) completion(cartID string) checkout.CompletionFunc {
	return func(ctx context.Context, st checkout.Settlement) error {
		if err := s.carts.ClearCart(ctx, cartID); err != nil {
			return fmt.Errorf("clearing cart: %w", err)
		}

		s.confMu.Lock()
		s.confirmations[cartID] = storedConfirmation{conf: st.Confirmation, storedAt: s.cfg.Now()}
		s.confMu.Unlock()

		event := publisher.NewOrderConfirmedEvent(cartID, st.AttemptID, st.Confirmation, st.Items, st.Totals)
		s.publishing.Add(1)
		go func() {
			defer s.publishing.Done()
			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
			defer cancel()
			if err := s.publisher.PublishOrderConfirmed(pubCtx, event); err != nil {
				s.log.WarnContext(pubCtx, "failed to publish order confirmed event", "order_id", event.OrderID, "error", err)
			}
		}()
		return nil
	}
}

func idleSnapshot() checkout.Snapshot {
	return checkout.Snapshot{State: domain.CheckoutStateIdle}
}

func submitResult(err error) string {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return metrics.ResultInvalid
	case errors.Is(err, checkout.ErrEmptyCart):
		return metrics.ResultEmptyCart
	case errors.Is(err, checkout.ErrAlreadyProcessing):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
