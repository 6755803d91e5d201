package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gourilakshmianusha/petshoptify/internal/checkout"
	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/gourilakshmianusha/petshoptify/internal/idempotency"
	"github.com/gourilakshmianusha/petshoptify/internal/metrics"
	"github.com/gourilakshmianusha/petshoptify/internal/publisher"
	"github.com/gourilakshmianusha/petshoptify/internal/repository"
)

var orderIDPattern = regexp.MustCompile(`^PWR-[0-9A-Z]{7}$`)

type fakePublisher struct {
	mu     sync.Mutex
	events []publisher.OrderConfirmedEvent
	err    error
	closed bool
}

func (p *fakePublisher) PublishOrderConfirmed(_ context.Context, e publisher.OrderConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

type failingDeleteRepository struct {
	*repository.MemoryRepository
}

func (failingDeleteRepository) DeleteCart(context.Context, string) error {
	return errors.New("mongo unavailable")
}

// stalledDeleteRepository blocks cart deletion until the caller gives up.
type stalledDeleteRepository struct {
	*repository.MemoryRepository
}

func (stalledDeleteRepository) DeleteCart(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

type recordingGateway struct {
	mu       sync.Mutex
	requests []checkout.SettlementRequest
}

func (g *recordingGateway) Settle(_ context.Context, req checkout.SettlementRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return nil
}

type declineGateway struct{}

func (declineGateway) Settle(context.Context, checkout.SettlementRequest) error {
	return &checkout.DeclinedError{Reason: "card declined"}
}

type checkoutFixture struct {
	repo    repository.CartRepository
	carts   *CartService
	sched   *checkout.ManualScheduler
	pub     *fakePublisher
	metrics *metrics.Metrics
	keys    *idempotency.MemoryStore
	svc     *CheckoutService
}

func newCheckoutFixture(t *testing.T, repo repository.CartRepository, gw checkout.Gateway, opts ...func(*CheckoutConfig)) *checkoutFixture {
	t.Helper()
	if repo == nil {
		repo = repository.NewMemoryRepository()
	}
	f := &checkoutFixture{
		repo:    repo,
		sched:   checkout.NewManualScheduler(),
		pub:     &fakePublisher{},
		metrics: metrics.New(nil),
		keys:    idempotency.NewMemoryStore(),
	}
	f.carts = NewCartService(repo, nil, nil)
	cfg := CheckoutConfig{
		Scheduler: f.sched,
		Gateway:   gw,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.svc = NewCheckoutService(f.carts, f.keys, f.pub, f.metrics.Checkout, cfg, nil)
	return f
}

func (f *checkoutFixture) sessionCount() int {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	return len(f.svc.sessions)
}

func (f *checkoutFixture) fillCart(t *testing.T, cartID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.carts.AddItem(ctx, cartID, item("a", "10.00", 2)))
	require.NoError(t, f.carts.AddItem(ctx, cartID, item("b", "5.00", 1)))
}

func (f *checkoutFixture) settle() int {
	return f.sched.Advance(checkout.DefaultSettlementDelay)
}

func validForm() domain.CheckoutForm {
	return domain.CheckoutForm{
		Email:      "sam@example.com",
		FirstName:  "Sam",
		LastName:   "Lee",
		Address:    "7 Paw Lane",
		City:       "Portland",
		Zip:        "97201",
		CardNumber: "4242424242424242",
		Expiry:     "09/29",
		CVC:        "321",
	}
}

func TestCheckout_SubmitAndSettle(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, domain.CheckoutStateProcessing, res.Snapshot.State)
	assert.NotEmpty(t, res.Snapshot.AttemptID)
	assert.NotNil(t, res.Snapshot.StartedAt)

	require.Equal(t, 1, f.settle())

	status, err := f.svc.Status(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateSucceeded, status.State)
	assert.True(t, status.CartEmpty)
	require.NotNil(t, status.Confirmation)
	assert.Regexp(t, orderIDPattern, status.Confirmation.OrderID)

	cart, err := f.carts.GetCart(ctx, "cart-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	require.NoError(t, f.svc.Close())
	require.Len(t, f.pub.events, 1)
	event := f.pub.events[0]
	assert.Equal(t, status.Confirmation.OrderID, event.OrderID)
	assert.Equal(t, "cart-1", event.CartID)
	assert.Equal(t, "27.00", event.Total.StringFixed(2))
	assert.Equal(t, 3, event.ItemCount)
	assert.True(t, f.pub.closed)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Checkout.Submissions.WithLabelValues(metrics.ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Checkout.Settlements.WithLabelValues("SUCCEEDED")))
}

func TestCheckout_ConfirmationResetsSession(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Confirmation(ctx, "cart-1")
	assert.ErrorIs(t, err, ErrNoConfirmation)

	_, err = f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	f.settle()

	conf, err := f.svc.Confirmation(ctx, "cart-1")
	require.NoError(t, err)
	assert.Regexp(t, orderIDPattern, conf.OrderID)
	assert.Equal(t, 2, conf.DeliveryEstimate.MinDays)
	assert.Equal(t, 4, conf.DeliveryEstimate.MaxDays)

	status, err := f.svc.Status(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateIdle, status.State)
	assert.Nil(t, status.Confirmation)

	again, err := f.svc.Confirmation(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, conf.OrderID, again.OrderID)
}

func TestCheckout_DoubleSubmit(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	assert.ErrorIs(t, err, checkout.ErrAlreadyProcessing)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Checkout.Submissions.WithLabelValues(metrics.ResultRejected)))

	assert.Equal(t, 1, f.settle())
}

func TestCheckout_IdempotencyKeyReturnsSameAttempt(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, "cart-1", "key-1", validForm().Fields())
	require.NoError(t, err)

	second, err := f.svc.Submit(ctx, "cart-1", "key-1", validForm().Fields())
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Snapshot.AttemptID, second.Snapshot.AttemptID)
	assert.Equal(t, 1, f.sched.Pending())

	rec, err := f.keys.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.Snapshot.AttemptID, rec.AttemptID)
}

func TestCheckout_IdempotencyKeyAfterSettlement(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "key-1", validForm().Fields())
	require.NoError(t, err)
	f.settle()

	res, err := f.svc.Submit(ctx, "cart-1", "key-1", validForm().Fields())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, domain.CheckoutStateSucceeded, res.Snapshot.State)
	assert.Equal(t, 0, f.sched.Pending())
}

func TestCheckout_IdempotencyKeyOtherCart(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	f.fillCart(t, "cart-2")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "key-1", validForm().Fields())
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "cart-2", "key-1", validForm().Fields())
	assert.ErrorIs(t, err, ErrKeyConflict)
	assert.Equal(t, 1, f.sched.Pending())
}

func TestCheckout_RejectedSubmitDoesNotBurnKey(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	form := validForm().Fields()
	form[domain.FieldEmail] = " "
	_, err := f.svc.Submit(ctx, "cart-1", "key-1", form)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, domain.FieldEmail, vErr.Field)

	res, err := f.svc.Submit(ctx, "cart-1", "key-1", validForm().Fields())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)

	_, err := f.svc.Submit(context.Background(), "cart-1", "", validForm().Fields())

	assert.ErrorIs(t, err, checkout.ErrEmptyCart)
	assert.Equal(t, 0, f.sched.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Checkout.Submissions.WithLabelValues(metrics.ResultEmptyCart)))
}

func TestCheckout_CancelBeforeSettlement(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)

	snap, err := f.svc.Cancel(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateIdle, snap.State)
	assert.Nil(t, snap.StartedAt)

	assert.Equal(t, 0, f.settle())

	summary, err := f.carts.Summary(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ItemCount)

	_, err = f.svc.Confirmation(ctx, "cart-1")
	assert.ErrorIs(t, err, ErrNoConfirmation)
	require.NoError(t, f.svc.Close())
	assert.Empty(t, f.pub.events)
}

func TestCheckout_CancelWhenIdle(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)

	_, err := f.svc.Cancel(context.Background(), "cart-1")

	assert.ErrorIs(t, err, checkout.ErrNotProcessing)
}

func TestCheckout_DeclinedKeepsCart(t *testing.T) {
	f := newCheckoutFixture(t, nil, declineGateway{})
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	f.settle()

	status, err := f.svc.Status(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateFailed, status.State)
	assert.Contains(t, status.ErrorReason, "card declined")
	assert.False(t, status.CartEmpty)
	assert.Nil(t, status.Confirmation)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Checkout.Settlements.WithLabelValues("FAILED")))
}

func TestCheckout_StatusResetsFailedSessionWhenCartEmpties(t *testing.T) {
	f := newCheckoutFixture(t, nil, declineGateway{})
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	f.settle()
	require.NoError(t, f.carts.ClearCart(ctx, "cart-1"))

	status, err := f.svc.Status(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateIdle, status.State)
	assert.Empty(t, status.ErrorReason)
	assert.True(t, status.CartEmpty)
}

func TestCheckout_ClearFailureFailsAttempt(t *testing.T) {
	repo := failingDeleteRepository{repository.NewMemoryRepository()}
	f := newCheckoutFixture(t, repo, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	f.settle()

	status, err := f.svc.Status(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateFailed, status.State)
	assert.Contains(t, status.ErrorReason, "clearing cart")
	assert.Nil(t, status.Confirmation)
	assert.False(t, status.CartEmpty)

	_, err = f.svc.Confirmation(ctx, "cart-1")
	assert.ErrorIs(t, err, ErrNoConfirmation)
	require.NoError(t, f.svc.Close())
	assert.Empty(t, f.pub.events)
}

func TestCheckout_PublishFailureDoesNotFailCheckout(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.pub.err = errors.New("kafka down")
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	f.settle()
	require.NoError(t, f.svc.Close())

	status, err := f.svc.Status(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateSucceeded, status.State)
}

func TestCheckout_SessionsAreIndependent(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	f.fillCart(t, "cart-2")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "cart-2", "", validForm().Fields())
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "cart-2")
	require.NoError(t, err)
	assert.Equal(t, 1, f.settle())

	one, err := f.svc.Status(ctx, "cart-1")
	require.NoError(t, err)
	two, err := f.svc.Status(ctx, "cart-2")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateSucceeded, one.State)
	assert.Equal(t, domain.CheckoutStateIdle, two.State)
	assert.False(t, two.CartEmpty)
}

func TestCheckout_SubmitTrimsFormValues(t *testing.T) {
	gw := &recordingGateway{}
	f := newCheckoutFixture(t, nil, gw)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	values := validForm().Fields()
	values[domain.FieldEmail] = "  sam@example.com "
	values[domain.FieldZip] = "\t97201\n"
	_, err := f.svc.Submit(ctx, "cart-1", "", values)
	require.NoError(t, err)
	f.settle()

	require.Len(t, gw.requests, 1)
	assert.Equal(t, "sam@example.com", gw.requests[0].Form.Email)
	assert.Equal(t, "97201", gw.requests[0].Form.Zip)
}

func TestCheckout_FormErrorsKeepSubmitOrder(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	ctx := context.Background()
	missingZip := validForm().Fields()
	delete(missingZip, domain.FieldZip)

	_, err := f.svc.Submit(ctx, "cart-1", "", missingZip)
	assert.ErrorIs(t, err, checkout.ErrEmptyCart)

	f.fillCart(t, "cart-1")
	_, err = f.svc.Submit(ctx, "cart-1", "", missingZip)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, domain.FieldZip, vErr.Field)

	_, err = f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "cart-1", "", missingZip)
	assert.ErrorIs(t, err, checkout.ErrAlreadyProcessing)
}

func TestCheckout_ReadsOfUnknownCartAllocateNothing(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	ctx := context.Background()

	status, err := f.svc.Status(ctx, "stranger")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateIdle, status.State)
	assert.True(t, status.CartEmpty)

	_, err = f.svc.Cancel(ctx, "stranger")
	assert.ErrorIs(t, err, checkout.ErrNotProcessing)

	_, err = f.svc.Confirmation(ctx, "stranger")
	assert.ErrorIs(t, err, ErrNoConfirmation)

	_, err = f.svc.Submit(ctx, "stranger", "", validForm().Fields())
	assert.ErrorIs(t, err, checkout.ErrEmptyCart)

	assert.Equal(t, 0, f.sessionCount())
}

func TestCheckout_IdleSessionsAreDropped(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	require.Equal(t, 1, f.sessionCount())

	_, err = f.svc.Cancel(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, 0, f.sessionCount())

	_, err = f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	f.settle()
	_, err = f.svc.Confirmation(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, 0, f.sessionCount())
}

func TestCheckout_SweepDropsExpiredState(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	f.fillCart(t, "cart-2")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	f.settle()
	_, err = f.svc.Submit(ctx, "cart-2", "", validForm().Fields())
	require.NoError(t, err)

	assert.Equal(t, 0, f.svc.Sweep(time.Now()))
	assert.Equal(t, 2, f.sessionCount())

	assert.Equal(t, 1, f.svc.Sweep(time.Now().Add(DefaultRetention+time.Minute)))
	assert.Equal(t, 1, f.sessionCount())

	_, err = f.svc.Confirmation(ctx, "cart-1")
	assert.ErrorIs(t, err, ErrNoConfirmation)
	status, err := f.svc.Status(ctx, "cart-2")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateProcessing, status.State)

	// the in-flight attempt still settles after the sweep
	assert.Equal(t, 1, f.settle())
	status, err = f.svc.Status(ctx, "cart-2")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateSucceeded, status.State)
}

func TestCheckout_RunStopsWithContext(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.svc.Run(ctx, time.Millisecond)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestCheckout_StalledCartClearFailsAttempt(t *testing.T) {
	repo := stalledDeleteRepository{repository.NewMemoryRepository()}
	f := newCheckoutFixture(t, repo, nil, func(cfg *CheckoutConfig) {
		cfg.SettleTimeout = 20 * time.Millisecond
	})
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "cart-1", "", validForm().Fields())
	require.NoError(t, err)
	f.settle()

	status, err := f.svc.Status(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStateFailed, status.State)
	assert.Equal(t, "completing checkout: clearing cart: context deadline exceeded", status.ErrorReason)
	assert.Nil(t, status.Confirmation)
	assert.False(t, status.CartEmpty)
}

func TestCheckout_ConcurrentSubmitsWithSameKey(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	ctx := context.Background()

	results := make([]*SubmitResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.Submit(ctx, "cart-1", "key-1", validForm().Fields())
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0].Duplicate, results[1].Duplicate)
	assert.Equal(t, 1, f.sched.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Checkout.Submissions.WithLabelValues(metrics.ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Checkout.Submissions.WithLabelValues(metrics.ResultDuplicate)))
}

func TestCheckout_ConcurrentSameKeyOnTwoCarts(t *testing.T) {
	f := newCheckoutFixture(t, nil, nil)
	f.fillCart(t, "cart-1")
	f.fillCart(t, "cart-2")
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, cartID := range []string{"cart-1", "cart-2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(ctx, cartID, "key-1", validForm().Fields())
		}()
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if errors.Is(err, ErrKeyConflict) {
			conflicts++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, f.sched.Pending())
}
