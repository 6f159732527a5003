package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/broker"
	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/metrics"
	"github.com/tathienbao/exec-core/internal/order"
	"github.com/tathienbao/exec-core/internal/types"
	"golang.org/x/time/rate"
)

// LiveConfig holds live backend parameters.
type LiveConfig struct {
	MaxAttempts    int           // placement attempts before REJECTED
	RetryDelay     time.Duration // first retry delay
	RetryBackoff   float64       // delay multiplier per attempt
	CallTimeout    time.Duration // per broker call
	PollInterval   time.Duration // reconciliation loop interval
	CallsPerSecond int           // broker call rate limit
}

// DefaultLiveConfig returns production defaults.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		MaxAttempts:    3,
		RetryDelay:     250 * time.Millisecond,
		RetryBackoff:   2.0,
		CallTimeout:    3 * time.Second,
		PollInterval:   2 * time.Second,
		CallsPerSecond: 10,
	}
}

// LiveBackend executes orders against an external broker adapter. Local
// order state is an optimistic cache of the broker's ground truth; the
// reconciliation loop corrects it, never the other way around.
type LiveBackend struct {
	cfg      LiveConfig
	adapter  broker.Adapter
	gate     broker.Gate
	bus      *bus.Bus
	logger   *slog.Logger
	recorder *metrics.Recorder
	limiter  *rate.Limiter

	mu      sync.Mutex
	tracked map[string]*order.Order // order id -> orders awaiting reconciliation
	closing map[string]bool         // order id -> exit placement in flight

	done chan struct{}
	wg   sync.WaitGroup
}

// NewLiveBackend creates a live backend. A nil gate never vetoes.
func NewLiveBackend(cfg LiveConfig, adapter broker.Adapter, gate broker.Gate, b *bus.Bus, recorder *metrics.Recorder, logger *slog.Logger) *LiveBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = broker.AllowAll{}
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 3 * time.Second
	}
	if cfg.CallsPerSecond <= 0 {
		cfg.CallsPerSecond = 10
	}
	return &LiveBackend{
		cfg:      cfg,
		adapter:  adapter,
		gate:     gate,
		bus:      b,
		logger:   logger,
		recorder: recorder,
		limiter:  rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), cfg.CallsPerSecond),
		tracked:  make(map[string]*order.Order),
		closing:  make(map[string]bool),
		done:     make(chan struct{}),
	}
}

func (l *LiveBackend) Name() string { return "live" }

// Place submits an order with bounded retry. It may block for the
// duration of the retry backoff but never waits for a fill; fills arrive
// through the reconciliation loop.
func (l *LiveBackend) Place(ctx context.Context, o *order.Order) error {
	ev, err := o.Submit(time.Now())
	if err != nil {
		return err
	}
	l.bus.Publish(ev)

	// Safety gate: a veto never reaches the broker and is never retried.
	if err := l.gate.Allow(o.Symbol(), o.Side(), o.RequestedQty()); err != nil {
		ev, rejErr := o.Reject("guardian_blocked", time.Now(), map[string]string{"error": err.Error()})
		if rejErr != nil {
			return rejErr
		}
		l.bus.Publish(ev)
		l.logger.Warn("placement vetoed",
			"order_id", o.ID(),
			"symbol", o.Symbol(),
			"err", err,
		)
		return fmt.Errorf("%w: %v", types.ErrGuardianBlocked, err)
	}

	brokerID, attempts, lastErr := l.placeWithRetry(ctx, o)
	if lastErr != nil {
		ev, rejErr := o.Reject("placement_failed", time.Now(), map[string]string{
			"attempts": strconv.Itoa(attempts),
			"error":    lastErr.Error(),
		})
		if rejErr != nil {
			return rejErr
		}
		l.bus.Publish(ev)
		return fmt.Errorf("%w after %d attempts: %v", types.ErrRetriesExhausted, attempts, lastErr)
	}

	o.SetBrokerOrderID(brokerID)
	l.track(o)

	l.logger.Info("live order placed",
		"order_id", o.ID(),
		"broker_order_id", brokerID,
		"symbol", o.Symbol(),
		"side", o.Side().String(),
		"qty", o.RequestedQty(),
		"attempts", attempts,
	)
	return nil
}

// placeWithRetry attempts broker placement up to MaxAttempts times.
// Timeouts count against the retry budget like any transient failure.
func (l *LiveBackend) placeWithRetry(ctx context.Context, o *order.Order) (string, int, error) {
	delay := l.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		brokerID, err := l.callPlace(ctx, o)
		if err == nil {
			return brokerID, attempt, nil
		}
		lastErr = err
		l.recorder.RecordBrokerError("place")
		l.logger.Warn("placement attempt failed",
			"order_id", o.ID(),
			"attempt", attempt,
			"err", err,
		)

		if attempt == l.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", attempt, ctx.Err()
		case <-time.After(delay):
		}
		if l.cfg.RetryBackoff > 1 {
			delay = time.Duration(float64(delay) * l.cfg.RetryBackoff)
		}
	}
	return "", l.cfg.MaxAttempts, lastErr
}

// callPlace performs one rate-limited, timeout-bounded placement call.
func (l *LiveBackend) callPlace(ctx context.Context, o *order.Order) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	id, err := l.adapter.PlaceOrder(callCtx, o.Symbol(), o.Side(), o.RequestedQty(), o.Type(), o.LimitPrice())
	timer.ObserveBrokerCall("place")
	if callCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w: %v", types.ErrBrokerTimeout, err)
	}
	return id, err
}

// Cancel issues a broker cancel request. The order stays SUBMITTED:
// the true outcome is only known after the next reconciliation poll.
func (l *LiveBackend) Cancel(ctx context.Context, o *order.Order) error {
	if o.State() != types.OrderStateSubmitted {
		return &types.InvalidTransitionError{OrderID: o.ID(), From: o.State(), To: types.OrderStateCancelled}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	if err := l.adapter.CancelOrder(callCtx, o.BrokerOrderID()); err != nil {
		l.recorder.RecordBrokerError("cancel")
		return fmt.Errorf("cancel order %s: %w", o.ID(), err)
	}

	l.logger.Info("cancel requested, awaiting broker confirmation",
		"order_id", o.ID(),
		"broker_order_id", o.BrokerOrderID(),
	)
	return nil
}

// Close exits qty by placing an opposing market order with the broker.
// The broker call runs off the caller's goroutine so the tick path never
// blocks on I/O; the exit is committed at refPrice and the closing
// order's own fill is reconciled like any other.
//
// At most one exit per order is in flight: while a closing placement is
// pending, further Close calls for the same order are dropped so stop
// checks on subsequent ticks cannot double the closing quantity.
func (l *LiveBackend) Close(ctx context.Context, o *order.Order, qty, refPrice decimal.Decimal, evType types.EventType, reason string) error {
	if !l.beginClose(o.ID()) {
		l.logger.Debug("exit already in flight, skipping", "order_id", o.ID(), "reason", reason)
		return nil
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.endClose(o.ID())

		closeCtx, cancel := context.WithTimeout(context.Background(), l.cfg.CallTimeout*time.Duration(l.cfg.MaxAttempts+1))
		defer cancel()

		if err := l.placeClosing(closeCtx, o, qty); err != nil {
			l.logger.Error("closing order placement failed, position unprotected",
				"order_id", o.ID(),
				"reason", reason,
				"err", err,
			)
			l.recorder.RecordBrokerError("close")
			return
		}
		if err := applyExit(l.bus, o, qty, refPrice, evType, reason, time.Now()); err != nil {
			l.logger.Error("exit commit failed", "order_id", o.ID(), "err", err)
		}
	}()
	return nil
}

// placeClosing places the opposing market order with retry.
func (l *LiveBackend) placeClosing(ctx context.Context, o *order.Order, qty decimal.Decimal) error {
	delay := l.cfg.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
		_, err := l.adapter.PlaceOrder(callCtx, o.Symbol(), o.Side().Opposite(), qty, types.OrderTypeMarket, decimal.Zero)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == l.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if l.cfg.RetryBackoff > 1 {
			delay = time.Duration(float64(delay) * l.cfg.RetryBackoff)
		}
	}
	return fmt.Errorf("%w: %v", types.ErrRetriesExhausted, lastErr)
}

// OnTick is a no-op: the live backend learns fills from the broker, not
// from market data.
func (l *LiveBackend) OnTick(types.Tick) {}

// Start launches the reconciliation loop.
func (l *LiveBackend) Start(ctx context.Context) error {
	l.wg.Add(1)
	go l.reconcileLoop(ctx)
	return nil
}

// Shutdown stops the reconciliation loop and waits for in-flight work.
func (l *LiveBackend) Shutdown(ctx context.Context) error {
	close(l.done)
	drained := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers an order for reconciliation.
func (l *LiveBackend) track(o *order.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracked[o.ID()] = o
}

// trackedOrders snapshots the reconciliation set.
func (l *LiveBackend) trackedOrders() []*order.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*order.Order, 0, len(l.tracked))
	for _, o := range l.tracked {
		out = append(out, o)
	}
	return out
}

// beginClose marks an exit in flight for the order. Returns false if one
// is already pending.
func (l *LiveBackend) beginClose(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing[id] {
		return false
	}
	l.closing[id] = true
	return true
}

// endClose clears the in-flight exit marker so a failed placement can be
// retried on a later tick.
func (l *LiveBackend) endClose(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.closing, id)
}

// untrack removes an order from the reconciliation set.
func (l *LiveBackend) untrack(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tracked, id)
}

// reconcileLoop polls broker order status at a fixed interval for every
// order not yet terminal.
func (l *LiveBackend) reconcileLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.logger.Info("reconciliation loop started", "interval", l.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			l.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce polls every tracked order once. Exported through
// ReconcileNow for tests and for callers that want an immediate sync.
func (l *LiveBackend) reconcileOnce(ctx context.Context) {
	for _, o := range l.trackedOrders() {
		if o.State() == types.OrderStateClosed {
			// The async close committed; retire the order.
			if ev, err := o.Archive(time.Now()); err == nil {
				l.bus.Publish(ev)
			}
			l.untrack(o.ID())
			continue
		}
		if !o.State().IsWorking() {
			l.untrack(o.ID())
			continue
		}
		if err := l.reconcileOrder(ctx, o); err != nil {
			l.logger.Warn("reconcile poll failed",
				"order_id", o.ID(),
				"err", err,
			)
			l.recorder.RecordBrokerError("status")
		}
	}
}

// ReconcileNow performs one immediate reconciliation pass.
func (l *LiveBackend) ReconcileNow(ctx context.Context) {
	l.reconcileOnce(ctx)
}

// reconcileOrder normalizes one broker-reported status into the local
// state machine. Broker truth is authoritative: drift in entry price or
// quantity is corrected locally and logged, never surfaced as an error.
func (l *LiveBackend) reconcileOrder(ctx context.Context, o *order.Order) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	st, err := l.adapter.GetOrderStatus(callCtx, o.BrokerOrderID())
	timer.ObserveBrokerCall("status")
	if err != nil {
		return err
	}

	now := time.Now()
	switch st.Status {
	case broker.StatusComplete:
		switch o.State() {
		case types.OrderStateSubmitted:
			ev, err := o.Fill(st.AvgPrice, st.FilledQty, now)
			if err != nil {
				return err
			}
			l.bus.Publish(ev)
			ev, err = o.Activate(now)
			if err != nil {
				return err
			}
			l.bus.Publish(ev)
			l.logger.Info("fill reconciled",
				"order_id", o.ID(),
				"price", st.AvgPrice,
				"qty", st.FilledQty,
			)
		case types.OrderStateActive:
			if o.CorrectFill(st.AvgPrice, st.FilledQty) {
				l.recorder.RecordReconcileCorrection()
				l.logger.Warn("reconciliation drift corrected",
					"order_id", o.ID(),
					"broker_price", st.AvgPrice,
					"broker_qty", st.FilledQty,
				)
			}
		}

	case broker.StatusCancelled:
		if o.State() == types.OrderStateSubmitted {
			ev, err := o.Cancel("broker confirmed cancel", now)
			if err != nil {
				return err
			}
			l.bus.Publish(ev)
			l.untrack(o.ID())
		}

	case broker.StatusRejected:
		if o.State() == types.OrderStateSubmitted {
			ev, err := o.Reject("broker_rejected", now, nil)
			if err != nil {
				return err
			}
			l.bus.Publish(ev)
			l.untrack(o.ID())
		}

	case broker.StatusPending, broker.StatusOpen:
		// Still working broker-side; nothing to do. Polling twice with
		// no change produces no additional events.
	}
	return nil
}

var _ Backend = (*LiveBackend)(nil)
