// Package core implements the execution core: it accepts intents,
// builds orders, delegates to a backend, drives the stop engine on
// every tick and candle close, and emits lifecycle events.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/execution"
	"github.com/tathienbao/exec-core/internal/metrics"
	"github.com/tathienbao/exec-core/internal/order"
	"github.com/tathienbao/exec-core/internal/stops"
	"github.com/tathienbao/exec-core/internal/types"
)

// Handle is the caller-facing view of a managed order. Mutation stays
// with the core; callers read through snapshots.
type Handle struct {
	o *order.Order
}

// ID returns the order identifier.
func (h Handle) ID() string { return h.o.ID() }

// Snapshot returns a consistent read-only copy of the order state.
func (h Handle) Snapshot() order.Snapshot { return h.o.Snapshot() }

// Events returns a copy of the order's audit trail.
func (h Handle) Events() []types.Event { return h.o.Events() }

// Position aggregates all orders for one symbol into net quantity and
// blended average price. It is recomputed from the order set on demand.
type Position struct {
	Symbol        string
	NetQty        decimal.Decimal // signed: positive long, negative short
	AvgPrice      decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Orders        int
}

// Core orchestrates order execution over one backend.
type Core struct {
	logger     *slog.Logger
	bus        *bus.Bus
	backend    execution.Backend
	stopEngine *stops.Engine
	recorder   *metrics.Recorder

	mu      sync.RWMutex
	orders  map[string]*order.Order
	ordered []string // insertion order, for deterministic iteration
}

// New creates an execution core. The backend is selected once here;
// there is no runtime switching.
func New(backend execution.Backend, stopEngine *stops.Engine, b *bus.Bus, recorder *metrics.Recorder, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &Core{
		logger:     logger,
		bus:        b,
		backend:    backend,
		stopEngine: stopEngine,
		recorder:   recorder,
		orders:     make(map[string]*order.Order),
	}
}

// Start launches backend background work.
func (c *Core) Start(ctx context.Context) error {
	return c.backend.Start(ctx)
}

// Shutdown stops the backend.
func (c *Core) Shutdown(ctx context.Context) error {
	return c.backend.Shutdown(ctx)
}

// validateIntent rejects malformed intents before any state is created.
func validateIntent(intent types.Intent) error {
	if intent.Symbol == "" {
		return types.ErrEmptySymbol
	}
	if !intent.Qty.IsPositive() {
		return types.ErrInvalidQty
	}
	if intent.Side != types.SideBuy && intent.Side != types.SideSell {
		return types.ErrInvalidSide
	}
	switch intent.OrderType {
	case types.OrderTypeMarket:
	case types.OrderTypeLimit:
		if !intent.LimitPrice.IsPositive() {
			return types.ErrMissingLimit
		}
	default:
		return types.ErrInvalidOrderType
	}
	return nil
}

// Submit validates an intent, builds an order and delegates placement to
// the backend. It returns a handle immediately; on the live backend the
// fill arrives later through reconciliation.
func (c *Core) Submit(ctx context.Context, intent types.Intent) (Handle, error) {
	if err := validateIntent(intent); err != nil {
		return Handle{}, fmt.Errorf("invalid intent: %w", err)
	}

	o := order.New(intent, time.Now())

	c.mu.Lock()
	c.orders[o.ID()] = o
	c.ordered = append(c.ordered, o.ID())
	c.mu.Unlock()

	c.logger.Info("intent accepted",
		"order_id", o.ID(),
		"symbol", intent.Symbol,
		"side", intent.Side.String(),
		"qty", intent.Qty,
		"type", intent.OrderType.String(),
		"strategy", intent.StrategyID,
	)

	if err := c.backend.Place(ctx, o); err != nil {
		c.recorder.RecordOrder(intent.Symbol, intent.Side.String(), o.State().String())
		return Handle{o: o}, err
	}

	c.recorder.RecordOrder(intent.Symbol, intent.Side.String(), o.State().String())
	c.recorder.RecordOpenOrders(c.workingCount())
	return Handle{o: o}, nil
}

// Cancel requests cancellation of a submitted order.
func (c *Core) Cancel(ctx context.Context, orderID string) error {
	c.mu.RLock()
	o, ok := c.orders[orderID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, types.ErrOrderNotFound)
	}
	return c.backend.Cancel(ctx, o)
}

// Order returns a handle for a known order id.
func (c *Core) Order(orderID string) (Handle, bool) {
	c.mu.RLock()
	o, ok := c.orders[orderID]
	c.mu.RUnlock()
	return Handle{o: o}, ok
}

// OnTick updates the current price for all working orders on the symbol
// and runs the stop engine against a consistent snapshot per order.
func (c *Core) OnTick(symbol string, price decimal.Decimal, ts time.Time) {
	timer := metrics.NewTimer()
	defer timer.ObserveTick()

	tick := types.Tick{Symbol: symbol, Price: price, Timestamp: ts}
	// Let the paper backend fill resting limit orders first so a fresh
	// fill is monitored on the same tick.
	c.backend.OnTick(tick)

	for _, o := range c.symbolOrders(symbol) {
		o.SetCurrentPrice(price)

		snap := o.Snapshot()
		if snap.State != types.OrderStateActive {
			continue
		}
		if c.stopEngine.ArmImmediately() && !snap.TrailingActive {
			o.ArmTrailing(price)
			snap = o.Snapshot()
		}
		c.applyDecision(o, c.stopEngine.EvaluateTick(snap), price, ts)
	}

	c.recorder.RecordOpenOrders(c.workingCount())
}

// OnCandleClose increments barsHeld for active orders on the symbol, and
// runs the exit checks including the time stop.
func (c *Core) OnCandleClose(candle types.Candle) {
	for _, o := range c.symbolOrders(candle.Symbol) {
		snap := o.Snapshot()
		if snap.State != types.OrderStateActive {
			continue
		}

		o.SetCurrentPrice(candle.Close)
		o.IncrementBars()

		// Price-based exits keep their precedence on the close.
		snap = o.Snapshot()
		d := c.stopEngine.EvaluateTick(snap)
		if d.Action == stops.ActionNone || d.Action == stops.ActionRatchet {
			c.applyDecision(o, d, candle.Close, candle.Timestamp)
			if o.State() != types.OrderStateActive {
				continue
			}
			d = c.stopEngine.EvaluateCandle(o.Snapshot())
		}
		c.applyDecision(o, d, candle.Close, candle.Timestamp)
	}
}

// applyDecision executes one stop engine decision for an order.
func (c *Core) applyDecision(o *order.Order, d stops.Decision, price decimal.Decimal, ts time.Time) {
	ctx := context.Background()

	switch d.Action {
	case stops.ActionNone:
		return

	case stops.ActionRatchet:
		o.ObserveExtreme(price)
		if ev, moved := o.RatchetStop(d.NewStop, ts); moved {
			c.bus.Publish(ev)
			c.recorder.RecordTrailingUpdate(o.Symbol())
			c.logger.Debug("trailing stop ratcheted",
				"order_id", o.ID(),
				"new_sl", d.NewStop,
			)
		}

	case stops.ActionPartialStop:
		if err := c.backend.Close(ctx, o, d.Qty, d.Price, d.EventType, d.Reason); err != nil {
			c.logger.Error("partial exit failed", "order_id", o.ID(), "err", err)
			return
		}
		c.recorder.RecordExit(o.Symbol(), d.Reason)
		// Arm trailing on the remainder; the stop only moves if the
		// candidate is more favorable than the current one.
		o.ArmTrailing(price)
		snap := o.Snapshot()
		if !snap.InitialRisk.IsZero() {
			candidate := c.stopEngine.TrailCandidate(snap.Side, snap.Extreme, snap.InitialRisk)
			if ev, moved := o.RatchetStop(candidate, ts); moved {
				c.bus.Publish(ev)
				c.recorder.RecordTrailingUpdate(o.Symbol())
			}
		}

	case stops.ActionStopLoss, stops.ActionTakeProfit, stops.ActionTrailingStop, stops.ActionTimeStop:
		if err := c.backend.Close(ctx, o, d.Qty, d.Price, d.EventType, d.Reason); err != nil {
			c.logger.Error("exit failed", "order_id", o.ID(), "reason", d.Reason, "err", err)
			return
		}
		c.recorder.RecordExit(o.Symbol(), d.Reason)
		c.archiveIfClosed(o, ts)
	}

	c.publishPnl()
}

// archiveIfClosed moves a closed order to its terminal archived state.
func (c *Core) archiveIfClosed(o *order.Order, ts time.Time) {
	if o.State() != types.OrderStateClosed {
		return
	}
	ev, err := o.Archive(ts)
	if err != nil {
		c.logger.Warn("archive failed", "order_id", o.ID(), "err", err)
		return
	}
	c.bus.Publish(ev)
	c.recorder.RecordOrder(o.Symbol(), o.Side().String(), types.OrderStateArchived.String())
}

// publishPnl refreshes the P&L gauges from current order state.
func (c *Core) publishPnl() {
	m := c.Metrics()
	c.recorder.RecordPnl(m.RealizedPnl, m.UnrealizedPnl)
}

// symbolOrders returns working orders for one symbol in insertion order.
func (c *Core) symbolOrders(symbol string) []*order.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*order.Order
	for _, id := range c.ordered {
		o := c.orders[id]
		if o.Symbol() == symbol && o.State().IsWorking() {
			out = append(out, o)
		}
	}
	return out
}

// workingCount counts orders still needing monitoring.
func (c *Core) workingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, o := range c.orders {
		if o.State().IsWorking() {
			n++
		}
	}
	return n
}

// Position recomputes the aggregate view for one symbol from the order
// set.
func (c *Core) Position(symbol string) Position {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pos := Position{Symbol: symbol}
	weighted := decimal.Zero
	gross := decimal.Zero

	for _, id := range c.ordered {
		o := c.orders[id]
		if o.Symbol() != symbol {
			continue
		}
		snap := o.Snapshot()
		if snap.State != types.OrderStateActive && snap.State != types.OrderStatePartiallyClosed {
			continue
		}
		signed := snap.RemainingQty.Mul(snap.Side.Sign())
		pos.NetQty = pos.NetQty.Add(signed)
		weighted = weighted.Add(snap.EntryPrice.Mul(snap.RemainingQty))
		gross = gross.Add(snap.RemainingQty)
		pos.UnrealizedPnl = pos.UnrealizedPnl.Add(snap.UnrealizedPnl)
		pos.Orders++
	}

	if gross.IsPositive() {
		pos.AvgPrice = weighted.Div(gross)
	}
	return pos
}

// Metrics recomputes the engine summary; nothing is cached stale.
func (c *Core) Metrics() types.MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := types.MetricsSnapshot{
		Timestamp:   time.Now(),
		TotalOrders: len(c.orders),
	}
	activeSymbols := make(map[string]bool)

	for _, o := range c.orders {
		snap := o.Snapshot()
		m.RealizedPnl = m.RealizedPnl.Add(snap.RealizedPnl)
		if snap.State == types.OrderStateActive || snap.State == types.OrderStatePartiallyClosed {
			m.UnrealizedPnl = m.UnrealizedPnl.Add(snap.UnrealizedPnl)
			activeSymbols[snap.Symbol] = true
		}
	}
	m.ActivePositions = len(activeSymbols)
	return m
}
