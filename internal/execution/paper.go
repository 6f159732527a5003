package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/order"
	"github.com/tathienbao/exec-core/internal/types"
)

// PaperBackend executes orders synchronously against the latest known
// price using the fill model. No network calls, no retries, no
// background goroutines.
type PaperBackend struct {
	fill   *FillModel
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	now     time.Time
	resting map[string]*restingEntry // order id -> unfilled remainder
}

// restingEntry tracks a limit order (or partial-fill remainder) awaiting
// a marketable tick.
type restingEntry struct {
	o   *order.Order
	qty decimal.Decimal
}

// NewPaperBackend creates a paper backend.
func NewPaperBackend(fill *FillModel, b *bus.Bus, logger *slog.Logger) *PaperBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaperBackend{
		fill:    fill,
		bus:     b,
		logger:  logger,
		prices:  make(map[string]decimal.Decimal),
		resting: make(map[string]*restingEntry),
	}
}

func (p *PaperBackend) Name() string { return "paper" }

// timestamp returns simulated time when ticks have been seen, wall time
// otherwise. Callers must hold p.mu.
func (p *PaperBackend) timestamp() time.Time {
	if p.now.IsZero() {
		return time.Now()
	}
	return p.now
}

// Place resolves immediately to FILLED or SUBMITTED.
func (p *PaperBackend) Place(ctx context.Context, o *order.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.timestamp()
	ev, err := o.Submit(ts)
	if err != nil {
		return err
	}
	p.bus.Publish(ev)

	ref, haveTick := p.prices[o.Symbol()]
	if !haveTick {
		if o.Type() == types.OrderTypeLimit {
			// Rest until a tick arrives.
			p.resting[o.ID()] = &restingEntry{o: o, qty: o.RequestedQty()}
			return nil
		}
		ev, rejErr := o.Reject("no_market_data", ts, nil)
		if rejErr != nil {
			return rejErr
		}
		p.bus.Publish(ev)
		return fmt.Errorf("place %s: %w", o.Symbol(), types.ErrNoMarketData)
	}

	res := p.fill.Entry(ref, o.Type(), o.Side(), o.LimitPrice(), o.RequestedQty())
	if !res.Filled {
		p.resting[o.ID()] = &restingEntry{o: o, qty: o.RequestedQty()}
		return nil
	}

	if err := p.applyEntryFill(o, res, ts); err != nil {
		return err
	}
	if remainder := o.RequestedQty().Sub(res.Qty); remainder.IsPositive() {
		p.resting[o.ID()] = &restingEntry{o: o, qty: remainder}
	}
	return nil
}

// applyEntryFill transitions a submitted order through FILLED to ACTIVE.
// Callers must hold p.mu.
func (p *PaperBackend) applyEntryFill(o *order.Order, res FillResult, ts time.Time) error {
	ev, err := o.Fill(res.Price, res.Qty, ts)
	if err != nil {
		return err
	}
	p.bus.Publish(ev)

	ev, err = o.Activate(ts)
	if err != nil {
		return err
	}
	p.bus.Publish(ev)

	p.logger.Info("paper fill",
		"order_id", o.ID(),
		"symbol", o.Symbol(),
		"side", o.Side().String(),
		"price", res.Price,
		"qty", res.Qty,
	)
	return nil
}

// Cancel transitions SUBMITTED -> CANCELLED immediately. A resting
// remainder of an already-active order is simply dropped.
func (p *PaperBackend) Cancel(ctx context.Context, o *order.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.resting, o.ID())

	if o.State() != types.OrderStateSubmitted {
		if o.State() == types.OrderStateActive {
			p.logger.Info("dropped resting remainder", "order_id", o.ID())
			return nil
		}
		return &types.InvalidTransitionError{OrderID: o.ID(), From: o.State(), To: types.OrderStateCancelled}
	}

	ev, err := o.Cancel("cancelled by caller", p.timestamp())
	if err != nil {
		return err
	}
	p.bus.Publish(ev)
	return nil
}

// Close exits qty at a fill-model price derived from refPrice,
// synchronously updating the order.
func (p *PaperBackend) Close(ctx context.Context, o *order.Order, qty, refPrice decimal.Decimal, evType types.EventType, reason string) error {
	p.mu.Lock()
	ts := p.timestamp()
	p.mu.Unlock()

	res := p.fill.Exit(refPrice, o.Side(), qty)
	return applyExit(p.bus, o, res.Qty, res.Price, evType, reason, ts)
}

// OnTick records the latest price and retries resting entries for the
// symbol. Pure in-memory work.
func (p *PaperBackend) OnTick(t types.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[t.Symbol] = t.Price
	if t.Timestamp.After(p.now) {
		p.now = t.Timestamp
	}

	for id, rest := range p.resting {
		if rest.o.Symbol() != t.Symbol {
			continue
		}
		p.fillResting(id, rest, t)
	}
}

// fillResting attempts to fill a resting entry at the tick price.
// Callers must hold p.mu.
func (p *PaperBackend) fillResting(id string, rest *restingEntry, t types.Tick) {
	res := p.fill.Entry(t.Price, rest.o.Type(), rest.o.Side(), rest.o.LimitPrice(), rest.qty)
	if !res.Filled {
		return
	}

	switch rest.o.State() {
	case types.OrderStateSubmitted:
		if err := p.applyEntryFill(rest.o, res, t.Timestamp); err != nil {
			p.logger.Warn("resting fill failed", "order_id", id, "err", err)
			return
		}
	case types.OrderStateActive:
		ev, err := rest.o.AddFill(res.Price, res.Qty, t.Timestamp)
		if err != nil {
			p.logger.Warn("resting top-up failed", "order_id", id, "err", err)
			return
		}
		p.bus.Publish(ev)
	default:
		delete(p.resting, id)
		return
	}

	rest.qty = rest.qty.Sub(res.Qty)
	if !rest.qty.IsPositive() {
		delete(p.resting, id)
	}
}

// Start is a no-op; the paper backend has no background work.
func (p *PaperBackend) Start(ctx context.Context) error { return nil }

// Shutdown is a no-op.
func (p *PaperBackend) Shutdown(ctx context.Context) error { return nil }

var _ Backend = (*PaperBackend)(nil)

// applyExit commits a partial or full exit to the order and publishes
// the resulting events. Shared by both backends.
func applyExit(b *bus.Bus, o *order.Order, qty, price decimal.Decimal, evType types.EventType, reason string, ts time.Time) error {
	snap := o.Snapshot()
	if qty.GreaterThanOrEqual(snap.RemainingQty) {
		ev, err := o.CloseFull(price, evType, reason, ts)
		if err != nil {
			return err
		}
		b.Publish(ev)
		return nil
	}

	ev, err := o.PartialExit(qty, price, evType, reason, ts)
	if err != nil {
		return err
	}
	b.Publish(ev)

	ev, err = o.Resume(ts)
	if err != nil {
		return err
	}
	b.Publish(ev)
	return nil
}
