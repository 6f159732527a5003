// Package order implements the managed order value object and its
// lifecycle state machine.
package order

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/types"
)

// validTransitions defines the allowed lifecycle transitions.
var validTransitions = map[types.OrderState][]types.OrderState{
	types.OrderStateCreated:         {types.OrderStateSubmitted},
	types.OrderStateSubmitted:       {types.OrderStateFilled, types.OrderStateRejected, types.OrderStateCancelled},
	types.OrderStateFilled:          {types.OrderStateActive},
	types.OrderStateActive:          {types.OrderStatePartiallyClosed, types.OrderStateClosed},
	types.OrderStatePartiallyClosed: {types.OrderStateActive, types.OrderStateClosed},
	types.OrderStateClosed:          {types.OrderStateArchived},
}

// canTransition checks whether the state machine permits from -> to.
func canTransition(from, to types.OrderState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order is one managed trade from intent to archival. All mutation goes
// through methods on Order, which serialize under an internal mutex so
// the caller thread and the live reconciliation loop never race.
type Order struct {
	mu sync.Mutex

	// Immutable inputs.
	id           string
	symbol       string
	side         types.Side
	requestedQty decimal.Decimal
	orderType    types.OrderType
	limitPrice   decimal.Decimal
	strategyID   string
	createdAt    time.Time

	// Lifecycle state.
	state         types.OrderState
	brokerOrderID string

	// Fill data, set exactly once at the FILLED transition.
	entryPrice decimal.Decimal
	entryTime  time.Time

	// Position arithmetic.
	remainingQty decimal.Decimal
	exitedQty    decimal.Decimal // cumulative quantity removed by exits
	slPrice      decimal.Decimal
	tpPrice      decimal.Decimal
	currentPrice decimal.Decimal
	barsHeld     int
	realizedPnl  decimal.Decimal

	// Trailing stop state.
	trailingActive bool
	initialRisk    decimal.Decimal // |entry - initial stop|, the R unit
	extreme        decimal.Decimal // favorable extreme since trailing activation

	// Append-only transition log.
	events []types.Event
}

// New builds an order in CREATED from a validated intent.
func New(intent types.Intent, now time.Time) *Order {
	return &Order{
		id:           uuid.New().String(),
		symbol:       intent.Symbol,
		side:         intent.Side,
		requestedQty: intent.Qty,
		orderType:    intent.OrderType,
		limitPrice:   intent.LimitPrice,
		strategyID:   intent.StrategyID,
		createdAt:    now,
		state:        types.OrderStateCreated,
		slPrice:      intent.SLPrice,
		tpPrice:      intent.TPPrice,
	}
}

// transition moves the order to a new state and appends exactly one
// log entry. Callers must hold o.mu.
func (o *Order) transition(to types.OrderState, evType types.EventType, reason string, ts time.Time, payload map[string]string) (types.Event, error) {
	if !canTransition(o.state, to) {
		return types.Event{}, &types.InvalidTransitionError{OrderID: o.id, From: o.state, To: to}
	}
	o.state = to
	ev := types.Event{
		ID:        uuid.New().String(),
		Type:      evType,
		OrderID:   o.id,
		Timestamp: ts,
		Reason:    reason,
		Payload:   payload,
	}
	o.events = append(o.events, ev)
	return ev, nil
}

// Submit moves CREATED -> SUBMITTED.
func (o *Order) Submit(ts time.Time) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transition(types.OrderStateSubmitted, types.EventOrderPlaced, "submitted", ts, map[string]string{
		"symbol": o.symbol,
		"side":   o.side.String(),
		"qty":    o.requestedQty.String(),
		"type":   o.orderType.String(),
	})
}

// Fill moves SUBMITTED -> FILLED, recording entry price and time exactly
// once. The filled quantity seeds remainingQty and the initial risk unit.
func (o *Order) Fill(price, qty decimal.Decimal, ts time.Time) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ev, err := o.transition(types.OrderStateFilled, types.EventOrderFilled, "filled", ts, map[string]string{
		"price": price.String(),
		"qty":   qty.String(),
	})
	if err != nil {
		return types.Event{}, err
	}

	o.entryPrice = price
	o.entryTime = ts
	o.remainingQty = qty
	o.currentPrice = price
	if !o.slPrice.IsZero() {
		o.initialRisk = o.entryPrice.Sub(o.slPrice).Abs()
	}
	return ev, nil
}

// AddFill tops up a partially filled entry while the order is being
// monitored, blending the entry price. Not a state transition; appends
// one audit entry.
func (o *Order) AddFill(price, qty decimal.Decimal, ts time.Time) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != types.OrderStateActive && o.state != types.OrderStateFilled {
		return types.Event{}, &types.InvalidTransitionError{OrderID: o.id, From: o.state, To: o.state}
	}

	total := o.remainingQty.Add(qty)
	o.entryPrice = o.entryPrice.Mul(o.remainingQty).Add(price.Mul(qty)).Div(total)
	o.remainingQty = total
	if !o.slPrice.IsZero() {
		o.initialRisk = o.entryPrice.Sub(o.slPrice).Abs()
	}

	ev := types.Event{
		ID:        uuid.New().String(),
		Type:      types.EventOrderFilled,
		OrderID:   o.id,
		Timestamp: ts,
		Reason:    "fill topped up",
		Payload: map[string]string{
			"price":       price.String(),
			"qty":         qty.String(),
			"entry_price": o.entryPrice.String(),
		},
	}
	o.events = append(o.events, ev)
	return ev, nil
}

// Activate moves FILLED -> ACTIVE, the monitored state.
func (o *Order) Activate(ts time.Time) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transition(types.OrderStateActive, types.EventPositionUpdated, "active", ts, nil)
}

// Reject moves SUBMITTED -> REJECTED with the cause recorded.
func (o *Order) Reject(reason string, ts time.Time, payload map[string]string) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transition(types.OrderStateRejected, types.EventOrderRejected, reason, ts, payload)
}

// Cancel moves SUBMITTED -> CANCELLED.
func (o *Order) Cancel(reason string, ts time.Time) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transition(types.OrderStateCancelled, types.EventOrderCancelled, reason, ts, nil)
}

// PartialExit closes qty of the remaining position at price and moves
// ACTIVE -> PARTIALLY_CLOSED. Realized P&L accumulates on every exit.
func (o *Order) PartialExit(qty, price decimal.Decimal, evType types.EventType, reason string, ts time.Time) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// remainingQty reaches zero only through CloseFull, so the
	// zero-iff-CLOSED invariant holds.
	if qty.GreaterThanOrEqual(o.remainingQty) {
		return types.Event{}, types.ErrExitExceedsQty
	}
	pnl := price.Sub(o.entryPrice).Mul(qty).Mul(o.side.Sign())

	ev, err := o.transition(types.OrderStatePartiallyClosed, evType, reason, ts, map[string]string{
		"exit_price": price.String(),
		"exit_qty":   qty.String(),
		"pnl":        pnl.String(),
	})
	if err != nil {
		return types.Event{}, err
	}

	o.remainingQty = o.remainingQty.Sub(qty)
	o.exitedQty = o.exitedQty.Add(qty)
	o.realizedPnl = o.realizedPnl.Add(pnl)
	return ev, nil
}

// Resume moves PARTIALLY_CLOSED -> ACTIVE so monitoring continues on the
// remainder.
func (o *Order) Resume(ts time.Time) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transition(types.OrderStateActive, types.EventPositionUpdated, "monitoring remainder", ts, nil)
}

// CloseFull exits the entire remaining quantity at price and moves the
// order to CLOSED. remainingQty reaches zero only here.
func (o *Order) CloseFull(price decimal.Decimal, evType types.EventType, reason string, ts time.Time) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	qty := o.remainingQty
	pnl := price.Sub(o.entryPrice).Mul(qty).Mul(o.side.Sign())

	ev, err := o.transition(types.OrderStateClosed, evType, reason, ts, map[string]string{
		"exit_price": price.String(),
		"exit_qty":   qty.String(),
		"pnl":        pnl.String(),
	})
	if err != nil {
		return types.Event{}, err
	}

	o.remainingQty = decimal.Zero
	o.exitedQty = o.exitedQty.Add(qty)
	o.realizedPnl = o.realizedPnl.Add(pnl)
	return ev, nil
}

// Archive moves CLOSED -> ARCHIVED; the order is retained read-only.
func (o *Order) Archive(ts time.Time) (types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transition(types.OrderStateArchived, types.EventPositionUpdated, "archived", ts, nil)
}

// SetCurrentPrice records the last observed market price while working.
func (o *Order) SetCurrentPrice(price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.IsTerminal() || o.state == types.OrderStateClosed {
		return
	}
	o.currentPrice = price
}

// IncrementBars bumps the candle-close counter and returns the new count.
func (o *Order) IncrementBars() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.barsHeld++
	return o.barsHeld
}

// ArmTrailing activates the trailing stop. The flag is one-way; arming an
// already-trailing order only refreshes the favorable extreme if extreme
// is better than the recorded one.
func (o *Order) ArmTrailing(extreme decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.trailingActive {
		o.trailingActive = true
		o.extreme = extreme
		return
	}
	if o.isMoreFavorableExtreme(extreme) {
		o.extreme = extreme
	}
}

// ObserveExtreme updates the favorable extreme if price advances it.
// Returns true if the extreme moved.
func (o *Order) ObserveExtreme(price decimal.Decimal) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.trailingActive {
		return false
	}
	if o.isMoreFavorableExtreme(price) {
		o.extreme = price
		return true
	}
	return false
}

// isMoreFavorableExtreme reports whether p beats the current extreme in
// the trade's favor. Callers must hold o.mu.
func (o *Order) isMoreFavorableExtreme(p decimal.Decimal) bool {
	if o.side == types.SideBuy {
		return p.GreaterThan(o.extreme)
	}
	return p.LessThan(o.extreme)
}

// RatchetStop applies candidate as the new stop only if it is more
// favorable than the current one: higher for longs, lower for shorts.
// The stop never loosens once trailing is active. Returns true if moved.
func (o *Order) RatchetStop(candidate decimal.Decimal, ts time.Time) (types.Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	improved := false
	if o.side == types.SideBuy {
		improved = candidate.GreaterThan(o.slPrice)
	} else {
		improved = candidate.LessThan(o.slPrice)
	}
	if !improved {
		return types.Event{}, false
	}

	old := o.slPrice
	o.slPrice = candidate
	ev := types.Event{
		ID:        uuid.New().String(),
		Type:      types.EventTrailingUpdated,
		OrderID:   o.id,
		Timestamp: ts,
		Reason:    "trailing stop ratcheted",
		Payload: map[string]string{
			"old_sl": old.String(),
			"new_sl": candidate.String(),
		},
	}
	o.events = append(o.events, ev)
	return ev, true
}

// SetBrokerOrderID records the broker-assigned identifier.
func (o *Order) SetBrokerOrderID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.brokerOrderID = id
}

// CorrectFill overwrites entry price and remaining quantity with
// broker-reported truth during reconciliation. The broker reports how
// much of the entry order filled; exits run through separate closing
// orders, so the expected remainder is filledQty minus everything
// already exited. Returns true if either value changed.
func (o *Order) CorrectFill(avgPrice, filledQty decimal.Decimal) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	changed := false
	if !avgPrice.IsZero() && !o.entryPrice.Equal(avgPrice) {
		o.entryPrice = avgPrice
		if !o.slPrice.IsZero() {
			o.initialRisk = o.entryPrice.Sub(o.slPrice).Abs()
		}
		changed = true
	}
	if filledQty.IsPositive() && o.state == types.OrderStateActive {
		expected := filledQty.Sub(o.exitedQty)
		if expected.IsPositive() && !o.remainingQty.Equal(expected) {
			o.remainingQty = expected
			changed = true
		}
	}
	return changed
}

// UnrealizedPnl is derived from the last observed price and never stored.
func (o *Order) UnrealizedPnl() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unrealizedLocked()
}

func (o *Order) unrealizedLocked() decimal.Decimal {
	if o.remainingQty.IsZero() || o.entryPrice.IsZero() {
		return decimal.Zero
	}
	return o.currentPrice.Sub(o.entryPrice).Mul(o.remainingQty).Mul(o.side.Sign())
}

// Accessors for immutable fields (no lock needed).

func (o *Order) ID() string                    { return o.id }
func (o *Order) Symbol() string                { return o.symbol }
func (o *Order) Side() types.Side              { return o.side }
func (o *Order) Type() types.OrderType         { return o.orderType }
func (o *Order) LimitPrice() decimal.Decimal   { return o.limitPrice }
func (o *Order) RequestedQty() decimal.Decimal { return o.requestedQty }
func (o *Order) StrategyID() string            { return o.strategyID }

// State returns the current lifecycle state.
func (o *Order) State() types.OrderState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// BrokerOrderID returns the broker-assigned identifier, if any.
func (o *Order) BrokerOrderID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.brokerOrderID
}

// Events returns a copy of the append-only transition log.
func (o *Order) Events() []types.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.Event, len(o.events))
	copy(out, o.events)
	return out
}

// Snapshot is a consistent read-only copy of mutable order state, used
// by the stop engine and display paths so they never hold a live
// reference.
type Snapshot struct {
	ID             string
	Symbol         string
	Side           types.Side
	State          types.OrderState
	EntryPrice     decimal.Decimal
	EntryTime      time.Time
	RemainingQty   decimal.Decimal
	ExitedQty      decimal.Decimal
	SLPrice        decimal.Decimal
	TPPrice        decimal.Decimal
	CurrentPrice   decimal.Decimal
	BarsHeld       int
	RealizedPnl    decimal.Decimal
	UnrealizedPnl  decimal.Decimal
	TrailingActive bool
	InitialRisk    decimal.Decimal
	Extreme        decimal.Decimal
}

// Snapshot returns a consistent copy taken under the order lock.
func (o *Order) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		ID:             o.id,
		Symbol:         o.symbol,
		Side:           o.side,
		State:          o.state,
		EntryPrice:     o.entryPrice,
		EntryTime:      o.entryTime,
		RemainingQty:   o.remainingQty,
		ExitedQty:      o.exitedQty,
		SLPrice:        o.slPrice,
		TPPrice:        o.tpPrice,
		CurrentPrice:   o.currentPrice,
		BarsHeld:       o.barsHeld,
		RealizedPnl:    o.realizedPnl,
		UnrealizedPnl:  o.unrealizedLocked(),
		TrailingActive: o.trailingActive,
		InitialRisk:    o.initialRisk,
		Extreme:        o.extreme,
	}
}
