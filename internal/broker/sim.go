package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/types"
)

// SimAdapter is a scriptable in-memory broker used by live-backend tests
// and dry runs. It can be told to fail the next N placements, delay fills
// by a number of polls, and report fill prices that drift from the
// requested price.
type SimAdapter struct {
	mu sync.Mutex

	nextID atomic.Int64
	orders map[string]*simOrder

	// Failure scripting.
	failPlacements int
	placeCalls     int

	// Fills complete after this many status polls (0 = first poll).
	fillAfterPolls int

	// Reported fill price offset from the requested price.
	fillDrift decimal.Decimal

	// Fill price for market orders, which carry no requested price.
	marketPrice decimal.Decimal
}

type simOrder struct {
	symbol    string
	side      types.Side
	qty       decimal.Decimal
	price     decimal.Decimal
	status    Status
	polls     int
	cancelled bool
}

// NewSimAdapter creates a simulator that fills on the first poll with no
// drift and no failures.
func NewSimAdapter() *SimAdapter {
	return &SimAdapter{orders: make(map[string]*simOrder)}
}

// FailNextPlacements makes the next n PlaceOrder calls fail with
// ErrUnreachable.
func (a *SimAdapter) FailNextPlacements(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failPlacements = n
}

// SetFillAfterPolls delays fills until the order has been polled n times.
func (a *SimAdapter) SetFillAfterPolls(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fillAfterPolls = n
}

// SetFillDrift offsets reported fill prices from the requested price.
func (a *SimAdapter) SetFillDrift(d decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fillDrift = d
}

// SetMarketPrice sets the price market orders fill at.
func (a *SimAdapter) SetMarketPrice(p decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marketPrice = p
}

// PlaceCalls returns how many placements were attempted.
func (a *SimAdapter) PlaceCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.placeCalls
}

// PlaceOrder registers an order and returns a broker order id.
func (a *SimAdapter) PlaceOrder(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, orderType types.OrderType, price decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.placeCalls++
	if a.failPlacements > 0 {
		a.failPlacements--
		return "", ErrUnreachable
	}

	id := fmt.Sprintf("SIM-%d", a.nextID.Add(1))
	a.orders[id] = &simOrder{
		symbol: symbol,
		side:   side,
		qty:    qty,
		price:  price,
		status: StatusOpen,
	}
	return id, nil
}

// CancelOrder marks the order for cancellation; the change is only
// visible through a later GetOrderStatus, mirroring real brokers.
func (a *SimAdapter) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.orders[brokerOrderID]
	if !ok {
		return ErrUnknownOrder
	}
	if o.status == StatusOpen || o.status == StatusPending {
		o.cancelled = true
	}
	return nil
}

// GetOrderStatus reports the broker's view, advancing the scripted fill.
func (a *SimAdapter) GetOrderStatus(ctx context.Context, brokerOrderID string) (OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return OrderStatus{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.orders[brokerOrderID]
	if !ok {
		return OrderStatus{}, ErrUnknownOrder
	}

	if o.status == StatusOpen {
		if o.cancelled {
			o.status = StatusCancelled
		} else if o.polls >= a.fillAfterPolls {
			o.status = StatusComplete
		}
		o.polls++
	}

	st := OrderStatus{Status: o.status}
	if o.status == StatusComplete {
		st.FilledQty = o.qty
		base := o.price
		if base.IsZero() {
			base = a.marketPrice
		}
		st.AvgPrice = base.Add(a.fillDrift)
	}
	return st, nil
}

var _ Adapter = (*SimAdapter)(nil)
