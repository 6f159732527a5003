// Package execution provides the paper and live execution backends.
package execution

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/order"
	"github.com/tathienbao/exec-core/internal/types"
)

// Backend is the polymorphic execution boundary. The core holds one
// backend reference, selected at construction.
type Backend interface {
	// Name identifies the backend ("paper" or "live").
	Name() string

	// Place submits an order. The order is transitioned and lifecycle
	// events are published as placement progresses. Place may block for
	// bounded retry backoff on the live backend; it never blocks waiting
	// for a fill.
	Place(ctx context.Context, o *order.Order) error

	// Cancel requests cancellation of a SUBMITTED order. On the live
	// backend the final state is only set once the reconciliation loop
	// confirms it broker-side.
	Cancel(ctx context.Context, o *order.Order) error

	// Close exits qty of the order's remaining position at a price
	// derived from refPrice. A qty covering the whole remainder closes
	// the order; anything less is a partial exit that resumes
	// monitoring.
	Close(ctx context.Context, o *order.Order, qty, refPrice decimal.Decimal, evType types.EventType, reason string) error

	// OnTick feeds the latest traded price. This is the hot path: it
	// must not perform I/O or block.
	OnTick(t types.Tick)

	// Start launches background work (the live reconciliation loop).
	Start(ctx context.Context) error

	// Shutdown stops background work and waits for it to drain.
	Shutdown(ctx context.Context) error
}
