// Package broker defines the abstract contract the live backend requires
// from a broker adapter, plus the safety gate consulted before placement.
package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/types"
)

// Common adapter errors. Transient errors are retried by the live
// backend; policy errors are surfaced immediately.
var (
	ErrUnreachable   = errors.New("broker unreachable")
	ErrOrderRejected = errors.New("order rejected by broker")
	ErrUnknownOrder  = errors.New("unknown broker order id")
	ErrRateLimited   = errors.New("rate limited by broker")
)

// Status is the broker-reported order status, normalized by the live
// backend into the local state machine.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusComplete  Status = "COMPLETE"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

// OrderStatus is the broker's view of one order, the single source of
// ground truth during reconciliation.
type OrderStatus struct {
	Status    Status
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
}

// Adapter is the wire-protocol-agnostic broker boundary. Implementations
// live outside the core; the sim adapter in this package exists for
// paper-live testing.
type Adapter interface {
	PlaceOrder(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, orderType types.OrderType, price decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrderStatus(ctx context.Context, brokerOrderID string) (OrderStatus, error)
}

// Gate is consulted before every live placement and may veto it. A veto
// is a policy decision, never retried.
type Gate interface {
	Allow(symbol string, side types.Side, qty decimal.Decimal) error
}

// AllowAll is a gate that never vetoes.
type AllowAll struct{}

func (AllowAll) Allow(string, types.Side, decimal.Decimal) error { return nil }
