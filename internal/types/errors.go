package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the execution core.
var (
	// Intent validation errors
	ErrEmptySymbol      = errors.New("intent symbol is empty")
	ErrInvalidQty       = errors.New("intent quantity must be positive")
	ErrInvalidSide      = errors.New("invalid order side")
	ErrInvalidOrderType = errors.New("invalid order type")
	ErrMissingLimit     = errors.New("limit order requires a limit price")

	// Execution errors
	ErrOrderNotFound    = errors.New("order not found")
	ErrGuardianBlocked  = errors.New("placement vetoed by safety gate")
	ErrRetriesExhausted = errors.New("broker placement retries exhausted")
	ErrBrokerTimeout    = errors.New("broker call timed out")
	ErrNoMarketData     = errors.New("no market data for symbol")
	ErrExitExceedsQty   = errors.New("partial exit must leave remaining quantity")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// InvalidTransitionError is returned when an order state transition is
// not permitted by the lifecycle state machine.
type InvalidTransitionError struct {
	OrderID string
	From    OrderState
	To      OrderState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.OrderID, e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
