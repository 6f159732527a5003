// Package types defines shared types used across the execution core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Sign returns +1 for buys and -1 for sells, used in P&L arithmetic.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the type of an order.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	default:
		return "UNKNOWN"
	}
}

// OrderState represents the lifecycle state of a managed order.
type OrderState int

const (
	OrderStateCreated OrderState = iota
	OrderStateSubmitted
	OrderStateFilled
	OrderStateActive
	OrderStatePartiallyClosed
	OrderStateClosed
	OrderStateRejected
	OrderStateCancelled
	OrderStateArchived
)

func (s OrderState) String() string {
	switch s {
	case OrderStateCreated:
		return "CREATED"
	case OrderStateSubmitted:
		return "SUBMITTED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateActive:
		return "ACTIVE"
	case OrderStatePartiallyClosed:
		return "PARTIALLY_CLOSED"
	case OrderStateClosed:
		return "CLOSED"
	case OrderStateRejected:
		return "REJECTED"
	case OrderStateCancelled:
		return "CANCELLED"
	case OrderStateArchived:
		return "ARCHIVED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if no further mutation of the order is permitted.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateRejected, OrderStateCancelled, OrderStateArchived:
		return true
	default:
		return false
	}
}

// IsWorking returns true if the order still needs monitoring.
func (s OrderState) IsWorking() bool {
	switch s {
	case OrderStateSubmitted, OrderStateFilled, OrderStateActive, OrderStatePartiallyClosed:
		return true
	default:
		return false
	}
}

// Intent represents a validated trade request from the strategy layer.
type Intent struct {
	Symbol     string
	Side       Side
	Qty        decimal.Decimal
	OrderType  OrderType
	LimitPrice decimal.Decimal // required for LIMIT
	SLPrice    decimal.Decimal // zero means no stop
	TPPrice    decimal.Decimal // zero means no target
	StrategyID string
}

// EventType enumerates lifecycle event types published on the bus.
type EventType string

const (
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventOrderFilled     EventType = "ORDER_FILLED"
	EventOrderRejected   EventType = "ORDER_REJECTED"
	EventOrderCancelled  EventType = "ORDER_CANCELLED"
	EventPositionUpdated EventType = "POSITION_UPDATED"
	EventStopHit         EventType = "STOP_HIT"
	EventTargetHit       EventType = "TARGET_HIT"
	EventTimeStop        EventType = "TIME_STOP"
	EventTrailingUpdated EventType = "TRAILING_UPDATED"
)

// Event is an immutable lifecycle event record.
type Event struct {
	ID        string
	Type      EventType
	OrderID   string
	Timestamp time.Time
	Reason    string
	Payload   map[string]string
}

// Tick is a last-traded-price update for one symbol.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// Candle is a closed OHLC bar for one symbol.
type Candle struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// MetricsSnapshot is a point-in-time summary of engine state.
type MetricsSnapshot struct {
	Timestamp       time.Time
	TotalOrders     int
	ActivePositions int
	RealizedPnl     decimal.Decimal
	UnrealizedPnl   decimal.Decimal
}
