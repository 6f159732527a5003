// Package stops bundles stop-loss, take-profit, trailing-stop and
// time-stop evaluation into one per-tick decision.
package stops

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/order"
	"github.com/tathienbao/exec-core/internal/types"
)

// ActivationMode controls when the trailing stop arms.
type ActivationMode string

const (
	// ActivateAfterPartial arms trailing only after a partial stop exit.
	ActivateAfterPartial ActivationMode = "after_partial"
	// ActivateImmediate arms trailing as soon as the order is active.
	ActivateImmediate ActivationMode = "immediate"
)

// Config holds stop engine parameters.
type Config struct {
	PartialExitEnabled  bool
	PartialExitFraction decimal.Decimal // e.g. 0.5 closes half on first stop hit
	TrailStepR          decimal.Decimal // trail distance in R units
	Activation          ActivationMode
	TimeStopBars        int // 0 disables the time stop
}

// DefaultConfig returns sensible defaults: full stop exits, 1R trail
// step, trailing armed after a partial exit, no time stop.
func DefaultConfig() Config {
	return Config{
		PartialExitEnabled:  false,
		PartialExitFraction: decimal.RequireFromString("0.5"),
		TrailStepR:          decimal.NewFromInt(1),
		Activation:          ActivateAfterPartial,
		TimeStopBars:        0,
	}
}

// Action identifies the exit (or housekeeping) a decision calls for.
type Action int

const (
	ActionNone Action = iota
	ActionStopLoss
	ActionPartialStop
	ActionTakeProfit
	ActionTrailingStop
	ActionTimeStop
	ActionRatchet
)

// Decision is the outcome of one evaluation against a single consistent
// price snapshot.
type Decision struct {
	Action      Action
	Qty         decimal.Decimal // quantity to close (partial exits)
	Price       decimal.Decimal // price used for the exit
	Reason      string
	EventType   types.EventType
	ArmTrailing bool            // partial stop arms trailing on the remainder
	NewStop     decimal.Decimal // ratchet target when Action == ActionRatchet
}

// Engine evaluates exit conditions with fixed precedence:
// stop-loss > take-profit > trailing-stop > time-stop.
type Engine struct {
	cfg Config
}

// NewEngine creates a stop engine.
func NewEngine(cfg Config) *Engine {
	if cfg.PartialExitFraction.IsZero() {
		cfg.PartialExitFraction = decimal.RequireFromString("0.5")
	}
	if cfg.TrailStepR.IsZero() {
		cfg.TrailStepR = decimal.NewFromInt(1)
	}
	if cfg.Activation == "" {
		cfg.Activation = ActivateAfterPartial
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// stopBreached reports whether price has crossed the stop against the
// position.
func stopBreached(s order.Snapshot) bool {
	if s.SLPrice.IsZero() {
		return false
	}
	if s.Side == types.SideBuy {
		return s.CurrentPrice.LessThanOrEqual(s.SLPrice)
	}
	return s.CurrentPrice.GreaterThanOrEqual(s.SLPrice)
}

// targetReached reports whether price has crossed the target favorably.
func targetReached(s order.Snapshot) bool {
	if s.TPPrice.IsZero() {
		return false
	}
	if s.Side == types.SideBuy {
		return s.CurrentPrice.GreaterThanOrEqual(s.TPPrice)
	}
	return s.CurrentPrice.LessThanOrEqual(s.TPPrice)
}

// EvaluateTick runs the per-tick checks against one snapshot. Exits fill
// at the snapshot price; the backend applies any configured slippage.
func (e *Engine) EvaluateTick(s order.Snapshot) Decision {
	// Stop-loss wins over every other trigger: protecting capital takes
	// priority over capturing profit.
	if stopBreached(s) {
		if s.TrailingActive {
			return Decision{
				Action:    ActionTrailingStop,
				Qty:       s.RemainingQty,
				Price:     s.CurrentPrice,
				Reason:    "trailing_stop",
				EventType: types.EventStopHit,
			}
		}
		if e.cfg.PartialExitEnabled {
			return Decision{
				Action:      ActionPartialStop,
				Qty:         s.RemainingQty.Mul(e.cfg.PartialExitFraction),
				Price:       s.CurrentPrice,
				Reason:      "stop_loss_partial",
				EventType:   types.EventStopHit,
				ArmTrailing: true,
			}
		}
		return Decision{
			Action:    ActionStopLoss,
			Qty:       s.RemainingQty,
			Price:     s.CurrentPrice,
			Reason:    "stop_loss",
			EventType: types.EventStopHit,
		}
	}

	// Take-profit always exits the full remainder.
	if targetReached(s) {
		return Decision{
			Action:    ActionTakeProfit,
			Qty:       s.RemainingQty,
			Price:     s.CurrentPrice,
			Reason:    "take_profit",
			EventType: types.EventTargetHit,
		}
	}

	// Trailing housekeeping: advance the extreme and propose a ratchet.
	if s.TrailingActive && !s.InitialRisk.IsZero() {
		extreme := s.Extreme
		if s.Side == types.SideBuy && s.CurrentPrice.GreaterThan(extreme) {
			extreme = s.CurrentPrice
		}
		if s.Side == types.SideSell && s.CurrentPrice.LessThan(extreme) {
			extreme = s.CurrentPrice
		}
		candidate := e.trailCandidate(s.Side, extreme, s.InitialRisk)
		return Decision{
			Action:  ActionRatchet,
			NewStop: candidate,
		}
	}

	return Decision{Action: ActionNone}
}

// trailCandidate computes the candidate stop from the favorable extreme:
// extreme minus TrailStepR risk units for longs, mirrored for shorts.
func (e *Engine) trailCandidate(side types.Side, extreme, initialRisk decimal.Decimal) decimal.Decimal {
	step := e.cfg.TrailStepR.Mul(initialRisk)
	if side == types.SideBuy {
		return extreme.Sub(step)
	}
	return extreme.Add(step)
}

// TrailCandidate exposes the ratchet arithmetic for callers arming
// trailing on a partial exit.
func (e *Engine) TrailCandidate(side types.Side, extreme, initialRisk decimal.Decimal) decimal.Decimal {
	return e.trailCandidate(side, extreme, initialRisk)
}

// EvaluateCandle runs the time-stop check after a candle close has been
// counted. SL and TP have already had their chance on the tick path.
func (e *Engine) EvaluateCandle(s order.Snapshot) Decision {
	if e.cfg.TimeStopBars <= 0 || s.BarsHeld < e.cfg.TimeStopBars {
		return Decision{Action: ActionNone}
	}
	return Decision{
		Action:    ActionTimeStop,
		Qty:       s.RemainingQty,
		Price:     s.CurrentPrice,
		Reason:    "time_stop",
		EventType: types.EventTimeStop,
	}
}

// ArmImmediately reports whether trailing should arm at activation.
func (e *Engine) ArmImmediately() bool {
	return e.cfg.Activation == ActivateImmediate
}
