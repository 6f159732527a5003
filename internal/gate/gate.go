// Package gate implements a pre-trade safety gate: every live placement
// passes through it before any broker call. It tracks realized equity
// from the event stream and trips a sticky safe mode on excessive
// drawdown.
package gate

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/broker"
	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/types"
)

var (
	// ErrSafeMode is returned once the drawdown limit has tripped.
	ErrSafeMode = errors.New("safe mode active")
	// ErrTooManyOrders is returned when the open order cap is reached.
	ErrTooManyOrders = errors.New("max open orders reached")
	// ErrQtyTooLarge is returned for an order above the size cap.
	ErrQtyTooLarge = errors.New("order quantity above limit")
	// ErrSymbolBlocked is returned for a symbol on the block list.
	ErrSymbolBlocked = errors.New("symbol blocked")
)

// Config holds gate limits. Zero values disable the respective check.
type Config struct {
	InitialEquity  decimal.Decimal
	MaxDrawdownPct decimal.Decimal // e.g. 0.20 trips at 20% off the peak
	MaxOrderQty    decimal.Decimal
	MaxOpenOrders  int
	BlockedSymbols []string
}

// DefaultConfig returns conservative limits.
func DefaultConfig() Config {
	return Config{
		MaxDrawdownPct: decimal.RequireFromString("0.20"),
		MaxOpenOrders:  10,
	}
}

// Gate enforces pre-trade limits. Thread-safe.
type Gate struct {
	mu sync.Mutex

	cfg     Config
	hwm     *HighWaterTracker
	blocked map[string]bool

	openOrders int
	safeMode   bool
	safeModeAt time.Time

	logger *slog.Logger
}

// New creates a gate.
func New(cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	blocked := make(map[string]bool, len(cfg.BlockedSymbols))
	for _, s := range cfg.BlockedSymbols {
		blocked[s] = true
	}
	return &Gate{
		cfg:     cfg,
		hwm:     NewHighWaterTracker(cfg.InitialEquity),
		blocked: blocked,
		logger:  logger,
	}
}

// Allow approves or vetoes one placement. A veto is final for that
// order; callers do not retry through the gate.
func (g *Gate) Allow(symbol string, side types.Side, qty decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.safeMode {
		return fmt.Errorf("%w since %s", ErrSafeMode, g.safeModeAt.Format(time.RFC3339))
	}
	if g.blocked[symbol] {
		return fmt.Errorf("%w: %s", ErrSymbolBlocked, symbol)
	}
	if !g.cfg.MaxOrderQty.IsZero() && qty.GreaterThan(g.cfg.MaxOrderQty) {
		return fmt.Errorf("%w: %s > %s", ErrQtyTooLarge, qty, g.cfg.MaxOrderQty)
	}
	if g.cfg.MaxOpenOrders > 0 && g.openOrders >= g.cfg.MaxOpenOrders {
		return fmt.Errorf("%w: %d", ErrTooManyOrders, g.openOrders)
	}
	return nil
}

// Attach subscribes the gate to the event stream so its open-order count
// and equity curve track actual executions.
func (g *Gate) Attach(b *bus.Bus) {
	b.SubscribeAll(g.observe)
}

// observe folds one lifecycle event into the gate's state.
func (g *Gate) observe(ev types.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch ev.Type {
	case types.EventOrderPlaced:
		g.openOrders++
	case types.EventOrderRejected, types.EventOrderCancelled:
		g.decOrders()
	case types.EventPositionUpdated:
		if ev.Reason == "archived" {
			g.decOrders()
		}
	}

	if pnl, ok := ev.Payload["pnl"]; ok {
		d, err := decimal.NewFromString(pnl)
		if err != nil {
			g.logger.Warn("unparseable pnl in event payload",
				"event_id", ev.ID,
				"pnl", pnl,
			)
			return
		}
		g.applyPnl(d)
	}
}

// decOrders decrements the open order count, never below zero.
func (g *Gate) decOrders() {
	if g.openOrders > 0 {
		g.openOrders--
	}
}

// applyPnl updates the equity curve and trips safe mode when drawdown
// breaches the limit. Callers must hold g.mu.
func (g *Gate) applyPnl(pnl decimal.Decimal) {
	equity := g.hwm.Current().Add(pnl)
	g.hwm.Update(equity)

	if g.safeMode || g.cfg.MaxDrawdownPct.IsZero() || g.cfg.InitialEquity.IsZero() {
		return
	}
	if g.hwm.Drawdown().GreaterThanOrEqual(g.cfg.MaxDrawdownPct) {
		g.safeMode = true
		g.safeModeAt = time.Now()
		g.logger.Error("safe mode tripped",
			"drawdown", g.hwm.Drawdown(),
			"limit", g.cfg.MaxDrawdownPct,
			"equity", equity,
			"peak", g.hwm.Peak(),
		)
	}
}

// SafeMode reports whether the gate has tripped.
func (g *Gate) SafeMode() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.safeMode
}

// Reset clears safe mode after operator intervention.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.safeMode {
		g.safeMode = false
		g.logger.Warn("safe mode reset by operator")
	}
}

// OpenOrders returns the current open order count.
func (g *Gate) OpenOrders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openOrders
}

var _ broker.Gate = (*Gate)(nil)
