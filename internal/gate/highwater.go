package gate

import (
	"sync"

	"github.com/shopspring/decimal"
)

// HighWaterTracker tracks peak equity. Thread-safe.
type HighWaterTracker struct {
	mu      sync.RWMutex
	peak    decimal.Decimal
	current decimal.Decimal
}

// NewHighWaterTracker creates a tracker seeded with initial equity.
func NewHighWaterTracker(initial decimal.Decimal) *HighWaterTracker {
	return &HighWaterTracker{peak: initial, current: initial}
}

// Update records the current equity, advancing the peak when exceeded.
// Returns true on a new peak.
func (h *HighWaterTracker) Update(equity decimal.Decimal) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = equity
	if equity.GreaterThan(h.peak) {
		h.peak = equity
		return true
	}
	return false
}

// Current returns the last recorded equity.
func (h *HighWaterTracker) Current() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Peak returns the high water mark.
func (h *HighWaterTracker) Peak() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peak
}

// Drawdown returns (peak - current) / peak as a ratio; zero when the
// peak is zero.
func (h *HighWaterTracker) Drawdown() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.peak.IsZero() {
		return decimal.Zero
	}
	dd := h.peak.Sub(h.current).Div(h.peak)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}
