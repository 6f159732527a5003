package execution

import (
	"math/rand"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/types"
)

var bpsDenominator = decimal.NewFromInt(10000)

// FillConfig holds fill simulation parameters for the paper backend.
type FillConfig struct {
	SlippageBps decimal.Decimal // applied against the trader on market fills
	SpreadBps   decimal.Decimal // optional half-spread, also against the trader

	PartialFillEnabled  bool
	PartialFillProb     float64 // chance a fill is partial
	PartialFillMinRatio float64 // lower bound of the filled fraction

	// Deterministic disables all random draws so two runs over the same
	// price sequence produce identical fills.
	Deterministic bool
	Seed          int64
}

// DefaultFillConfig returns a deterministic model with one basis point
// of slippage and no partial fills.
func DefaultFillConfig() FillConfig {
	return FillConfig{
		SlippageBps:   decimal.NewFromInt(1),
		Deterministic: true,
	}
}

// FillResult is the outcome of one fill computation.
type FillResult struct {
	Filled bool
	Price  decimal.Decimal
	Qty    decimal.Decimal
}

// FillModel computes realistic execution prices from a reference price.
type FillModel struct {
	cfg FillConfig
	rng *rand.Rand
}

// NewFillModel creates a fill model. The random source is seeded from
// cfg.Seed so non-deterministic runs are still reproducible per seed.
func NewFillModel(cfg FillConfig) *FillModel {
	return &FillModel{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// adverse returns the total adverse price adjustment in basis points.
func (m *FillModel) adverse() decimal.Decimal {
	adj := m.cfg.SlippageBps
	if !m.cfg.SpreadBps.IsZero() {
		adj = adj.Add(m.cfg.SpreadBps.Div(decimal.NewFromInt(2)))
	}
	return adj
}

// slip applies the adverse adjustment against the trader: buys fill
// higher, sells fill lower.
func (m *FillModel) slip(ref decimal.Decimal, side types.Side) decimal.Decimal {
	adj := ref.Mul(m.adverse()).Div(bpsDenominator)
	if side == types.SideBuy {
		return ref.Add(adj)
	}
	return ref.Sub(adj)
}

// marketable reports whether the reference price has crossed the limit.
func marketable(ref, limit decimal.Decimal, side types.Side) bool {
	if side == types.SideBuy {
		return ref.LessThanOrEqual(limit)
	}
	return ref.GreaterThanOrEqual(limit)
}

// Entry computes the fill for an entry order against the reference
// price. Limit orders fill at the limit price only when marketable;
// otherwise the result reports Filled == false and the order stays
// SUBMITTED.
func (m *FillModel) Entry(ref decimal.Decimal, orderType types.OrderType, side types.Side, limit, qty decimal.Decimal) FillResult {
	var price decimal.Decimal
	switch orderType {
	case types.OrderTypeLimit:
		if !marketable(ref, limit, side) {
			return FillResult{}
		}
		price = limit
	default:
		price = m.slip(ref, side)
	}
	return FillResult{Filled: true, Price: price, Qty: m.drawQty(qty)}
}

// Exit computes the fill for closing qty of a position whose entry side
// is side. The closing trade runs opposite the entry, so slippage flips.
func (m *FillModel) Exit(ref decimal.Decimal, side types.Side, qty decimal.Decimal) FillResult {
	return FillResult{Filled: true, Price: m.slip(ref, side.Opposite()), Qty: qty}
}

// drawQty applies the partial-fill draw. Deterministic mode always
// fills in full.
func (m *FillModel) drawQty(qty decimal.Decimal) decimal.Decimal {
	if m.cfg.Deterministic || !m.cfg.PartialFillEnabled {
		return qty
	}
	if m.rng.Float64() >= m.cfg.PartialFillProb {
		return qty
	}
	ratio := m.cfg.PartialFillMinRatio + m.rng.Float64()*(1-m.cfg.PartialFillMinRatio)
	return qty.Mul(decimal.NewFromFloat(ratio))
}
