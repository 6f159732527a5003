package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/types"
)

func TestFillModel_MarketSlippageAgainstTrader(t *testing.T) {
	m := NewFillModel(FillConfig{
		SlippageBps:   decimal.NewFromInt(10), // 10 bps = 0.1%
		Deterministic: true,
	})
	ref := decimal.NewFromInt(10000)
	qty := decimal.NewFromInt(1)

	buy := m.Entry(ref, types.OrderTypeMarket, types.SideBuy, decimal.Zero, qty)
	if !buy.Price.Equal(decimal.NewFromInt(10010)) {
		t.Errorf("buy fill = %s, want 10010", buy.Price)
	}

	sell := m.Entry(ref, types.OrderTypeMarket, types.SideSell, decimal.Zero, qty)
	if !sell.Price.Equal(decimal.NewFromInt(9990)) {
		t.Errorf("sell fill = %s, want 9990", sell.Price)
	}
}

func TestFillModel_SpreadAddsHalf(t *testing.T) {
	m := NewFillModel(FillConfig{
		SlippageBps:   decimal.NewFromInt(10),
		SpreadBps:     decimal.NewFromInt(20), // half-spread 10 bps
		Deterministic: true,
	})
	got := m.Entry(decimal.NewFromInt(10000), types.OrderTypeMarket, types.SideBuy, decimal.Zero, decimal.NewFromInt(1))
	if !got.Price.Equal(decimal.NewFromInt(10020)) {
		t.Errorf("buy fill = %s, want 10020 (10 bps slippage + 10 bps half-spread)", got.Price)
	}
}

func TestFillModel_LimitMarketability(t *testing.T) {
	m := NewFillModel(FillConfig{Deterministic: true})
	qty := decimal.NewFromInt(1)
	limit := decimal.NewFromInt(100)

	// Buy limit 100: ref 101 does not cross, ref 99 fills at the limit.
	if r := m.Entry(decimal.NewFromInt(101), types.OrderTypeLimit, types.SideBuy, limit, qty); r.Filled {
		t.Error("buy limit filled above the limit price")
	}
	r := m.Entry(decimal.NewFromInt(99), types.OrderTypeLimit, types.SideBuy, limit, qty)
	if !r.Filled {
		t.Fatal("buy limit did not fill with ref below limit")
	}
	if !r.Price.Equal(limit) {
		t.Errorf("buy limit fill = %s, want limit price 100", r.Price)
	}

	// Sell limit 100: ref 99 rests, ref 101 fills.
	if r := m.Entry(decimal.NewFromInt(99), types.OrderTypeLimit, types.SideSell, limit, qty); r.Filled {
		t.Error("sell limit filled below the limit price")
	}
	if r := m.Entry(decimal.NewFromInt(101), types.OrderTypeLimit, types.SideSell, limit, qty); !r.Filled {
		t.Error("sell limit did not fill with ref above limit")
	}
}

func TestFillModel_ExitSlippageFlips(t *testing.T) {
	m := NewFillModel(FillConfig{
		SlippageBps:   decimal.NewFromInt(10),
		Deterministic: true,
	})
	ref := decimal.NewFromInt(10000)

	// Closing a long sells, so the exit fills below the reference.
	long := m.Exit(ref, types.SideBuy, decimal.NewFromInt(1))
	if !long.Price.Equal(decimal.NewFromInt(9990)) {
		t.Errorf("long exit = %s, want 9990", long.Price)
	}

	short := m.Exit(ref, types.SideSell, decimal.NewFromInt(1))
	if !short.Price.Equal(decimal.NewFromInt(10010)) {
		t.Errorf("short exit = %s, want 10010", short.Price)
	}
}

func TestFillModel_DeterministicNeverPartial(t *testing.T) {
	m := NewFillModel(FillConfig{
		PartialFillEnabled:  true,
		PartialFillProb:     1.0,
		PartialFillMinRatio: 0.25,
		Deterministic:       true,
	})
	qty := decimal.NewFromInt(50)
	for i := 0; i < 20; i++ {
		r := m.Entry(decimal.NewFromInt(100), types.OrderTypeMarket, types.SideBuy, decimal.Zero, qty)
		if !r.Qty.Equal(qty) {
			t.Fatalf("deterministic run drew partial qty %s on iteration %d", r.Qty, i)
		}
	}
}

func TestFillModel_PartialDrawBounded(t *testing.T) {
	m := NewFillModel(FillConfig{
		PartialFillEnabled:  true,
		PartialFillProb:     1.0,
		PartialFillMinRatio: 0.5,
		Seed:                42,
	})
	qty := decimal.NewFromInt(100)
	for i := 0; i < 50; i++ {
		r := m.Entry(decimal.NewFromInt(100), types.OrderTypeMarket, types.SideBuy, decimal.Zero, qty)
		if r.Qty.LessThan(decimal.NewFromInt(50)) || r.Qty.GreaterThan(qty) {
			t.Fatalf("partial qty %s outside [50, 100]", r.Qty)
		}
	}
}
