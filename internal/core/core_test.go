package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/execution"
	"github.com/tathienbao/exec-core/internal/stops"
	"github.com/tathienbao/exec-core/internal/types"
)

// harness wires a core to a deterministic paper backend with zero
// slippage so scenario arithmetic is exact.
type harness struct {
	core *Core
	bus  *bus.Bus
	evs  *[]types.Event
}

func newHarness(t *testing.T, stopCfg stops.Config) *harness {
	t.Helper()

	b := bus.New(0, nil)
	var evs []types.Event
	b.SubscribeAll(func(ev types.Event) { evs = append(evs, ev) })

	fill := execution.NewFillModel(execution.FillConfig{Deterministic: true})
	backend := execution.NewPaperBackend(fill, b, nil)
	c := New(backend, stops.NewEngine(stopCfg), b, nil, nil)

	return &harness{core: c, bus: b, evs: &evs}
}

func (h *harness) tick(price int64) {
	h.core.OnTick("BTCUSDT", decimal.NewFromInt(price), time.Now())
}

func (h *harness) submit(t *testing.T, intent types.Intent) Handle {
	t.Helper()
	hd, err := h.core.Submit(context.Background(), intent)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return hd
}

func longMarket() types.Intent {
	return types.Intent{
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		Qty:        decimal.NewFromInt(50),
		OrderType:  types.OrderTypeMarket,
		SLPrice:    decimal.NewFromInt(95),
		TPPrice:    decimal.NewFromInt(110),
		StrategyID: "scenario",
	}
}

func reasons(evs []types.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, string(ev.Type)+"/"+ev.Reason)
	}
	return out
}

func TestCore_TakeProfitScenario(t *testing.T) {
	h := newHarness(t, stops.DefaultConfig())
	h.tick(100)

	hd := h.submit(t, longMarket())
	if hd.Snapshot().State != types.OrderStateActive {
		t.Fatalf("State = %v, want ACTIVE", hd.Snapshot().State)
	}

	h.tick(102)
	h.tick(105)
	if hd.Snapshot().State != types.OrderStateActive {
		t.Fatalf("exited early at %v", hd.Snapshot().State)
	}

	h.tick(111)
	snap := hd.Snapshot()
	if snap.State != types.OrderStateArchived {
		t.Fatalf("State = %v, want ARCHIVED", snap.State)
	}
	// Fills at the tick price 111, not the 110 target: (111-100)*50.
	if !snap.RealizedPnl.Equal(decimal.NewFromInt(550)) {
		t.Errorf("RealizedPnl = %s, want 550", snap.RealizedPnl)
	}

	last := hd.Events()[len(hd.Events())-2] // close precedes archive
	if last.Type != types.EventTargetHit || last.Reason != "take_profit" {
		t.Errorf("close event = %s/%s, want TARGET_HIT/take_profit", last.Type, last.Reason)
	}
}

func TestCore_PartialStopThenTrailingScenario(t *testing.T) {
	cfg := stops.DefaultConfig()
	cfg.PartialExitEnabled = true
	h := newHarness(t, cfg)
	h.tick(100)

	hd := h.submit(t, longMarket())

	// Drift down, breach the stop: half exits at 94 for -150.
	h.tick(98)
	h.tick(94)
	snap := hd.Snapshot()
	if snap.State != types.OrderStateActive {
		t.Fatalf("State = %v, want ACTIVE on the remainder", snap.State)
	}
	if !snap.RemainingQty.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("RemainingQty = %s, want 25", snap.RemainingQty)
	}
	if !snap.RealizedPnl.Equal(decimal.NewFromInt(-150)) {
		t.Errorf("RealizedPnl = %s, want -150 after partial", snap.RealizedPnl)
	}
	if !snap.TrailingActive {
		t.Fatal("trailing not armed after partial stop")
	}
	// The candidate at 94 (89) would loosen the 95 stop; it is discarded.
	if !snap.SLPrice.Equal(decimal.NewFromInt(95)) {
		t.Errorf("SLPrice = %s, want 95 unchanged", snap.SLPrice)
	}

	// Rally to 105: extreme 105, stop ratchets to 105 - 1R = 100.
	h.tick(105)
	if snap = hd.Snapshot(); !snap.SLPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("SLPrice = %s, want 100 after rally", snap.SLPrice)
	}

	// Pullback above the stop leaves everything in place.
	h.tick(103)
	if snap = hd.Snapshot(); !snap.SLPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("SLPrice = %s, want 100 on pullback", snap.SLPrice)
	}

	// Breach of the trailed stop closes the remainder at the tick price:
	// (96-100)*25 = -100, total -250.
	h.tick(96)
	snap = hd.Snapshot()
	if snap.State != types.OrderStateArchived {
		t.Fatalf("State = %v, want ARCHIVED", snap.State)
	}
	if !snap.RealizedPnl.Equal(decimal.NewFromInt(-250)) {
		t.Errorf("RealizedPnl = %s, want -250 total", snap.RealizedPnl)
	}

	evs := hd.Events()
	finalClose := evs[len(evs)-2]
	if finalClose.Reason != "trailing_stop" {
		t.Errorf("final close reason = %q, want trailing_stop", finalClose.Reason)
	}
}

func TestCore_TimeStopScenario(t *testing.T) {
	cfg := stops.DefaultConfig()
	cfg.TimeStopBars = 20
	h := newHarness(t, cfg)
	h.tick(100)

	hd := h.submit(t, longMarket())

	candle := func() types.Candle {
		return types.Candle{
			Symbol:    "BTCUSDT",
			Timestamp: time.Now(),
			Close:     decimal.NewFromInt(100),
		}
	}

	for i := 0; i < 19; i++ {
		h.core.OnCandleClose(candle())
	}
	if hd.Snapshot().State != types.OrderStateActive {
		t.Fatalf("State = %v at bar 19, want ACTIVE", hd.Snapshot().State)
	}

	h.core.OnCandleClose(candle())
	snap := hd.Snapshot()
	if snap.State != types.OrderStateArchived {
		t.Fatalf("State = %v at bar 20, want ARCHIVED", snap.State)
	}
	if !snap.RealizedPnl.IsZero() {
		t.Errorf("RealizedPnl = %s, want 0 for a flat hold", snap.RealizedPnl)
	}

	evs := hd.Events()
	if evs[len(evs)-2].Reason != "time_stop" {
		t.Errorf("close reason = %q, want time_stop", evs[len(evs)-2].Reason)
	}
}

func TestCore_StopWinsSimultaneousBreach(t *testing.T) {
	// SL == TP == tick price makes both conditions true on one snapshot;
	// precedence closes on the stop.
	h := newHarness(t, stops.DefaultConfig())
	h.tick(100)

	intent := longMarket()
	intent.SLPrice = decimal.NewFromInt(100)
	intent.TPPrice = decimal.NewFromInt(100)
	hd := h.submit(t, intent)

	h.tick(100)
	snap := hd.Snapshot()
	if snap.State != types.OrderStateArchived {
		t.Fatalf("State = %v, want ARCHIVED", snap.State)
	}

	evs := hd.Events()
	closeEv := evs[len(evs)-2]
	if closeEv.Type != types.EventStopHit || closeEv.Reason != "stop_loss" {
		t.Errorf("close = %s/%s, want STOP_HIT/stop_loss", closeEv.Type, closeEv.Reason)
	}
}

func TestCore_DeterministicReplay(t *testing.T) {
	run := func() []string {
		cfg := stops.DefaultConfig()
		cfg.PartialExitEnabled = true
		h := newHarness(t, cfg)

		h.tick(100)
		h.submit(t, longMarket())
		for _, p := range []int64{98, 94, 105, 103, 96} {
			h.tick(p)
		}
		return reasons(*h.evs)
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("event counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("event %d differs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestCore_IntentValidation(t *testing.T) {
	h := newHarness(t, stops.DefaultConfig())

	cases := []struct {
		name   string
		mutate func(*types.Intent)
		want   error
	}{
		{"empty symbol", func(i *types.Intent) { i.Symbol = "" }, types.ErrEmptySymbol},
		{"zero qty", func(i *types.Intent) { i.Qty = decimal.Zero }, types.ErrInvalidQty},
		{"negative qty", func(i *types.Intent) { i.Qty = decimal.NewFromInt(-1) }, types.ErrInvalidQty},
		{"limit without price", func(i *types.Intent) { i.OrderType = types.OrderTypeLimit }, types.ErrMissingLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := longMarket()
			tc.mutate(&intent)
			if _, err := h.core.Submit(context.Background(), intent); !errors.Is(err, tc.want) {
				t.Errorf("Submit err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCore_CancelUnknownOrder(t *testing.T) {
	h := newHarness(t, stops.DefaultConfig())
	if err := h.core.Cancel(context.Background(), "missing"); !errors.Is(err, types.ErrOrderNotFound) {
		t.Errorf("Cancel err = %v, want ErrOrderNotFound", err)
	}
}

func TestCore_PositionAggregation(t *testing.T) {
	h := newHarness(t, stops.DefaultConfig())
	h.tick(100)

	h.submit(t, longMarket())

	short := longMarket()
	short.Side = types.SideSell
	short.Qty = decimal.NewFromInt(20)
	short.SLPrice = decimal.NewFromInt(105)
	short.TPPrice = decimal.NewFromInt(90)
	h.submit(t, short)

	pos := h.core.Position("BTCUSDT")
	if !pos.NetQty.Equal(decimal.NewFromInt(30)) {
		t.Errorf("NetQty = %s, want 30 (50 long - 20 short)", pos.NetQty)
	}
	if pos.Orders != 2 {
		t.Errorf("Orders = %d, want 2", pos.Orders)
	}
	if !pos.AvgPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("AvgPrice = %s, want 100", pos.AvgPrice)
	}

	// Long gains 100 at 102, short loses 40: net +60 unrealized.
	h.tick(102)
	m := h.core.Metrics()
	if !m.UnrealizedPnl.Equal(decimal.NewFromInt(60)) {
		t.Errorf("UnrealizedPnl = %s, want 60", m.UnrealizedPnl)
	}
	if m.ActivePositions != 1 {
		t.Errorf("ActivePositions = %d, want 1", m.ActivePositions)
	}
}

func TestCore_ImmediateTrailingActivation(t *testing.T) {
	cfg := stops.DefaultConfig()
	cfg.Activation = stops.ActivateImmediate
	h := newHarness(t, cfg)
	h.tick(100)

	hd := h.submit(t, longMarket())

	// First tick after activation arms trailing and starts ratcheting.
	h.tick(104)
	snap := hd.Snapshot()
	if !snap.TrailingActive {
		t.Fatal("trailing not armed under immediate activation")
	}
	// extreme 104 - 1R (5) = 99 beats the 95 stop.
	if !snap.SLPrice.Equal(decimal.NewFromInt(99)) {
		t.Errorf("SLPrice = %s, want 99", snap.SLPrice)
	}
}
