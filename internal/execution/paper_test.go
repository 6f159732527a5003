package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/order"
	"github.com/tathienbao/exec-core/internal/types"
)

func noSlipModel() *FillModel {
	return NewFillModel(FillConfig{Deterministic: true})
}

func marketIntent() types.Intent {
	return types.Intent{
		Symbol:    "BTCUSDT",
		Side:      types.SideBuy,
		Qty:       decimal.NewFromInt(50),
		OrderType: types.OrderTypeMarket,
		SLPrice:   decimal.NewFromInt(95),
		TPPrice:   decimal.NewFromInt(110),
	}
}

func tick(symbol string, price int64) types.Tick {
	return types.Tick{Symbol: symbol, Price: decimal.NewFromInt(price), Timestamp: time.Now()}
}

func TestPaper_MarketOrderFillsOnKnownPrice(t *testing.T) {
	b := bus.New(0, nil)
	p := NewPaperBackend(noSlipModel(), b, nil)
	p.OnTick(tick("BTCUSDT", 100))

	o := order.New(marketIntent(), time.Now())
	if err := p.Place(context.Background(), o); err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	if o.State() != types.OrderStateActive {
		t.Fatalf("State = %v, want ACTIVE", o.State())
	}
	snap := o.Snapshot()
	if !snap.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("EntryPrice = %s, want 100", snap.EntryPrice)
	}

	// Placed, filled, activated: three events on the bus.
	if got := b.Len(); got != 3 {
		t.Errorf("bus buffered %d events, want 3", got)
	}
}

func TestPaper_MarketOrderRejectedWithoutPrice(t *testing.T) {
	b := bus.New(0, nil)
	p := NewPaperBackend(noSlipModel(), b, nil)

	o := order.New(marketIntent(), time.Now())
	err := p.Place(context.Background(), o)
	if !errors.Is(err, types.ErrNoMarketData) {
		t.Fatalf("Place err = %v, want ErrNoMarketData", err)
	}
	if o.State() != types.OrderStateRejected {
		t.Errorf("State = %v, want REJECTED", o.State())
	}

	evs := o.Events()
	if evs[len(evs)-1].Reason != "no_market_data" {
		t.Errorf("last event reason = %q, want no_market_data", evs[len(evs)-1].Reason)
	}
}

func TestPaper_LimitOrderRestsThenFillsOnTick(t *testing.T) {
	b := bus.New(0, nil)
	p := NewPaperBackend(noSlipModel(), b, nil)
	p.OnTick(tick("BTCUSDT", 105))

	intent := marketIntent()
	intent.OrderType = types.OrderTypeLimit
	intent.LimitPrice = decimal.NewFromInt(100)

	o := order.New(intent, time.Now())
	if err := p.Place(context.Background(), o); err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if o.State() != types.OrderStateSubmitted {
		t.Fatalf("State = %v, want SUBMITTED while resting", o.State())
	}

	// Price still above the limit: keeps resting.
	p.OnTick(tick("BTCUSDT", 102))
	if o.State() != types.OrderStateSubmitted {
		t.Fatalf("State = %v, want SUBMITTED at 102", o.State())
	}

	// Crosses the limit: fills at the limit price.
	p.OnTick(tick("BTCUSDT", 99))
	if o.State() != types.OrderStateActive {
		t.Fatalf("State = %v, want ACTIVE after marketable tick", o.State())
	}
	if snap := o.Snapshot(); !snap.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("EntryPrice = %s, want limit price 100", snap.EntryPrice)
	}
}

func TestPaper_CancelSubmitted(t *testing.T) {
	b := bus.New(0, nil)
	p := NewPaperBackend(noSlipModel(), b, nil)

	intent := marketIntent()
	intent.OrderType = types.OrderTypeLimit
	intent.LimitPrice = decimal.NewFromInt(100)

	o := order.New(intent, time.Now())
	if err := p.Place(context.Background(), o); err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if err := p.Cancel(context.Background(), o); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if o.State() != types.OrderStateCancelled {
		t.Fatalf("State = %v, want CANCELLED", o.State())
	}

	// The cancelled order never fills even if the price crosses.
	p.OnTick(tick("BTCUSDT", 99))
	if o.State() != types.OrderStateCancelled {
		t.Errorf("State = %v after tick, want CANCELLED", o.State())
	}
}

func TestPaper_CancelTerminalOrderFails(t *testing.T) {
	b := bus.New(0, nil)
	p := NewPaperBackend(noSlipModel(), b, nil)
	p.OnTick(tick("BTCUSDT", 100))

	o := order.New(marketIntent(), time.Now())
	if err := p.Place(context.Background(), o); err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if _, err := o.CloseFull(decimal.NewFromInt(111), types.EventTargetHit, "take_profit", time.Now()); err != nil {
		t.Fatalf("CloseFull failed: %v", err)
	}

	if err := p.Cancel(context.Background(), o); !types.IsInvalidTransition(err) {
		t.Errorf("Cancel of CLOSED order: err = %v, want InvalidTransitionError", err)
	}
}

func TestPaper_ClosePartialThenResume(t *testing.T) {
	b := bus.New(0, nil)
	p := NewPaperBackend(noSlipModel(), b, nil)
	p.OnTick(tick("BTCUSDT", 100))

	o := order.New(marketIntent(), time.Now())
	if err := p.Place(context.Background(), o); err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	if err := p.Close(context.Background(), o, decimal.NewFromInt(25), decimal.NewFromInt(94), types.EventStopHit, "stop_loss_partial"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if o.State() != types.OrderStateActive {
		t.Fatalf("State = %v, want ACTIVE after partial close", o.State())
	}
	snap := o.Snapshot()
	if !snap.RemainingQty.Equal(decimal.NewFromInt(25)) {
		t.Errorf("RemainingQty = %s, want 25", snap.RemainingQty)
	}
	if !snap.RealizedPnl.Equal(decimal.NewFromInt(-150)) {
		t.Errorf("RealizedPnl = %s, want -150", snap.RealizedPnl)
	}

	if err := p.Close(context.Background(), o, decimal.NewFromInt(25), decimal.NewFromInt(96), types.EventStopHit, "trailing_stop"); err != nil {
		t.Fatalf("final Close failed: %v", err)
	}
	if o.State() != types.OrderStateClosed {
		t.Fatalf("State = %v, want CLOSED", o.State())
	}
	if snap := o.Snapshot(); !snap.RealizedPnl.Equal(decimal.NewFromInt(-250)) {
		t.Errorf("RealizedPnl = %s, want -250", snap.RealizedPnl)
	}
}
