package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_EventRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	ev := types.Event{
		ID:        "ev-1",
		Type:      types.EventStopHit,
		OrderID:   "ord-1",
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Reason:    "stop_loss_partial",
		Payload:   map[string]string{"exit_price": "94", "exit_qty": "25"},
	}
	if err := j.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}

	got, err := j.OrderEvents(ctx, "ord-1")
	if err != nil {
		t.Fatalf("OrderEvents failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Type != types.EventStopHit {
		t.Errorf("Type = %s, want STOP_HIT", got[0].Type)
	}
	if got[0].Reason != "stop_loss_partial" {
		t.Errorf("Reason = %q, want stop_loss_partial", got[0].Reason)
	}
	if got[0].Payload["exit_price"] != "94" {
		t.Errorf("Payload[exit_price] = %q, want 94", got[0].Payload["exit_price"])
	}
}

func TestJournal_DuplicateEventIgnored(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	ev := types.Event{ID: "ev-1", Type: types.EventOrderPlaced, OrderID: "ord-1", Timestamp: time.Now()}
	if err := j.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("first SaveEvent failed: %v", err)
	}
	if err := j.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("replayed SaveEvent failed: %v", err)
	}

	got, err := j.OrderEvents(ctx, "ord-1")
	if err != nil {
		t.Fatalf("OrderEvents failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d events after replay, want 1", len(got))
	}
}

func TestJournal_AttachPersistsBusTraffic(t *testing.T) {
	j := openTestJournal(t)
	b := bus.New(0, nil)
	j.Attach(b)

	b.Publish(types.Event{ID: "ev-1", Type: types.EventOrderPlaced, OrderID: "ord-1", Timestamp: time.Now()})
	b.Publish(types.Event{ID: "ev-2", Type: types.EventOrderFilled, OrderID: "ord-1", Timestamp: time.Now()})

	got, err := j.OrderEvents(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("OrderEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d persisted events, want 2", len(got))
	}
}

func TestJournal_LatestSnapshot(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	// No snapshot yet.
	if got, err := j.LatestSnapshot(ctx); err != nil || got != nil {
		t.Fatalf("LatestSnapshot on empty db = %v, %v; want nil, nil", got, err)
	}

	first := types.MetricsSnapshot{
		Timestamp:       time.Now().UTC(),
		TotalOrders:     2,
		ActivePositions: 1,
		RealizedPnl:     decimal.NewFromInt(-150),
		UnrealizedPnl:   decimal.RequireFromString("42.5"),
	}
	if err := j.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	second := first
	second.TotalOrders = 3
	second.RealizedPnl = decimal.NewFromInt(-250)
	if err := j.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("second SaveSnapshot failed: %v", err)
	}

	got, err := j.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}
	if got == nil {
		t.Fatal("LatestSnapshot returned nil")
	}
	if got.TotalOrders != 3 {
		t.Errorf("TotalOrders = %d, want 3", got.TotalOrders)
	}
	if !got.RealizedPnl.Equal(decimal.NewFromInt(-250)) {
		t.Errorf("RealizedPnl = %s, want -250", got.RealizedPnl)
	}
	if !got.UnrealizedPnl.Equal(decimal.RequireFromString("42.5")) {
		t.Errorf("UnrealizedPnl = %s, want 42.5", got.UnrealizedPnl)
	}
}
