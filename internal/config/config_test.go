package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/alerting"
	"github.com/tathienbao/exec-core/internal/stops"
	"github.com/tathienbao/exec-core/internal/types"
)

const validYAML = `
engine:
  backend: paper
  event_ring_size: 500

fill:
  slippage_bps: 1.5
  deterministic: true

stops:
  partial_exit_enabled: true
  partial_exit_fraction: 0.5
  trail_step_r: 1.0
  trailing_activation: after_partial
  time_stop_bars: 20

live:
  max_attempts: 3
  retry_delay_ms: 250
  retry_backoff: 2.0
  call_timeout_ms: 3000
  poll_interval_ms: 2000
  calls_per_second: 10

gate:
  enabled: true
  initial_equity: 10000
  max_drawdown_pct: 0.2
  max_order_qty: 100
  max_open_orders: 5

alerting:
  enabled: true
  min_severity: high

journal:
  enabled: true
  path: /tmp/exec-core.db
  snapshot_interval_sec: 30

metrics:
  enabled: true
  port: 9090
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	if cfg.Backend() != "paper" {
		t.Errorf("Backend = %q, want paper", cfg.Backend())
	}
	if cfg.Engine.EventRingSize != 500 {
		t.Errorf("EventRingSize = %d, want 500", cfg.Engine.EventRingSize)
	}
	if cfg.SnapshotInterval() != 30*time.Second {
		t.Errorf("SnapshotInterval = %v, want 30s", cfg.SnapshotInterval())
	}

	sc := cfg.ToStopsConfig()
	if !sc.PartialExitEnabled {
		t.Error("PartialExitEnabled not carried over")
	}
	if !sc.PartialExitFraction.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("PartialExitFraction = %s, want 0.5", sc.PartialExitFraction)
	}
	if sc.Activation != stops.ActivateAfterPartial {
		t.Errorf("Activation = %v, want after_partial", sc.Activation)
	}
	if sc.TimeStopBars != 20 {
		t.Errorf("TimeStopBars = %d, want 20", sc.TimeStopBars)
	}

	lc := cfg.ToLiveConfig()
	if lc.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", lc.MaxAttempts)
	}
	if lc.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 250ms", lc.RetryDelay)
	}

	gc := cfg.ToGateConfig()
	if !gc.MaxOrderQty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("MaxOrderQty = %s, want 100", gc.MaxOrderQty)
	}
	if gc.MaxOpenOrders != 5 {
		t.Errorf("MaxOpenOrders = %d, want 5", gc.MaxOpenOrders)
	}
	if cfg.MinSeverity() != alerting.SeverityHigh {
		t.Errorf("MinSeverity = %v, want HIGH", cfg.MinSeverity())
	}

	fc := cfg.ToFillConfig()
	if !fc.SlippageBps.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("SlippageBps = %s, want 1.5", fc.SlippageBps)
	}
	if !fc.Deterministic {
		t.Error("Deterministic not carried over")
	}
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("{}"))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	if cfg.Backend() != "paper" {
		t.Errorf("Backend = %q, want paper default", cfg.Backend())
	}
	if cfg.SnapshotInterval() != time.Minute {
		t.Errorf("SnapshotInterval = %v, want 1m default", cfg.SnapshotInterval())
	}
	if got := cfg.ToStopsConfig(); got.Activation != stops.ActivateAfterPartial {
		t.Errorf("Activation = %v, want after_partial default", got.Activation)
	}
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	bad := `
engine:
  backend: hybrid
stops:
  partial_exit_enabled: true
  partial_exit_fraction: 1.5
  trailing_activation: sometimes
journal:
  enabled: true
`
	_, err := LoadFromBytes([]byte(bad))
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}

	for _, want := range []string{"engine.backend", "partial_exit_fraction", "trailing_activation", "journal.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestLoadFromBytes_ExpandsEnv(t *testing.T) {
	t.Setenv("EXEC_JOURNAL_PATH", "/var/lib/exec/journal.db")

	cfg, err := LoadFromBytes([]byte(`
journal:
  enabled: true
  path: ${EXEC_JOURNAL_PATH}
`))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	if cfg.Journal.Path != "/var/lib/exec/journal.db" {
		t.Errorf("Journal.Path = %q, want expanded env value", cfg.Journal.Path)
	}
}

func TestLoadFromBytes_MalformedYAML(t *testing.T) {
	if _, err := LoadFromBytes([]byte("engine: [")); err == nil {
		t.Fatal("expected parse error for malformed yaml")
	}
}
