// Package journal persists the per-order audit trail and periodic
// metric snapshots to SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Journal is a bus consumer writing lifecycle events durably. It never
// mutates buffered events; a write failure is logged and never blocks
// delivery to other subscribers.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// migrate creates the schema.
func (j *Journal) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			order_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			reason TEXT,
			payload TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_order_id ON events(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			total_orders INTEGER NOT NULL,
			active_positions INTEGER NOT NULL,
			realized_pnl TEXT NOT NULL,
			unrealized_pnl TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp)`,
	}

	for _, m := range migrations {
		if _, err := j.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Attach subscribes the journal to every event on the bus.
func (j *Journal) Attach(b *bus.Bus) {
	b.SubscribeAll(func(ev types.Event) {
		if err := j.SaveEvent(context.Background(), ev); err != nil {
			j.logger.Warn("journal write failed",
				"event_id", ev.ID,
				"order_id", ev.OrderID,
				"err", err,
			)
		}
	})
}

// SaveEvent persists one lifecycle event.
func (j *Journal) SaveEvent(ctx context.Context, ev types.Event) error {
	var payload []byte
	if ev.Payload != nil {
		var err error
		payload, err = json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (id, type, order_id, timestamp, reason, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.OrderID, ev.Timestamp, ev.Reason, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// SaveSnapshot persists one metrics snapshot.
func (j *Journal) SaveSnapshot(ctx context.Context, s types.MetricsSnapshot) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO snapshots (timestamp, total_orders, active_positions, realized_pnl, unrealized_pnl)
		 VALUES (?, ?, ?, ?, ?)`,
		s.Timestamp, s.TotalOrders, s.ActivePositions, s.RealizedPnl.String(), s.UnrealizedPnl.String(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// OrderEvents returns the persisted audit trail for one order, oldest
// first.
func (j *Journal) OrderEvents(ctx context.Context, orderID string) ([]types.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, type, order_id, timestamp, reason, payload
		 FROM events WHERE order_id = ? ORDER BY timestamp, created_at`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var ev types.Event
		var evType, payload string
		if err := rows.Scan(&ev.ID, &evType, &ev.OrderID, &ev.Timestamp, &ev.Reason, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = types.EventType(evType)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the most recent persisted snapshot, or nil if
// none exists.
func (j *Journal) LatestSnapshot(ctx context.Context) (*types.MetricsSnapshot, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT timestamp, total_orders, active_positions, realized_pnl, unrealized_pnl
		 FROM snapshots ORDER BY id DESC LIMIT 1`,
	)

	var s types.MetricsSnapshot
	var realized, unrealized string
	err := row.Scan(&s.Timestamp, &s.TotalOrders, &s.ActivePositions, &realized, &unrealized)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if s.RealizedPnl, err = parseDecimal(realized); err != nil {
		return nil, err
	}
	if s.UnrealizedPnl, err = parseDecimal(unrealized); err != nil {
		return nil, err
	}
	return &s, nil
}

// SnapshotLoop periodically persists snapshots produced by source until
// ctx is cancelled.
func (j *Journal) SnapshotLoop(ctx context.Context, interval time.Duration, source func() types.MetricsSnapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.SaveSnapshot(ctx, source()); err != nil {
				j.logger.Warn("snapshot write failed", "err", err)
			}
		}
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// Ping verifies the database is still reachable, for health probes.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
