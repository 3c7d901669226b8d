// Package eventlog persists an append-only record of worker run events to a
// local SQLite database, so a run can be reconstructed after the process and
// its conversations are gone.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // database/sql driver

	"agentd/pkg/logx"
)

// Event kinds recorded over a run.
const (
	KindRunStarted       = "run_started"
	KindPhaseStarted     = "phase_started"
	KindPhaseFinished    = "phase_finished"
	KindSubtaskStarted   = "subtask_started"
	KindSubtaskFinished  = "subtask_finished"
	KindActivity         = "activity"
	KindProviderFallback = "provider_fallback"
	KindRunFinished      = "run_finished"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ticket ON events(ticket_id, id);
`

// Event is one recorded run event.
type Event struct {
	ID        int64
	TicketID  string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// Log is the append-only event store.
type Log struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if necessary) the event database at path.
func Open(path string, logger *logx.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000", path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping event log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize event log schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Log{db: db, logger: logger}, nil
}

// Close releases the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append records an event. Failures only log; the event log must never take
// the worker down.
func (l *Log) Append(ctx context.Context, ticketID, kind, detail string) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (ticket_id, kind, detail, created_at) VALUES (?, ?, ?, ?)`,
		ticketID, kind, detail, time.Now().UTC(),
	)
	if err != nil {
		l.logger.Warn("failed to append %s event: %v", kind, err)
	}
}

// Events returns all events for a ticket in append order.
func (l *Log) Events(ctx context.Context, ticketID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, ticket_id, kind, detail, created_at FROM events WHERE ticket_id = ? ORDER BY id`,
		ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TicketID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
