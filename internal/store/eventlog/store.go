// Package eventlog keeps an append-only audit trail of controller and
// trade events in its own SQLite file, separate from the main store so
// heavy event writes never contend with position updates.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	TypeLifecycle = "lifecycle"
	TypeCycle     = "cycle"
	TypeTradeOpen = "trade_open"
	TypeTradeExit = "trade_exit"
	TypeRejection = "rejection"
	TypeReconcile = "reconcile"
	TypeError     = "error"
)

// Event is one audit row. Detail is free-form and stored as JSON.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Symbol    string         `json:"symbol,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventStore manages the append-only event table.
type EventStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewEventStore opens (or creates) the event log at path.
func NewEventStore(path string) (*EventStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("event log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureEventSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &EventStore{db: db}, nil
}

// Close closes the underlying DB.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureEventSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bot_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			symbol TEXT,
			detail_json TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_type_created ON bot_events(type, created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_created ON bot_events(created_at DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("event schema: %w", err)
		}
	}
	return nil
}

// Append writes one event. A zero CreatedAt is stamped with now.
func (s *EventStore) Append(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("event store not initialized")
	}
	if evt.Type == "" {
		return fmt.Errorf("event type required")
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	var detail []byte
	if len(evt.Detail) > 0 {
		detail, _ = json.Marshal(evt.Detail)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_events (type, symbol, detail_json, created_at) VALUES (?, ?, ?, ?)`,
		evt.Type,
		strings.ToUpper(strings.TrimSpace(evt.Symbol)),
		string(detail),
		evt.CreatedAt.UnixMilli(),
	)
	return err
}

// Recent returns the newest events, optionally filtered by type.
func (s *EventStore) Recent(ctx context.Context, eventType string, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("event store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, type, symbol, detail_json, created_at FROM bot_events`
	args := make([]any, 0, 2)
	if t := strings.TrimSpace(eventType); t != "" {
		query += ` WHERE type = ?`
		args = append(args, t)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var (
			evt    Event
			symbol sql.NullString
			detail sql.NullString
			ts     int64
		)
		if err := rows.Scan(&evt.ID, &evt.Type, &symbol, &detail, &ts); err != nil {
			return nil, err
		}
		evt.Symbol = symbol.String
		if detail.Valid && detail.String != "" {
			_ = json.Unmarshal([]byte(detail.String), &evt.Detail)
		}
		evt.CreatedAt = time.UnixMilli(ts)
		out = append(out, evt)
	}
	return out, rows.Err()
}

// CountSince reports how many events of a type were appended at or
// after the given instant.
func (s *EventStore) CountSince(ctx context.Context, eventType string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("event store not initialized")
	}
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM bot_events WHERE type = ? AND created_at >= ?`,
		strings.TrimSpace(eventType), since.UnixMilli(),
	).Scan(&n)
	return n, err
}
