package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gpio-node/internal/domain"
)

// Entry is one journaled event.
type Entry struct {
	ID        int64            `json:"id"`
	Type      domain.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// SQLiteJournal persists bus events so pin changes and fired actions survive
// a reboot of the node.
type SQLiteJournal struct {
	db         *sql.DB
	maxEntries int
	logger     *slog.Logger
}

// Open opens (or creates) the journal at dbPath. maxEntries caps the table;
// 0 keeps everything.
func Open(dbPath string, maxEntries int, logger *slog.Logger) (*SQLiteJournal, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}
	return &SQLiteJournal{db: db, maxEntries: maxEntries, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			type       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS events_type ON events(type);
	`)
	return err
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Record appends ev and trims the table to maxEntries.
func (j *SQLiteJournal) Record(ctx context.Context, ev domain.Event) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := j.db.ExecContext(ctx,
		"INSERT INTO events (type, created_at, payload) VALUES (?, ?, ?)",
		string(ev.Type), ts.UTC().Format(time.RFC3339Nano), string(ev.Payload),
	); err != nil {
		return domain.NewDomainError("SQLiteJournal.Record", fmt.Errorf("%w: %w", domain.ErrJournalWrite, err), string(ev.Type))
	}
	if j.maxEntries > 0 {
		if _, err := j.db.ExecContext(ctx,
			"DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)",
			j.maxEntries,
		); err != nil {
			return domain.NewDomainError("SQLiteJournal.Record", fmt.Errorf("%w: %w", domain.ErrJournalWrite, err), "trim")
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first. Types filters by event
// type when non-empty.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int, types ...domain.EventType) ([]Entry, error) {
	query := "SELECT id, type, created_at, payload FROM events"
	args := make([]any, 0, len(types)+1)
	if len(types) > 0 {
		query += " WHERE type IN (?" + strings.Repeat(", ?", len(types)-1) + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			typ     string
			created string
			payload string
		)
		if err := rows.Scan(&e.ID, &typ, &created, &payload); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		if payload != "" {
			e.Payload = json.RawMessage(payload)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (j *SQLiteJournal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}

// Attach journals every bus event except the skipped types. The returned
// function detaches it.
func (j *SQLiteJournal) Attach(bus domain.EventBus, skip ...domain.EventType) func() {
	return bus.SubscribeAll(func(ctx context.Context, ev domain.Event) {
		if slices.Contains(skip, ev.Type) {
			return
		}
		if err := j.Record(ctx, ev); err != nil {
			j.logger.Warn("journal write failed", "type", string(ev.Type), "error", err)
		}
	})
}
