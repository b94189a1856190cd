// Package sqlite implements the State Store port over an embedded,
// pure-Go SQLite engine. Open limits its handle to one connection; it
// does not detect another process that has the same database file open,
// and it never returns domain.ErrSingleWriter.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matt-hans/shipagent/internal/domain"
)

// Store persists jobs, rows, audit entries, and filters to a single
// SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at dsn and applies the
// schema. dsn is a modernc.org/sqlite connection string, e.g.
// "file:./data/shipagent.db?_pragma=journal_mode(WAL)".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("op=store.open: %w", err)
	}
	// A single embedded writer: one connection avoids SQLITE_BUSY storms
	// from this process itself. It does not keep a second process from
	// opening the same file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("op=store.migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database handle is reachable, for readiness probes.
func (s *Store) Ping(ctx domain.Context) error { return s.db.PingContext(ctx) }

func startSpan(ctx domain.Context, name string) (domain.Context, func()) {
	t := otel.Tracer("store.sqlite")
	ctx, span := t.Start(ctx, name)
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", name),
	)
	return ctx, span.End
}

func nowUTC() time.Time { return time.Now().UTC() }

func logErr(op string, err error, attrs ...any) {
	slog.Error("store operation failed", append([]any{slog.String("op", op), slog.Any("error", err)}, attrs...)...)
}

// timeLayout is RFC3339Nano; every timestamp column is stored in UTC using
// this layout so lexicographic ordering matches chronological ordering.
const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("op=store.parse_time: %w", err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var _ domain.Store = (*Store)(nil)
