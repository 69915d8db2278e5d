// Package sqlite implements [store.Store] on a SQLite database file.
//
// Two database/sql drivers are supported: "sqlite3" (mattn/go-sqlite3,
// cgo) and "sqlite" (modernc.org/sqlite, pure Go). Both share one
// schema and one set of queries.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	modernc "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/nugget/prenatal-clinic/internal/store"
)

// Driver names accepted by Open.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// timeLayout is fixed width so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite-backed [store.Store]. All methods are safe for
// concurrent use (SQLite serializes writes; the busy timeout absorbs
// lock contention).
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path using the named
// driver and ensures the schema exists.
func Open(driver, path string) (*Store, error) {
	dsn, err := dataSourceName(driver, path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func dataSourceName(driver, path string) (string, error) {
	switch driver {
	case DriverMattn:
		return path + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case DriverModernc:
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q (valid: %s, %s)", driver, DriverMattn, DriverModernc)
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id      TEXT PRIMARY KEY,
		user_id              TEXT NOT NULL,
		title                TEXT NOT NULL,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL,
		message_count        INTEGER NOT NULL DEFAULT 0,
		last_message_preview TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations(user_id, updated_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		message_id      TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		type            TEXT NOT NULL,
		content         TEXT NOT NULL,
		timestamp       TEXT NOT NULL,
		metadata        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);

	CREATE TABLE IF NOT EXISTS favorites (
		favorite_id       TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		message_id        TEXT NOT NULL,
		conversation_id   TEXT NOT NULL,
		message_content   TEXT NOT NULL,
		message_timestamp TEXT NOT NULL,
		favorited_at      TEXT NOT NULL,
		metadata          TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_favorites_user_time ON favorites(user_id, favorited_at DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_favorites_user_message ON favorites(user_id, message_id);
	CREATE INDEX IF NOT EXISTS idx_favorites_conversation ON favorites(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or by older tooling may use RFC 3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure from either driver.
func isUniqueViolation(err error) bool {
	if ok, unique := mattnUniqueViolation(err); ok {
		return unique
	}
	var ce *modernc.Error
	if errors.As(err, &ce) {
		return ce.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			ce.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
