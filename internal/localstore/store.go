// Package localstore is the durable local copy of users, conversations and
// messages. It is backed by SQLite and survives restarts; the remote store
// remains the system of record.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/HendryAvila/chatsync/internal/chat"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is the store clock for created_at and retention cutoffs.
var timeNow = time.Now

// schemaVersion is written to PRAGMA user_version after migration.
// Bump it whenever a JSON column changes shape.
const schemaVersion = 1

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds local store configuration.
type Config struct {
	DataDir         string
	FileName        string
	DefaultPageSize int
}

// DefaultConfig returns the default configuration for the local store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:         filepath.Join(home, ".chatsync"),
		FileName:        "chatsync.db",
		DefaultPageSize: 50,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the local persistent store. Writes are serialized through writeMu;
// reads run concurrently against the WAL.
type Store struct {
	db      *sql.DB
	cfg     Config
	hooks   storeHooks
	writeMu sync.Mutex
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
			return db.ExecContext(ctx, query, args...)
		},
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

func (s *Store) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New creates a Store with the given configuration. It creates the data
// directory if needed, opens SQLite in WAL mode with foreign keys enforced on
// every pooled connection, and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.FileName == "" {
		cfg.FileName = "chatsync.db"
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("localstore: create data dir: %w", err)
	}

	dsn := filepath.Join(cfg.DataDir, cfg.FileName) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("localstore: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("localstore: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg, hooks: defaultStoreHooks()}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("localstore: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return filepath.Join(s.cfg.DataDir, s.cfg.FileName)
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			email        TEXT,
			photo_url    TEXT,
			last_synced  INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS conversations (
			id                     TEXT PRIMARY KEY,
			type                   TEXT NOT NULL CHECK (type IN ('direct', 'group')),
			participants           TEXT NOT NULL DEFAULT '[]',
			participant_details    TEXT NOT NULL DEFAULT '{}',
			name                   TEXT,
			last_message_text      TEXT,
			last_message_sender_id TEXT,
			last_message_at        INTEGER,
			last_activity          INTEGER NOT NULL DEFAULT 0,
			unread_count           TEXT NOT NULL DEFAULT '{}',
			last_seen_by           TEXT NOT NULL DEFAULT '{}',
			created_at             INTEGER NOT NULL,
			updated_at             INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conv_activity ON conversations(last_activity DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			local_id        TEXT UNIQUE,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			content_text    TEXT NOT NULL DEFAULT '',
			content_type    TEXT NOT NULL DEFAULT 'text',
			media_url       TEXT,
			media_thumbnail TEXT,
			timestamp       INTEGER NOT NULL,
			status          TEXT NOT NULL,
			sync_status     TEXT NOT NULL,
			delivered_to    TEXT NOT NULL DEFAULT '[]',
			read_by         TEXT NOT NULL DEFAULT '{}',
			deleted_at      INTEGER,
			deleted_for     TEXT NOT NULL DEFAULT '[]',
			created_at      INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_msg_conv_ts ON messages(conversation_id, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_msg_status  ON messages(status);
		CREATE INDEX IF NOT EXISTS idx_msg_sync    ON messages(sync_status);
	`
	if _, err := s.execHook(ctx, s.db, schema); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}
	if version < schemaVersion {
		// PRAGMA does not accept bound parameters.
		if _, err := s.execHook(ctx, s.db, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("write user_version: %w", err)
		}
	}
	return nil
}

// SchemaVersion returns the stored schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// Stats holds aggregate local store counts.
type Stats struct {
	Users         int `json:"users"`
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Pending       int `json:"pending"`
	Synced        int `json:"synced"`
	Failed        int `json:"failed"`
	SoftDeleted   int `json:"soft_deleted"`
}

// Stats returns row counts across the store.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE sync_status = 'pending'),
			(SELECT COUNT(*) FROM messages WHERE sync_status = 'synced'),
			(SELECT COUNT(*) FROM messages WHERE sync_status = 'failed'),
			(SELECT COUNT(*) FROM messages WHERE deleted_at IS NOT NULL)`,
	).Scan(&st.Users, &st.Conversations, &st.Messages, &st.Pending, &st.Synced, &st.Failed, &st.SoftDeleted)
	if err != nil {
		return nil, fmt.Errorf("localstore: stats: %w", err)
	}
	return st, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

// classify maps SQLite constraint failures onto the chat taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %v", chat.ErrConstraintViolation, err)
	}
	return err
}

// isConstraintViolation checks for SQLite UNIQUE, PRIMARY KEY, CHECK and
// FOREIGN KEY failures.
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
