package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver selects the backing database engine.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrSnapshotOutOfOrder is returned when an appended snapshot does not come
// strictly after the quiz's latest one.
var ErrSnapshotOutOfOrder = errors.New("snapshot not after latest")

// Store persists snapshot history, quiz metadata, and API users. All SQL
// sticks to the subset both engines accept: $N placeholders, RETURNING, and
// integer millisecond timestamps.
type Store struct {
	db *sql.DB
}

// New opens the database and applies the schema. An empty sqlite DSN opens
// quizpulse.db in the working directory; postgres always requires a DSN.
func New(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName, schema string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		schema = schemaSQLite
		if dsn == "" {
			dsn = "quizpulse.db"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverPostgres:
		drvName = "pgx"
		schema = schemaPostgres
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	quiz_id TEXT NOT NULL,
	sync_id TEXT NOT NULL DEFAULT '',
	taken_at INTEGER NOT NULL,
	students INTEGER NOT NULL DEFAULT 0,
	roster TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_quiz_time ON snapshots(quiz_id, taken_at);

CREATE TABLE IF NOT EXISTS quiz_metadata (
	quiz_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (quiz_id, key)
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'viewer',
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS api_tokens (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	FOREIGN KEY (user_id) REFERENCES users(id)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS snapshots (
	id BIGSERIAL PRIMARY KEY,
	quiz_id TEXT NOT NULL,
	sync_id TEXT NOT NULL DEFAULT '',
	taken_at BIGINT NOT NULL,
	students INTEGER NOT NULL DEFAULT 0,
	roster TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_quiz_time ON snapshots(quiz_id, taken_at);

CREATE TABLE IF NOT EXISTS quiz_metadata (
	quiz_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (quiz_id, key)
);

CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'viewer',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_tokens (
	id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id),
	created_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
);
`
