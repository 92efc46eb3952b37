package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/mod/semver"
)

//go:embed schema.sql
var schemaSQL string

// SchemaVersion is the schema revision this binary writes.
const SchemaVersion = "v1.2.0"

// migration upgrades an existing database to version.
type migration struct {
	version string
	apply   func(db *DB) error
}

// migrations run in order for databases whose recorded
// version is older than the migration's version.
var migrations = []migration{
	{"v1.1.0", func(db *DB) error {
		return db.ensureColumn(
			"game_sessions", "duration_seconds",
			"INTEGER NOT NULL DEFAULT 0",
		)
	}},
	{"v1.2.0", func(db *DB) error {
		if err := db.ensureColumn(
			"game_sessions", "current_questions",
			"TEXT NOT NULL DEFAULT '[]'",
		); err != nil {
			return err
		}
		_, err := db.writer.Exec(
			`CREATE INDEX IF NOT EXISTS idx_game_sessions_status
			 ON game_sessions(status, created_at)`,
		)
		return err
	}},
}

// DB manages a write connection and a read-only pool over a
// local SQLite mirror of the platform tables.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex // serializes writes
}

var _ Store = (*DB)(nil)

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	params.Set("_mmap_size", "268435456")
	params.Set("_cache_size", "-64000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens a SQLite database at the given path.
// It configures WAL mode, mmap, and returns a DB with separate
// writer and reader connections.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	db := &DB{writer: writer, reader: reader}
	if err := db.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

// ensureColumn adds a column if it doesn't already exist.
func (db *DB) ensureColumn(
	table, column, definition string,
) error {
	var count int
	err := db.writer.QueryRow(
		"SELECT count(*) FROM pragma_table_info(?) WHERE name = ?",
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf(
			"checking column %s.%s: %w", table, column, err,
		)
	}
	if count > 0 {
		return nil
	}
	_, err = db.writer.Exec(fmt.Sprintf(
		"ALTER TABLE %s ADD COLUMN %s %s",
		quoteIdent(table), quoteIdent(column), definition,
	))
	return err
}

func (db *DB) init() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.Exec(schemaSQL); err != nil {
		return err
	}

	stored, err := db.schemaVersion()
	if err != nil {
		return err
	}
	if stored != "" && semver.Compare(stored, SchemaVersion) > 0 {
		return fmt.Errorf(
			"database schema %s is newer than supported %s",
			stored, SchemaVersion,
		)
	}
	for _, m := range migrations {
		if stored != "" && semver.Compare(m.version, stored) <= 0 {
			continue
		}
		if err := m.apply(db); err != nil {
			return fmt.Errorf("migrating to %s: %w", m.version, err)
		}
	}
	if stored == SchemaVersion {
		return nil
	}
	_, err = db.writer.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		SchemaVersion,
	)
	return err
}

// schemaVersion returns the recorded version, or "" for a
// database created before versions were tracked.
func (db *DB) schemaVersion() (string, error) {
	var v string
	err := db.writer.QueryRow(
		"SELECT value FROM meta WHERE key = 'schema_version'",
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading schema version: %w", err)
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid schema version %q", v)
	}
	return v, nil
}

// SchemaVersion returns the version recorded in the database.
func (db *DB) SchemaVersion() (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.schemaVersion()
}

// Close closes both writer and reader connections.
func (db *DB) Close() error {
	return errors.Join(db.writer.Close(), db.reader.Close())
}

// Update executes fn within a write lock and transaction.
// The transaction is committed if fn returns nil, rolled back
// otherwise.
func (db *DB) Update(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Reader returns the read-only connection pool.
func (db *DB) Reader() *sql.DB {
	return db.reader
}

// Ping checks that the reader pool is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.reader.PingContext(ctx)
}
