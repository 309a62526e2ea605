// Package storage provides the SQLite persistence layer: the IOC store with
// its feed queries and ASN aggregation, the honeypot registry, and the
// request-statistics audit log.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is the canonical timestamp encoding. Timestamps are
// stored as UTC text so range predicates and MIN/MAX aggregate correctly
// as string comparisons.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// SQLite holds the SQLite database connections. Reads and writes use
// separate pools so WAL mode's concurrent readers are not serialized behind
// the single writer.
type SQLite struct {
	WriteDB *sql.DB // single-writer pool (WAL allows exactly one writer)
	ReadDB  *sql.DB // concurrent reader pool
	Path    string
	Logger  *zap.SugaredLogger

	queryTimeout time.Duration

	// now is the clock used for age-relative predicates. Swappable in tests.
	now func() time.Time
}

// configureConnection applies the standard SQLite settings to a pool:
// WAL journal, foreign keys, busy timeout.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite disables foreign keys by default
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got %d)", fkEnabled)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got %s)", journalMode)
	}

	return nil
}

// NewSQLite opens the database at dbPath, creating parent directories and
// the schema as needed.
func NewSQLite(dbPath string, queryTimeout time.Duration, logger *zap.SugaredLogger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// In-memory databases need shared cache so both pools see the same data
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	if err := configureConnection(readDB, dbPath); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(0)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}

	s := &SQLite{
		WriteDB:      writeDB,
		ReadDB:       readDB,
		Path:         dbPath,
		Logger:       logger,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}

	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Infow("SQLite storage ready", "path", dbPath, "query_timeout", queryTimeout)
	return s, nil
}

// SetClock overrides the clock used for age-relative predicates.
func (s *SQLite) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if s.ReadDB != nil {
		if err := s.ReadDB.Close(); err != nil {
			firstErr = err
		}
	}
	if s.WriteDB != nil {
		if err := s.WriteDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func toDBTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func fromDBTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}
