package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"greedybear/core"
)

// SQLiteHoneypotStorage implements HoneypotStorage on SQLite
type SQLiteHoneypotStorage struct {
	sqlite *SQLite
}

// NewSQLiteHoneypotStorage creates a honeypot storage backed by SQLite
func NewSQLiteHoneypotStorage(sqlite *SQLite) *SQLiteHoneypotStorage {
	return &SQLiteHoneypotStorage{sqlite: sqlite}
}

// CreateHoneypot inserts a honeypot and fills in its generated ID.
func (s *SQLiteHoneypotStorage) CreateHoneypot(ctx context.Context, hp *core.Honeypot) error {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	res, err := s.sqlite.WriteDB.ExecContext(ctx,
		`INSERT INTO honeypots (name, active) VALUES (?, ?)`,
		hp.Name, boolToInt(hp.Active))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateHoneypot
		}
		return fmt.Errorf("failed to create honeypot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read honeypot id: %w", err)
	}
	hp.ID = id
	return nil
}

// SetHoneypotActive flips a honeypot's active flag by name.
func (s *SQLiteHoneypotStorage) SetHoneypotActive(ctx context.Context, name string, active bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	res, err := s.sqlite.WriteDB.ExecContext(ctx,
		`UPDATE honeypots SET active = ? WHERE name = ?`, boolToInt(active), name)
	if err != nil {
		return fmt.Errorf("failed to update honeypot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrHoneypotNotFound
	}
	return nil
}

// ListHoneypots returns every registered honeypot, name-ordered.
func (s *SQLiteHoneypotStorage) ListHoneypots(ctx context.Context) ([]core.Honeypot, error) {
	return s.queryHoneypots(ctx, `SELECT id, name, active FROM honeypots ORDER BY name`)
}

// ActiveHoneypots returns the active honeypots, name-ordered. Their
// canonical feed types make up the valid feed_type filter set.
func (s *SQLiteHoneypotStorage) ActiveHoneypots(ctx context.Context) ([]core.Honeypot, error) {
	return s.queryHoneypots(ctx, `SELECT id, name, active FROM honeypots WHERE active = 1 ORDER BY name`)
}

// GetHoneypotByName fetches a single honeypot.
func (s *SQLiteHoneypotStorage) GetHoneypotByName(ctx context.Context, name string) (*core.Honeypot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	var hp core.Honeypot
	var active int
	err := s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT id, name, active FROM honeypots WHERE name = ?`, name).
		Scan(&hp.ID, &hp.Name, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHoneypotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get honeypot: %w", err)
	}
	hp.Active = active == 1
	return &hp, nil
}

func (s *SQLiteHoneypotStorage) queryHoneypots(ctx context.Context, query string) ([]core.Honeypot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query honeypots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var honeypots []core.Honeypot
	for rows.Next() {
		var hp core.Honeypot
		var active int
		if err := rows.Scan(&hp.ID, &hp.Name, &active); err != nil {
			return nil, fmt.Errorf("failed to scan honeypot: %w", err)
		}
		hp.Active = active == 1
		honeypots = append(honeypots, hp)
	}
	return honeypots, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
