package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"greedybear/core"
)

// SQLiteStatisticsStorage implements StatisticsStorage on SQLite
type SQLiteStatisticsStorage struct {
	sqlite *SQLite
}

// NewSQLiteStatisticsStorage creates a statistics storage backed by SQLite
func NewSQLiteStatisticsStorage(sqlite *SQLite) *SQLiteStatisticsStorage {
	return &SQLiteStatisticsStorage{sqlite: sqlite}
}

// RecordRequest appends one audit row for a served request. Callers treat
// failures as best-effort: the serving path logs and continues.
func (s *SQLiteStatisticsStorage) RecordRequest(ctx context.Context, source string, view core.ViewType) error {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	_, err := s.sqlite.WriteDB.ExecContext(ctx,
		`INSERT INTO statistics (id, source, view, request_date) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), source, string(view), toDBTime(s.sqlite.now()))
	if err != nil {
		return fmt.Errorf("failed to record request statistics: %w", err)
	}
	return nil
}

// SourcesPerDay counts distinct request sources per day over the trailing
// window.
func (s *SQLiteStatisticsStorage) SourcesPerDay(ctx context.Context, view core.ViewType, days int) ([]StatBucket, error) {
	return s.bucketQuery(ctx, `
		SELECT date(request_date) AS day, COUNT(DISTINCT source)
		FROM statistics
		WHERE view = ? AND request_date >= ?
		GROUP BY day
		ORDER BY day`, view, days)
}

// RequestsPerDay counts served requests per day over the trailing window.
func (s *SQLiteStatisticsStorage) RequestsPerDay(ctx context.Context, view core.ViewType, days int) ([]StatBucket, error) {
	return s.bucketQuery(ctx, `
		SELECT date(request_date) AS day, COUNT(*)
		FROM statistics
		WHERE view = ? AND request_date >= ?
		GROUP BY day
		ORDER BY day`, view, days)
}

func (s *SQLiteStatisticsStorage) bucketQuery(ctx context.Context, query string, view core.ViewType, days int) ([]StatBucket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	cutoff := s.sqlite.now().AddDate(0, 0, -days)
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, string(view), toDBTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var buckets []StatBucket
	for rows.Next() {
		var b StatBucket
		if err := rows.Scan(&b.Date, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
