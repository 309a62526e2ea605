package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"greedybear/core"
	"greedybear/feeds"
)

// SQLiteIOCStorage implements IOCStorage on SQLite
type SQLiteIOCStorage struct {
	sqlite *SQLite
}

// NewSQLiteIOCStorage creates an IOC storage backed by SQLite
func NewSQLiteIOCStorage(sqlite *SQLite) *SQLiteIOCStorage {
	return &SQLiteIOCStorage{sqlite: sqlite}
}

// orderColumns maps validated ordering fields to the columns they sort by.
// Ordering fields are validated upstream, but ORDER BY is never built from
// raw input, only through this map.
var orderColumns = map[string]string{
	"name":                   "i.name",
	"type":                   "i.type",
	"first_seen":             "i.first_seen",
	"last_seen":              "i.last_seen",
	"attack_count":           "i.attack_count",
	"interaction_count":      "i.interaction_count",
	"login_attempts":         "i.login_attempts",
	"number_of_days_seen":    "i.number_of_days_seen",
	"asn":                    "i.asn",
	"ip_reputation":          "i.ip_reputation",
	"recurrence_probability": "i.recurrence_probability",
	"expected_interactions":  "i.expected_interactions",
}

// aggOrderColumns maps aggregate ordering fields to their SELECT aliases.
var aggOrderColumns = map[string]string{
	"asn":                     "asn",
	"ioc_count":               "ioc_count",
	"total_attack_count":      "total_attack_count",
	"total_interaction_count": "total_interaction_count",
	"total_login_attempts":    "total_login_attempts",
	"expected_ioc_count":      "expected_ioc_count",
	"expected_interactions":   "expected_interactions",
	"first_seen":              "first_seen",
	"last_seen":               "last_seen",
}

// =============================================================================
// Writes (fixture/ingestion surface)
// =============================================================================

// CreateIOC inserts an IOC and fills in its generated ID.
func (s *SQLiteIOCStorage) CreateIOC(ctx context.Context, ioc *core.IOC) error {
	if err := ioc.Validate(); err != nil {
		return fmt.Errorf("invalid IOC: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	ports, err := json.Marshal(ioc.DestinationPorts)
	if err != nil {
		return fmt.Errorf("failed to marshal destination ports: %w", err)
	}
	firehol, err := json.Marshal(ioc.FireholCategories)
	if err != nil {
		return fmt.Errorf("failed to marshal firehol categories: %w", err)
	}
	days, err := json.Marshal(ioc.DaysSeen)
	if err != nil {
		return fmt.Errorf("failed to marshal days seen: %w", err)
	}

	// the ingestion pipeline observes ASNs before any registry knows them,
	// so the referenced autonomous_systems row is created on first sight
	var asn interface{}
	if ioc.ASN != nil {
		asn = *ioc.ASN
		if _, err := s.sqlite.WriteDB.ExecContext(ctx,
			`INSERT OR IGNORE INTO autonomous_systems (asn, name) VALUES (?, '')`,
			*ioc.ASN); err != nil {
			return fmt.Errorf("failed to register autonomous system: %w", err)
		}
	}

	res, err := s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO iocs (
			name, type, first_seen, last_seen, attack_count, interaction_count,
			login_attempts, number_of_days_seen, destination_ports, ip_reputation,
			firehol_categories, asn, recurrence_probability, expected_interactions,
			days_seen, scanner, payload_request
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ioc.Name, string(ioc.Type), toDBTime(ioc.FirstSeen), toDBTime(ioc.LastSeen),
		ioc.AttackCount, ioc.InteractionCount, ioc.LoginAttempts,
		ioc.NumberOfDaysSeen, string(ports), ioc.IPReputation, string(firehol),
		asn, ioc.RecurrenceProbability, ioc.ExpectedInteractions, string(days),
		boolToInt(ioc.Scanner), boolToInt(ioc.PayloadRequest))
	if err != nil {
		if strings.Contains(err.Error(), "constraint") {
			return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
		}
		return fmt.Errorf("failed to create IOC: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read IOC id: %w", err)
	}
	ioc.ID = id
	return nil
}

// AssociateHoneypot links an IOC to a honeypot it was observed by.
// Idempotent: re-linking an existing pair is not an error.
func (s *SQLiteIOCStorage) AssociateHoneypot(ctx context.Context, iocID, honeypotID int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	_, err := s.sqlite.WriteDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO ioc_honeypots (ioc_id, honeypot_id) VALUES (?, ?)`,
		iocID, honeypotID)
	if err != nil {
		return fmt.Errorf("failed to associate honeypot: %w", err)
	}
	return nil
}

// UpsertASN records an autonomous system's name, replacing any previous one.
func (s *SQLiteIOCStorage) UpsertASN(ctx context.Context, as *core.AutonomousSystem) error {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	_, err := s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO autonomous_systems (asn, name) VALUES (?, ?)
		ON CONFLICT(asn) DO UPDATE SET name = excluded.name`,
		as.ASN, as.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert autonomous system: %w", err)
	}
	return nil
}

// =============================================================================
// Enrichment lookup
// =============================================================================

// GetIOCByName fetches one IOC by its exact value, with all associated
// honeypot names attached.
func (s *SQLiteIOCStorage) GetIOCByName(ctx context.Context, name string) (*core.IOC, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	row := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT i.id, i.name, i.type, i.first_seen, i.last_seen, i.attack_count,
		       i.interaction_count, i.login_attempts, i.number_of_days_seen,
		       i.destination_ports, i.ip_reputation, i.firehol_categories, i.asn,
		       i.recurrence_probability, i.expected_interactions, i.days_seen,
		       i.scanner, i.payload_request,
		       COALESCE((SELECT GROUP_CONCAT(h.name, ',')
		                 FROM ioc_honeypots ih
		                 JOIN honeypots h ON h.id = ih.honeypot_id
		                 WHERE ih.ioc_id = i.id), '') AS honeypots
		FROM iocs i
		WHERE i.name = ?`, name)

	ioc, err := scanIOC(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIOCNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get IOC: %w", err)
	}
	return ioc, nil
}

// =============================================================================
// Feed query
// =============================================================================

// FeedIOCs runs the row-level feed query: predicates from the spec, scoped
// to active honeypots, ordered by the allow-listed column and capped at
// feed_size. Honeypot names are aggregated per row so the join never
// duplicates IOCs.
func (s *SQLiteIOCStorage) FeedIOCs(ctx context.Context, spec *feeds.Spec) ([]core.IOC, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	where, args := s.buildPredicates(spec)

	column, ok := orderColumns[spec.OrderField]
	if !ok {
		return nil, fmt.Errorf("invalid ordering field: %s", spec.OrderField)
	}
	direction := "ASC"
	if spec.OrderDesc {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT i.id, i.name, i.type, i.first_seen, i.last_seen, i.attack_count,
		       i.interaction_count, i.login_attempts, i.number_of_days_seen,
		       i.destination_ports, i.ip_reputation, i.firehol_categories, i.asn,
		       i.recurrence_probability, i.expected_interactions, i.days_seen,
		       i.scanner, i.payload_request,
		       GROUP_CONCAT(h.name, ',') AS honeypots
		FROM iocs i
		JOIN ioc_honeypots ih ON ih.ioc_id = i.id
		JOIN honeypots h ON h.id = ih.honeypot_id AND h.active = 1
		WHERE %s
		GROUP BY i.id
		ORDER BY %s %s, i.id ASC
		LIMIT ?`, where, column, direction)
	args = append(args, spec.FeedSize)

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feed IOCs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var iocs []core.IOC
	for rows.Next() {
		ioc, err := scanIOC(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan IOC: %w", err)
		}
		iocs = append(iocs, *ioc)
	}
	return iocs, rows.Err()
}

// buildPredicates composes the WHERE clause shared by the row-level feed
// path and the ASN aggregation path.
func (s *SQLiteIOCStorage) buildPredicates(spec *feeds.Spec) (string, []interface{}) {
	conds := []string{"1=1"}
	var args []interface{}

	if spec.FeedType != "all" {
		names := core.HoneypotNamesForFeedType(spec.FeedType)
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM ioc_honeypots fih
			JOIN honeypots fh ON fh.id = fih.honeypot_id
			WHERE fih.ioc_id = i.id AND LOWER(fh.name) IN (%s))`, placeholders))
		for _, n := range names {
			args = append(args, n)
		}
	}

	switch spec.AttackType {
	case core.AttackTypeScanner:
		conds = append(conds, "i.scanner = 1")
	case core.AttackTypePayloadRequest:
		conds = append(conds, "i.payload_request = 1")
	}

	if spec.IOCType != "all" {
		conds = append(conds, "i.type = ?")
		args = append(args, spec.IOCType)
	}

	cutoff := s.sqlite.now().AddDate(0, 0, -spec.MaxAge)
	conds = append(conds, "i.last_seen >= ?")
	args = append(args, toDBTime(cutoff))

	if spec.MinDaysSeen > 1 {
		conds = append(conds, "i.number_of_days_seen >= ?")
		args = append(args, spec.MinDaysSeen)
	}

	if len(spec.IncludeReputation) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(spec.IncludeReputation)), ",")
		conds = append(conds, fmt.Sprintf("i.ip_reputation IN (%s)", placeholders))
		for _, r := range spec.IncludeReputation {
			args = append(args, r)
		}
	}

	if len(spec.ExcludeReputation) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(spec.ExcludeReputation)), ",")
		conds = append(conds, fmt.Sprintf("i.ip_reputation NOT IN (%s)", placeholders))
		for _, r := range spec.ExcludeReputation {
			args = append(args, r)
		}
	}

	return strings.Join(conds, " AND "), args
}

// =============================================================================
// ASN aggregation
// =============================================================================

// ASNAggregates runs the per-ASN roll-up. Two grouped queries share one read
// transaction: numeric sums over the complete filtered set, and
// active-honeypot name sets, merged by ASN in application code. The honeypot
// predicates use EXISTS so the sums are never inflated by join fan-out.
// The feed_size cap deliberately does not apply: partial aggregation would
// produce wrong sums.
func (s *SQLiteIOCStorage) ASNAggregates(ctx context.Context, spec *feeds.Spec) ([]core.ASNAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sqlite.queryTimeout)
	defer cancel()

	where, args := s.buildPredicates(spec)
	if spec.ASN != nil {
		where += " AND i.asn = ?"
		args = append(args, *spec.ASN)
	}

	column, ok := aggOrderColumns[spec.OrderField]
	if !ok {
		return nil, fmt.Errorf("invalid ordering field: %s", spec.OrderField)
	}
	direction := "ASC"
	if spec.OrderDesc {
		direction = "DESC"
	}

	tx, err := s.sqlite.ReadDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sumsQuery := fmt.Sprintf(`
		SELECT i.asn AS asn,
		       COUNT(*) AS ioc_count,
		       SUM(i.attack_count) AS total_attack_count,
		       SUM(i.interaction_count) AS total_interaction_count,
		       SUM(i.login_attempts) AS total_login_attempts,
		       SUM(i.recurrence_probability) AS expected_ioc_count,
		       SUM(i.expected_interactions) AS expected_interactions,
		       MIN(i.first_seen) AS first_seen,
		       MAX(i.last_seen) AS last_seen
		FROM iocs i
		WHERE i.asn IS NOT NULL AND %s
		GROUP BY i.asn
		ORDER BY %s %s, asn ASC`, where, column, direction)

	rows, err := tx.QueryContext(ctx, sumsQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ASN sums: %w", err)
	}

	var aggs []core.ASNAggregate
	index := make(map[int64]int)
	for rows.Next() {
		var agg core.ASNAggregate
		var firstSeen, lastSeen string
		if err := rows.Scan(&agg.ASN, &agg.IOCCount, &agg.TotalAttackCount,
			&agg.TotalInteractionCount, &agg.TotalLoginAttempts,
			&agg.ExpectedIOCCount, &agg.ExpectedInteractions,
			&firstSeen, &lastSeen); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan ASN aggregate: %w", err)
		}
		agg.ExpectedIOCCount = round4(agg.ExpectedIOCCount)
		agg.ExpectedInteractions = round4(agg.ExpectedInteractions)
		agg.FirstSeen = formatAggTime(firstSeen)
		agg.LastSeen = formatAggTime(lastSeen)
		agg.Honeypots = []string{}
		index[agg.ASN] = len(aggs)
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Honeypot names are scoped to active honeypots; an ASN whose IOCs were
	// all seen by inactive honeypots keeps its empty list.
	namesQuery := fmt.Sprintf(`
		SELECT DISTINCT i.asn, h.name
		FROM iocs i
		JOIN ioc_honeypots ih ON ih.ioc_id = i.id
		JOIN honeypots h ON h.id = ih.honeypot_id AND h.active = 1
		WHERE i.asn IS NOT NULL AND %s`, where)

	nameRows, err := tx.QueryContext(ctx, namesQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ASN honeypots: %w", err)
	}
	defer func() { _ = nameRows.Close() }()

	for nameRows.Next() {
		var asn int64
		var name string
		if err := nameRows.Scan(&asn, &name); err != nil {
			return nil, fmt.Errorf("failed to scan ASN honeypot: %w", err)
		}
		if idx, ok := index[asn]; ok {
			aggs[idx].Honeypots = append(aggs[idx].Honeypots, name)
		}
	}
	if err := nameRows.Err(); err != nil {
		return nil, err
	}

	for i := range aggs {
		sort.Strings(aggs[i].Honeypots)
	}
	return aggs, nil
}

// =============================================================================
// Scanning helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIOC(row rowScanner) (*core.IOC, error) {
	var ioc core.IOC
	var iocType, firstSeen, lastSeen, ports, firehol, days, honeypots string
	var asn sql.NullInt64
	var scanner, payloadRequest int

	err := row.Scan(&ioc.ID, &ioc.Name, &iocType, &firstSeen, &lastSeen,
		&ioc.AttackCount, &ioc.InteractionCount, &ioc.LoginAttempts,
		&ioc.NumberOfDaysSeen, &ports, &ioc.IPReputation, &firehol, &asn,
		&ioc.RecurrenceProbability, &ioc.ExpectedInteractions, &days,
		&scanner, &payloadRequest, &honeypots)
	if err != nil {
		return nil, err
	}

	ioc.Type = core.IOCType(iocType)
	if ioc.FirstSeen, err = fromDBTime(firstSeen); err != nil {
		return nil, fmt.Errorf("bad first_seen: %w", err)
	}
	if ioc.LastSeen, err = fromDBTime(lastSeen); err != nil {
		return nil, fmt.Errorf("bad last_seen: %w", err)
	}
	if err := json.Unmarshal([]byte(ports), &ioc.DestinationPorts); err != nil {
		return nil, fmt.Errorf("bad destination_ports: %w", err)
	}
	if err := json.Unmarshal([]byte(firehol), &ioc.FireholCategories); err != nil {
		return nil, fmt.Errorf("bad firehol_categories: %w", err)
	}
	if err := json.Unmarshal([]byte(days), &ioc.DaysSeen); err != nil {
		return nil, fmt.Errorf("bad days_seen: %w", err)
	}
	if asn.Valid {
		ioc.ASN = &asn.Int64
	}
	ioc.Scanner = scanner == 1
	ioc.PayloadRequest = payloadRequest == 1
	if honeypots != "" {
		ioc.Honeypots = strings.Split(honeypots, ",")
		sort.Strings(ioc.Honeypots)
	}
	return &ioc, nil
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

func formatAggTime(dbTime string) string {
	t, err := fromDBTime(dbTime)
	if err != nil {
		return dbTime
	}
	return t.Format(time.RFC3339)
}
