package storage

import "fmt"

// schemaStatements creates the schema. Statements are idempotent so startup
// can always run the full list.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS honeypots (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		name   TEXT NOT NULL UNIQUE,
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS autonomous_systems (
		asn  INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS iocs (
		id                     INTEGER PRIMARY KEY AUTOINCREMENT,
		name                   TEXT NOT NULL UNIQUE,
		type                   TEXT NOT NULL CHECK (type IN ('ip', 'domain')),
		first_seen             TEXT NOT NULL,
		last_seen              TEXT NOT NULL,
		attack_count           INTEGER NOT NULL DEFAULT 0,
		interaction_count      INTEGER NOT NULL DEFAULT 0,
		login_attempts         INTEGER NOT NULL DEFAULT 0,
		number_of_days_seen    INTEGER NOT NULL DEFAULT 1,
		destination_ports      TEXT NOT NULL DEFAULT '[]',
		ip_reputation          TEXT NOT NULL DEFAULT '',
		firehol_categories     TEXT NOT NULL DEFAULT '[]',
		asn                    INTEGER REFERENCES autonomous_systems(asn),
		recurrence_probability REAL NOT NULL DEFAULT 0,
		expected_interactions  REAL NOT NULL DEFAULT 0,
		days_seen              TEXT NOT NULL DEFAULT '[]',
		scanner                INTEGER NOT NULL DEFAULT 0,
		payload_request        INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS ioc_honeypots (
		ioc_id      INTEGER NOT NULL REFERENCES iocs(id) ON DELETE CASCADE,
		honeypot_id INTEGER NOT NULL REFERENCES honeypots(id) ON DELETE CASCADE,
		PRIMARY KEY (ioc_id, honeypot_id)
	)`,
	`CREATE TABLE IF NOT EXISTS statistics (
		id           TEXT PRIMARY KEY,
		source       TEXT NOT NULL,
		view         TEXT NOT NULL CHECK (view IN ('feeds', 'enrichment')),
		request_date TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_iocs_last_seen ON iocs(last_seen)`,
	`CREATE INDEX IF NOT EXISTS idx_iocs_asn ON iocs(asn)`,
	`CREATE INDEX IF NOT EXISTS idx_iocs_reputation ON iocs(ip_reputation)`,
	`CREATE INDEX IF NOT EXISTS idx_ioc_honeypots_honeypot ON ioc_honeypots(honeypot_id)`,
	`CREATE INDEX IF NOT EXISTS idx_statistics_view_date ON statistics(view, request_date)`,
}

func (s *SQLite) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.WriteDB.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
