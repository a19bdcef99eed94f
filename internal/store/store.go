// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists users, studies, protocol submissions, amendments,
// analysis reviews, response records, the audit trail, numbering counters,
// and the background job outbox in SQLite.
//
// The database runs with a single open connection, so every transaction is
// serialized. Code running inside InTx must use the *Tx it was handed and
// never the Store, or it will wait on itself.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a guarded update matches no row because
	// the guarded state has already moved on.
	ErrConflict = errors.New("conflict")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store manages the irb-engine SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and creates the schema if it
// does not exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already opened database without touching the schema.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			department TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS college_reps (
			user_id TEXT PRIMARY KEY REFERENCES users(id),
			college TEXT NOT NULL,
			is_chair INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_college_reps_college ON college_reps(college, active)`,
		`CREATE TABLE IF NOT EXISTS studies (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			researcher_id TEXT NOT NULL,
			involves_deception INTEGER NOT NULL DEFAULT 0,
			monitoring_enabled INTEGER NOT NULL DEFAULT 0,
			min_sample_size INTEGER NOT NULL DEFAULT 20,
			threshold REAL NOT NULL DEFAULT 10.0,
			strategy TEXT NOT NULL DEFAULT 'placeholder',
			strategy_params TEXT,
			current_evidence REAL,
			evidence_n INTEGER NOT NULL DEFAULT 0,
			notified INTEGER NOT NULL DEFAULT 0,
			irb_status TEXT NOT NULL DEFAULT 'pending',
			irb_number TEXT,
			irb_approved_by TEXT,
			irb_approved_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS protocol_submissions (
			id TEXT PRIMARY KEY,
			study_id TEXT NOT NULL REFERENCES studies(id),
			version INTEGER NOT NULL,
			submission_number TEXT UNIQUE,
			status TEXT NOT NULL,
			submitted_by TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			pi_suggested_type TEXT NOT NULL,
			involves_deception INTEGER NOT NULL DEFAULT 0,
			college_rep_determination TEXT,
			review_type TEXT,
			college_rep_id TEXT,
			chair_id TEXT,
			needs_manual_assignment INTEGER NOT NULL DEFAULT 0,
			routing_notes TEXT,
			decision TEXT NOT NULL DEFAULT 'pending',
			decided_by TEXT,
			protocol_number TEXT UNIQUE,
			approval_notes TEXT,
			revision_notes TEXT,
			rejection_grounds TEXT,
			analysis_review_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			submitted_at TEXT,
			determined_at TEXT,
			decided_at TEXT,
			UNIQUE (study_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS submission_reviewers (
			submission_id TEXT NOT NULL REFERENCES protocol_submissions(id),
			user_id TEXT NOT NULL,
			assigned_at TEXT NOT NULL,
			PRIMARY KEY (submission_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS protocol_amendments (
			id TEXT PRIMARY KEY,
			submission_id TEXT NOT NULL REFERENCES protocol_submissions(id),
			study_id TEXT NOT NULL REFERENCES studies(id),
			seq INTEGER NOT NULL,
			amendment_number TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL,
			requested_by TEXT NOT NULL,
			decision TEXT NOT NULL DEFAULT 'pending',
			decided_by TEXT,
			notes TEXT,
			created_at TEXT NOT NULL,
			decided_at TEXT,
			UNIQUE (submission_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_reviews (
			id TEXT PRIMARY KEY,
			study_id TEXT NOT NULL REFERENCES studies(id),
			submission_id TEXT,
			version INTEGER NOT NULL,
			status TEXT NOT NULL,
			requested_by TEXT NOT NULL,
			repo_url TEXT,
			agent_results TEXT,
			critical_issues TEXT,
			moderate_issues TEXT,
			minor_issues TEXT,
			recommendations TEXT,
			overall_risk TEXT,
			model_versions TEXT,
			processing_time_seconds REAL NOT NULL DEFAULT 0,
			error TEXT,
			response_notes TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			UNIQUE (study_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS responses (
			id TEXT PRIMARY KEY,
			study_id TEXT NOT NULL REFERENCES studies(id),
			session_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_study ON responses(study_id)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			actor_id TEXT,
			action TEXT NOT NULL,
			entity TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_id)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			study_id TEXT,
			target_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Tx is a serialized read-write transaction.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// --- column helpers ---

// timeLayout is fixed width so that text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expectOne maps a zero-row update onto ErrConflict.
func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return nil
}

func jsonColumn(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanJSON(ns sql.NullString, v any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), v)
}
