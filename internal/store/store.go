// Package store persists the engine's durable state in SQLite: the
// resolution journal (with supersession history), the append-only cluster
// event log, the conflict queue, and the unresolved-mention retry queue.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store manages the engine's SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens or creates the database at path and ensures the schema exists.
func New(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating store directory")
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS resolutions (
			resolution_id TEXT PRIMARY KEY,
			mention_id TEXT NOT NULL,
			concept_id TEXT NOT NULL,
			method TEXT NOT NULL,
			confidence REAL NOT NULL,
			generation INTEGER NOT NULL,
			superseded_by TEXT,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resolutions_mention ON resolutions(mention_id)`,
		`CREATE INDEX IF NOT EXISTS idx_resolutions_concept ON resolutions(concept_id)`,
		`CREATE TABLE IF NOT EXISTS cluster_events (
			event_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			cluster_id TEXT NOT NULL,
			merged_from TEXT,
			mention_id TEXT,
			generation INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cluster_events_cluster ON cluster_events(cluster_id)`,
		`CREATE TABLE IF NOT EXISTS conflicts (
			conflict_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			mention_id TEXT,
			cluster_id TEXT,
			status TEXT NOT NULL,
			resolution TEXT,
			justification TEXT,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL,
			closed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status)`,
		`CREATE TABLE IF NOT EXISTS unresolved (
			mention_id TEXT PRIMARY KEY,
			reason TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS facts (
			fact_id TEXT PRIMARY KEY,
			cluster_id TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object_concept_id TEXT NOT NULL,
			document_id TEXT,
			observed_at TEXT NOT NULL,
			confidence REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_cluster ON facts(cluster_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "executing schema statement")
		}
	}
	return nil
}
