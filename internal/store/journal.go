package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/core/model"
)

// SaveResolution appends a resolution record. If the mention already has an
// active resolution it is marked superseded by the new one, never deleted.
func (s *Store) SaveResolution(ctx context.Context, r model.ResolvedConcept) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshaling resolution")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE resolutions SET superseded_by = ? WHERE mention_id = ? AND superseded_by IS NULL`,
		r.ResolutionID, r.MentionID)
	if err != nil {
		return errors.Wrap(err, "superseding prior resolutions")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO resolutions (resolution_id, mention_id, concept_id, method, confidence, generation, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ResolutionID, r.MentionID, r.ConceptID, string(r.Method),
		r.Confidence.Final, r.Generation, string(payload), r.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "inserting resolution %s", r.ResolutionID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing resolution")
	}

	s.logger.Debug("saved resolution",
		zap.String("resolution_id", r.ResolutionID),
		zap.String("mention_id", r.MentionID),
		zap.String("concept_id", r.ConceptID),
		zap.Float64("confidence", r.Confidence.Final))
	return nil
}

// ActiveResolution returns the non-superseded resolution for a mention, or
// nil if the mention has none.
func (s *Store) ActiveResolution(ctx context.Context, mentionID string) (*model.ResolvedConcept, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM resolutions WHERE mention_id = ? AND superseded_by IS NULL`,
		mentionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying resolution for mention %s", mentionID)
	}

	var r model.ResolvedConcept
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, errors.Wrap(err, "unmarshaling resolution payload")
	}
	return &r, nil
}

// AppendClusterEvent records one append-only registry state change.
func (s *Store) AppendClusterEvent(ctx context.Context, ev model.ClusterEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cluster_events (event_id, kind, cluster_id, merged_from, mention_id, generation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, string(ev.Kind), ev.ClusterID, nullable(ev.MergedFrom), nullable(ev.MentionID),
		ev.Generation, ev.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "appending cluster event %s", ev.EventID)
	}
	return nil
}

// ClusterEvents returns the event history of one cluster, oldest first.
func (s *Store) ClusterEvents(ctx context.Context, clusterID string) ([]model.ClusterEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, kind, cluster_id, merged_from, mention_id, generation, created_at
		 FROM cluster_events WHERE cluster_id = ? ORDER BY created_at, event_id`,
		clusterID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying events for cluster %s", clusterID)
	}
	defer rows.Close()

	var events []model.ClusterEvent
	for rows.Next() {
		var ev model.ClusterEvent
		var mergedFrom, mentionID sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.EventID, &ev.Kind, &ev.ClusterID, &mergedFrom, &mentionID, &ev.Generation, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning cluster event")
		}
		ev.MergedFrom = mergedFrom.String
		ev.MentionID = mentionID.String
		ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveFact persists an accepted relationship fact.
func (s *Store) SaveFact(ctx context.Context, f model.Fact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (fact_id, cluster_id, predicate, object_concept_id, document_id, observed_at, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.FactID, f.ClusterID, f.Predicate, f.ObjectConceptID, nullable(f.DocumentID),
		f.ObservedAt.UTC().Format(time.RFC3339), f.Confidence)
	if err != nil {
		return errors.Wrapf(err, "inserting fact %s", f.FactID)
	}
	return nil
}

// FactsForCluster returns all accepted facts involving a cluster.
func (s *Store) FactsForCluster(ctx context.Context, clusterID string) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact_id, cluster_id, predicate, object_concept_id, document_id, observed_at, confidence
		 FROM facts WHERE cluster_id = ?`, clusterID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying facts for cluster %s", clusterID)
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		var f model.Fact
		var docID sql.NullString
		var observedAt string
		if err := rows.Scan(&f.FactID, &f.ClusterID, &f.Predicate, &f.ObjectConceptID, &docID, &observedAt, &f.Confidence); err != nil {
			return nil, errors.Wrap(err, "scanning fact")
		}
		f.DocumentID = docID.String
		f.ObservedAt, _ = time.Parse(time.RFC3339, observedAt)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// AllFacts returns every accepted fact, ordered by fact id. The related-
// cluster detector consumes this to build its fact graph.
func (s *Store) AllFacts(ctx context.Context) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact_id, cluster_id, predicate, object_concept_id, document_id, observed_at, confidence
		 FROM facts ORDER BY fact_id`)
	if err != nil {
		return nil, errors.Wrap(err, "querying facts")
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		var f model.Fact
		var docID sql.NullString
		var observedAt string
		if err := rows.Scan(&f.FactID, &f.ClusterID, &f.Predicate, &f.ObjectConceptID, &docID, &observedAt, &f.Confidence); err != nil {
			return nil, errors.Wrap(err, "scanning fact")
		}
		f.DocumentID = docID.String
		f.ObservedAt, _ = time.Parse(time.RFC3339, observedAt)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
