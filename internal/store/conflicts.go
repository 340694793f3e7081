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

// EnqueueConflict appends a conflict record to the durable queue. Conflicts
// are consumed asynchronously by review tooling; they never block resolution.
func (s *Store) EnqueueConflict(ctx context.Context, rec model.ConflictRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling conflict record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conflicts (conflict_id, kind, mention_id, cluster_id, status, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ConflictID, string(rec.Kind), nullable(rec.MentionID), nullable(rec.ClusterID),
		string(rec.Status), string(payload), rec.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "enqueueing conflict %s", rec.ConflictID)
	}

	s.logger.Info("conflict recorded",
		zap.String("conflict_id", rec.ConflictID),
		zap.String("kind", string(rec.Kind)),
		zap.String("mention_id", rec.MentionID))
	return nil
}

// OpenConflicts returns up to limit open conflict records, oldest first.
func (s *Store) OpenConflicts(ctx context.Context, limit int) ([]model.ConflictRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM conflicts WHERE status = ? ORDER BY created_at LIMIT ?`,
		string(model.ConflictOpen), limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying open conflicts")
	}
	defer rows.Close()

	var records []model.ConflictRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scanning conflict payload")
		}
		var rec model.ConflictRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, errors.Wrap(err, "unmarshaling conflict payload")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetConflict returns one conflict record by id, open or closed.
func (s *Store) GetConflict(ctx context.Context, conflictID string) (model.ConflictRecord, error) {
	var payload, status string
	var resolution sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, status, resolution FROM conflicts WHERE conflict_id = ?`,
		conflictID).Scan(&payload, &status, &resolution)
	if err == sql.ErrNoRows {
		return model.ConflictRecord{}, errors.Newf("conflict %s not found", conflictID)
	}
	if err != nil {
		return model.ConflictRecord{}, errors.Wrapf(err, "querying conflict %s", conflictID)
	}

	var rec model.ConflictRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return model.ConflictRecord{}, errors.Wrap(err, "unmarshaling conflict payload")
	}
	rec.Status = model.ConflictStatus(status)
	rec.Resolution = resolution.String
	return rec, nil
}

// SaveJustification attaches a human-readable explanation to a conflict
// record for the review stream.
func (s *Store) SaveJustification(ctx context.Context, conflictID, justification string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflicts SET justification = ? WHERE conflict_id = ?`,
		justification, conflictID)
	if err != nil {
		return errors.Wrapf(err, "saving justification for conflict %s", conflictID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading rows affected")
	}
	if n == 0 {
		return errors.Newf("conflict %s not found", conflictID)
	}
	return nil
}

// CloseConflict marks a conflict resolved by policy or external review.
func (s *Store) CloseConflict(ctx context.Context, conflictID, resolution string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflicts SET status = ?, resolution = ?, closed_at = ? WHERE conflict_id = ? AND status = ?`,
		string(model.ConflictClosed), resolution, now, conflictID, string(model.ConflictOpen))
	if err != nil {
		return errors.Wrapf(err, "closing conflict %s", conflictID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading rows affected")
	}
	if n == 0 {
		return errors.Newf("conflict %s not found or already closed", conflictID)
	}

	s.logger.Info("conflict closed",
		zap.String("conflict_id", conflictID),
		zap.String("resolution", resolution))
	return nil
}
