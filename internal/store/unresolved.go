package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/phytokb/canopy/internal/core/model"
)

// retrySchedule spaces re-attempts of unresolved mentions; the vocabulary
// may have grown since the last try.
var retrySchedule = []time.Duration{
	time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
}

// EnqueueUnresolved records a mention no stage could match, scheduled for a
// later re-attempt. Re-enqueueing bumps the attempt count and pushes the
// next attempt further out.
func (s *Store) EnqueueUnresolved(ctx context.Context, m model.Mention, reason string) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshaling mention")
	}

	var attempts int
	err = s.db.QueryRowContext(ctx,
		`SELECT attempts FROM unresolved WHERE mention_id = ?`, m.MentionID).Scan(&attempts)
	if err == nil {
		attempts++
	}

	delay := retrySchedule[len(retrySchedule)-1]
	if attempts < len(retrySchedule) {
		delay = retrySchedule[attempts]
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO unresolved (mention_id, reason, attempts, next_attempt_at, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mention_id) DO UPDATE SET
			reason = excluded.reason,
			attempts = excluded.attempts,
			next_attempt_at = excluded.next_attempt_at`,
		m.MentionID, reason, attempts, now.Add(delay).Format(time.RFC3339),
		string(payload), now.Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "enqueueing unresolved mention %s", m.MentionID)
	}
	return nil
}

// DueUnresolved returns mentions whose re-attempt time has passed.
func (s *Store) DueUnresolved(ctx context.Context, now time.Time, limit int) ([]model.Mention, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM unresolved WHERE next_attempt_at <= ? ORDER BY next_attempt_at LIMIT ?`,
		now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying unresolved mentions")
	}
	defer rows.Close()

	var mentions []model.Mention
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scanning unresolved payload")
		}
		var m model.Mention
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, errors.Wrap(err, "unmarshaling unresolved payload")
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// MarkResolved removes a mention from the unresolved queue after a
// successful re-attempt.
func (s *Store) MarkResolved(ctx context.Context, mentionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM unresolved WHERE mention_id = ?`, mentionID)
	if err != nil {
		return errors.Wrapf(err, "removing unresolved mention %s", mentionID)
	}
	return nil
}
