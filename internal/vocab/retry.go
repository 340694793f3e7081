package vocab

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/core/model"
)

// RetryBaseDelay controls the base duration for exponential backoff on store
// failures. Tests override this to avoid real sleeps.
var RetryBaseDelay = 500 * time.Millisecond

// Retrying wraps a Store with bounded exponential-backoff retries on
// ErrUnavailable. After exhaustion the wrapped error is returned so the
// caller can degrade to fuzzy-only resolution.
type Retrying struct {
	inner       Store
	maxAttempts int
	logger      *zap.Logger
}

func WithRetry(inner Store, maxAttempts int, logger *zap.Logger) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	return &Retrying{inner: inner, maxAttempts: maxAttempts, logger: logger}
}

func retry[T any](ctx context.Context, r *Retrying, op string, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * RetryBaseDelay
			r.logger.Warn("vocabulary store retry",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return zero, err
		}
		last = err
	}
	return zero, errors.Wrapf(last, "after %d attempts", r.maxAttempts)
}

func (r *Retrying) LookupLabel(ctx context.Context, canonical string) ([]model.Concept, error) {
	return retry(ctx, r, "lookup_label", func() ([]model.Concept, error) {
		return r.inner.LookupLabel(ctx, canonical)
	})
}

func (r *Retrying) CandidateLabels(ctx context.Context, canonical string, limit int) ([]model.Concept, error) {
	return retry(ctx, r, "candidate_labels", func() ([]model.Concept, error) {
		return r.inner.CandidateLabels(ctx, canonical, limit)
	})
}

func (r *Retrying) NearestConcepts(ctx context.Context, vector []float32, limit int) ([]ScoredConcept, error) {
	return retry(ctx, r, "nearest_concepts", func() ([]ScoredConcept, error) {
		return r.inner.NearestConcepts(ctx, vector, limit)
	})
}

func (r *Retrying) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	return retry(ctx, r, "get_concept", func() (*model.Concept, error) {
		return r.inner.GetConcept(ctx, id)
	})
}

func (r *Retrying) Equivalents(ctx context.Context, id string) ([]string, error) {
	return retry(ctx, r, "equivalents", func() ([]string, error) {
		return r.inner.Equivalents(ctx, id)
	})
}

func (r *Retrying) Close(ctx context.Context) error {
	return r.inner.Close(ctx)
}
