package candidate

import (
	"context"

	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/vocab"
)

// flakyStore wraps a MemoryStore and fails every call while Down is set,
// simulating an exhausted retry budget against the vocabulary backend.
type flakyStore struct {
	inner *vocab.MemoryStore
	Down  bool
}

func (f *flakyStore) LookupLabel(ctx context.Context, canonical string) ([]model.Concept, error) {
	if f.Down {
		return nil, vocab.ErrUnavailable
	}
	return f.inner.LookupLabel(ctx, canonical)
}

func (f *flakyStore) CandidateLabels(ctx context.Context, canonical string, limit int) ([]model.Concept, error) {
	if f.Down {
		return nil, vocab.ErrUnavailable
	}
	return f.inner.CandidateLabels(ctx, canonical, limit)
}

func (f *flakyStore) NearestConcepts(ctx context.Context, vector []float32, limit int) ([]vocab.ScoredConcept, error) {
	if f.Down {
		return nil, vocab.ErrUnavailable
	}
	return f.inner.NearestConcepts(ctx, vector, limit)
}

func (f *flakyStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	if f.Down {
		return nil, vocab.ErrUnavailable
	}
	return f.inner.GetConcept(ctx, id)
}

func (f *flakyStore) Equivalents(ctx context.Context, id string) ([]string, error) {
	if f.Down {
		return nil, vocab.ErrUnavailable
	}
	return f.inner.Equivalents(ctx, id)
}

func (f *flakyStore) Close(ctx context.Context) error {
	return f.inner.Close(ctx)
}
