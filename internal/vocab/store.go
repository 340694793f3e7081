// Package vocab exposes the shared concept vocabulary to the resolution
// engine. The store is queried read-only; ontology authoring happens
// elsewhere.
package vocab

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/phytokb/canopy/internal/core/model"
)

// ErrUnavailable marks a store failure that should be retried and, after
// exhaustion, degrades resolution instead of failing the pipeline.
var ErrUnavailable = errors.New("vocabulary store unavailable")

// ScoredConcept is a nearest-neighbor hit with its cosine similarity.
type ScoredConcept struct {
	Concept    model.Concept
	Similarity float64
}

// Store is the read-only query surface of the concept vocabulary.
type Store interface {
	// LookupLabel returns concepts whose canonicalized label or synonym
	// equals the given canonical string.
	LookupLabel(ctx context.Context, canonical string) ([]model.Concept, error)

	// CandidateLabels returns a superset of concepts worth fuzzy-scoring
	// against the canonical string (e.g. sharing a token). The caller scores
	// and filters.
	CandidateLabels(ctx context.Context, canonical string, limit int) ([]model.Concept, error)

	// NearestConcepts returns up to limit concepts by embedding similarity,
	// most similar first.
	NearestConcepts(ctx context.Context, vector []float32, limit int) ([]ScoredConcept, error)

	// GetConcept returns vocabulary metadata for a concept id, or nil if
	// unknown.
	GetConcept(ctx context.Context, id string) (*model.Concept, error)

	// Equivalents returns concept ids linked as equivalent to the given one.
	Equivalents(ctx context.Context, id string) ([]string, error)

	Close(ctx context.Context) error
}
