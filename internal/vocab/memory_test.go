package vocab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phytokb/canopy/internal/core/model"
)

func TestMemoryStoreLookupLabel(t *testing.T) {
	s := NewMemoryStore()
	s.Add(model.Concept{
		ConceptID: "CHEBI:16243",
		Label:     "Quercetin",
		Synonyms:  []string{"sophoretin"},
	})
	ctx := context.Background()

	// Lookup keys are canonicalized at index time.
	hits, err := s.LookupLabel(ctx, "quercetin")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "CHEBI:16243", hits[0].ConceptID)

	// Synonyms index too.
	hits, err = s.LookupLabel(ctx, "sophoretin")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = s.LookupLabel(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryStoreCandidateLabels(t *testing.T) {
	s := NewMemoryStore()
	s.Add(model.Concept{ConceptID: "a", Label: "quercetin"})
	s.Add(model.Concept{ConceptID: "b", Label: "quercetin 3-o-glucoside"})
	s.Add(model.Concept{ConceptID: "c", Label: "abscisic acid"})
	ctx := context.Background()

	// Shared-prefix matching catches typos that no token contains.
	hits, err := s.CandidateLabels(ctx, "quercitin", 10)
	require.NoError(t, err)
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ConceptID
	}
	assert.Contains(t, ids, "a")
	assert.Contains(t, ids, "b")
	assert.NotContains(t, ids, "c")

	// Results are id-ordered and respect the limit.
	hits, err = s.CandidateLabels(ctx, "quercetin", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ConceptID)
}

func TestMemoryStoreNearestConcepts(t *testing.T) {
	s := NewMemoryStore()
	s.Add(model.Concept{ConceptID: "x", Label: "x", Embedding: []float32{1, 0}})
	s.Add(model.Concept{ConceptID: "y", Label: "y", Embedding: []float32{0.8, 0.6}})
	s.Add(model.Concept{ConceptID: "no-embedding", Label: "z"})
	ctx := context.Background()

	scored, err := s.NearestConcepts(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "x", scored[0].Concept.ConceptID)
	assert.InDelta(t, 1.0, scored[0].Similarity, 1e-9)
	assert.Equal(t, "y", scored[1].Concept.ConceptID)
	assert.InDelta(t, 0.8, scored[1].Similarity, 1e-9)
}

func TestMemoryStoreEquivalents(t *testing.T) {
	s := NewMemoryStore()
	s.Add(model.Concept{ConceptID: "chebi:1", Label: "rutin", Equivalents: []string{"plantcyc:9"}})
	ctx := context.Background()

	eq, err := s.Equivalents(ctx, "chebi:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"plantcyc:9"}, eq)

	eq, err = s.Equivalents(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, eq)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}
