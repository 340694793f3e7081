//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phytokb/canopy/internal/core"
	"github.com/phytokb/canopy/internal/core/arbiter"
	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/server"
)

func panelFor(conceptID string, names ...string) []arbiter.WeightedOracle {
	out := make([]arbiter.WeightedOracle, len(names))
	for i, n := range names {
		out[i] = arbiter.WeightedOracle{
			Oracle: stubOracle{name: n, vote: model.OracleVote{ConceptID: conceptID, Confidence: 0.9}},
			Weight: 1,
		}
	}
	return out
}

func TestResolveFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t, panelFor("CHEBI:16243", "a"), `{"duplicates": []}`)
	env.vocab.Add(model.Concept{ConceptID: "CHEBI:16243", Label: "quercetin", SourceVocab: "chebi"})

	w, fields := env.do(t, http.MethodPost, "/resolve", map[string]any{
		"mentions": []model.Mention{
			{MentionID: "m1", DocumentID: "doc1", NormalizedText: "quercetin"},
			{MentionID: "m2", DocumentID: "doc2", NormalizedText: "quercitin"}, // typo: fuzzy path
			{MentionID: "m3", DocumentID: "doc2", NormalizedText: "completely unknown"},
		},
	})
	requireStatus(t, w, http.StatusOK)

	results := decode[[]server.ResolveResult](t, fields["results"])
	require.Len(t, results, 3)

	assert.Equal(t, "resolved", results[0].Status)
	assert.Equal(t, model.MethodExact, results[0].Resolution.Method)
	assert.Equal(t, 1.0, results[0].Resolution.Confidence.Final)

	assert.Equal(t, "resolved", results[1].Status)
	assert.Equal(t, model.MethodFuzzy, results[1].Resolution.Method)
	assert.Greater(t, results[1].Resolution.Confidence.Final, 0.75)

	assert.Equal(t, "unresolved", results[2].Status)
	assert.Nil(t, results[2].Resolution)

	// Both resolved mentions share one cluster, and corroboration pushes the
	// cluster above either member's confidence floor.
	w, fields = env.do(t, http.MethodGet, "/clusters/CHEBI:16243", nil)
	requireStatus(t, w, http.StatusOK)
	cluster := decode[model.ConceptCluster](t, fields["cluster"])
	assert.ElementsMatch(t, []string{"m1", "m2"}, cluster.Members)
	assert.GreaterOrEqual(t, cluster.Confidence, 1.0-1e-9)
	events := decode[[]model.ClusterEvent](t, fields["events"])
	assert.NotEmpty(t, events)

	w, fields = env.do(t, http.MethodGet, "/metrics", nil)
	requireStatus(t, w, http.StatusOK)
	snap := decode[core.MetricsSnapshot](t, fields["metrics"])
	assert.Equal(t, int64(2), snap.AutoResolved)
	assert.Equal(t, int64(1), snap.Unresolved)
}

func TestConsensusResolutionOverHTTP(t *testing.T) {
	// No exact or fuzzy match; two semantic candidates force arbitration.
	env := newTestEnv(t, panelFor("chebi:abscisic-acid", "a", "b", "c"), `{"duplicates": []}`)
	env.vocab.Add(model.Concept{
		ConceptID:   "chebi:abscisic-acid",
		Label:       "abscisic acid",
		SourceVocab: "chebi",
		Embedding:   []float32{1, 0, 0.2},
	})
	env.vocab.Add(model.Concept{
		ConceptID:   "pr:antibody-a",
		Label:       "antibody A",
		SourceVocab: "pr",
		Embedding:   []float32{0.9, 0.1, 0.3},
	})

	w, fields := env.do(t, http.MethodPost, "/resolve", map[string]any{
		"mentions": []model.Mention{{
			MentionID:      "m1",
			NormalizedText: "ABA",
			Embedding:      []float32{0.95, 0.05, 0.25},
		}},
	})
	requireStatus(t, w, http.StatusOK)

	results := decode[[]server.ResolveResult](t, fields["results"])
	require.Len(t, results, 1)
	require.Equal(t, "resolved", results[0].Status)
	assert.Equal(t, model.MethodConsensus, results[0].Resolution.Method)
	assert.Equal(t, "chebi:abscisic-acid", results[0].Resolution.ConceptID)
	assert.Len(t, results[0].Resolution.Provenance.Votes, 3)
}

func TestConflictedMentionOverHTTP(t *testing.T) {
	// A split panel over two semantic candidates: neither side reaches the
	// agreement threshold, so the mention surfaces as conflicted, not
	// unresolved, and lands on the review queue.
	oracles := []arbiter.WeightedOracle{
		{Oracle: stubOracle{name: "a", vote: model.OracleVote{ConceptID: "chebi:abscisic-acid", Confidence: 0.9}}, Weight: 1},
		{Oracle: stubOracle{name: "b", vote: model.OracleVote{ConceptID: "pr:antibody-a", Confidence: 0.9}}, Weight: 1},
	}
	env := newTestEnv(t, oracles, `{"duplicates": []}`)
	env.vocab.Add(model.Concept{
		ConceptID:   "chebi:abscisic-acid",
		Label:       "abscisic acid",
		SourceVocab: "chebi",
		Embedding:   []float32{1, 0, 0.2},
	})
	env.vocab.Add(model.Concept{
		ConceptID:   "pr:antibody-a",
		Label:       "antibody A",
		SourceVocab: "pr",
		Embedding:   []float32{0.9, 0.1, 0.3},
	})

	w, fields := env.do(t, http.MethodPost, "/resolve", map[string]any{
		"mentions": []model.Mention{{
			MentionID:      "m1",
			NormalizedText: "ABA",
			Embedding:      []float32{0.95, 0.05, 0.25},
		}},
	})
	requireStatus(t, w, http.StatusOK)

	results := decode[[]server.ResolveResult](t, fields["results"])
	require.Len(t, results, 1)
	assert.Equal(t, "conflicted", results[0].Status)
	assert.Nil(t, results[0].Resolution)

	w, fields = env.do(t, http.MethodGet, "/conflicts", nil)
	requireStatus(t, w, http.StatusOK)
	conflicts := decode[[]model.ConflictRecord](t, fields["conflicts"])
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictConsensus, conflicts[0].Kind)
}

func TestUnresolvedRetryAfterVocabularyGrows(t *testing.T) {
	env := newTestEnv(t, panelFor("", "a"), `{"duplicates": []}`)
	ctx := context.Background()

	w, fields := env.do(t, http.MethodPost, "/resolve", map[string]any{
		"mentions": []model.Mention{{MentionID: "m1", NormalizedText: "isorhamnetin"}},
	})
	requireStatus(t, w, http.StatusOK)
	results := decode[[]server.ResolveResult](t, fields["results"])
	require.Equal(t, "unresolved", results[0].Status)

	// The store schedules the first re-attempt an hour out; the HTTP trigger
	// finds nothing due yet.
	w, fields = env.do(t, http.MethodPost, "/unresolved/retry", nil)
	requireStatus(t, w, http.StatusOK)
	assert.Equal(t, "0", string(fields["resolved"]))

	// Vocabulary grows; once the schedule elapses the queued mention
	// resolves. Drive the due check at a future logical time through the
	// store directly.
	env.vocab.Add(model.Concept{ConceptID: "chebi:isorhamnetin", Label: "isorhamnetin", SourceVocab: "chebi"})

	due, err := env.store.DueUnresolved(ctx, time.Now().UTC().Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	rec, _, err := env.engine.ResolveMention(ctx, due[0])
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "chebi:isorhamnetin", rec.ConceptID)

	due, err = env.store.DueUnresolved(ctx, time.Now().UTC().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDuplicateSweepOverHTTP(t *testing.T) {
	env := newTestEnv(t, panelFor("", "a"), `{
		"duplicates": [
			{"concept_a": "chebi:16243", "concept_b": "plantcyc:QUERCETIN", "confidence": 0.95}
		]
	}`)
	env.vocab.Add(model.Concept{ConceptID: "chebi:16243", Label: "quercetin", SourceVocab: "chebi"})
	env.vocab.Add(model.Concept{ConceptID: "plantcyc:QUERCETIN", Label: "quercetin dihydrate", SourceVocab: "plantcyc"})

	ctx := context.Background()
	_, err := env.engine.Registry().Assign(ctx, "m1", "chebi:16243", 0.9)
	require.NoError(t, err)
	_, err = env.engine.Registry().Assign(ctx, "m2", "plantcyc:QUERCETIN", 0.9)
	require.NoError(t, err)

	w, fields := env.do(t, http.MethodPost, "/maintenance/dedupe", nil)
	requireStatus(t, w, http.StatusOK)
	assert.Equal(t, "1", string(fields["merged"]))

	w, fields = env.do(t, http.MethodGet, "/clusters/plantcyc:QUERCETIN", nil)
	requireStatus(t, w, http.StatusOK)
	cluster := decode[model.ConceptCluster](t, fields["cluster"])
	assert.ElementsMatch(t, []string{"m1", "m2"}, cluster.Members)
}
