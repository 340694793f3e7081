//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/server"
)

func TestBulkResolveSharesOneCluster(t *testing.T) {
	env := newTestEnv(t, panelFor("CHEBI:16243", "a"), `{"duplicates": []}`)
	env.vocab.Add(model.Concept{ConceptID: "CHEBI:16243", Label: "quercetin", SourceVocab: "chebi"})

	const n = 50
	mentions := make([]model.Mention, n)
	for i := range mentions {
		mentions[i] = model.Mention{
			MentionID:      fmt.Sprintf("m%03d", i),
			DocumentID:     fmt.Sprintf("doc%d", i%7),
			NormalizedText: "quercetin",
		}
	}

	w, fields := env.do(t, http.MethodPost, "/resolve", map[string]any{"mentions": mentions})
	requireStatus(t, w, http.StatusOK)

	results := decode[[]server.ResolveResult](t, fields["results"])
	require.Len(t, results, n)
	for i, r := range results {
		require.Equal(t, "resolved", r.Status, "mention %d", i)
	}

	// The batch runs across the worker pool; optimistic commits must not
	// lose any membership update.
	w, fields = env.do(t, http.MethodGet, "/clusters/CHEBI:16243", nil)
	requireStatus(t, w, http.StatusOK)
	cluster := decode[model.ConceptCluster](t, fields["cluster"])
	assert.Len(t, cluster.Members, n)
}

func TestConcurrentResolversOneCluster(t *testing.T) {
	env := newTestEnv(t, panelFor("CHEBI:28645", "a"), `{"duplicates": []}`)
	env.vocab.Add(model.Concept{ConceptID: "CHEBI:28645", Label: "kaempferol", SourceVocab: "chebi"})
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.engine.ResolveMention(ctx, model.Mention{
				MentionID:      fmt.Sprintf("m%03d", i),
				NormalizedText: "kaempferol",
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "resolver %d", i)
	}

	cluster, ok, err := env.engine.Registry().Get("CHEBI:28645")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cluster.Members, n)
	assert.Equal(t, 1, cluster.Generation)
}
