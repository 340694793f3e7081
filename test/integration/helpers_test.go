//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/config"
	"github.com/phytokb/canopy/internal/core"
	"github.com/phytokb/canopy/internal/core/arbiter"
	"github.com/phytokb/canopy/internal/core/candidate"
	"github.com/phytokb/canopy/internal/core/conflictres"
	"github.com/phytokb/canopy/internal/core/consistency"
	"github.com/phytokb/canopy/internal/core/dedupe"
	"github.com/phytokb/canopy/internal/core/explain"
	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/core/registry"
	"github.com/phytokb/canopy/internal/server"
	"github.com/phytokb/canopy/internal/store"
	"github.com/phytokb/canopy/internal/vocab"
)

// stubOracle votes for a fixed concept on every judgment.
type stubOracle struct {
	name string
	vote model.OracleVote
}

func (s stubOracle) Name() string { return s.name }

func (s stubOracle) Judge(ctx context.Context, m model.Mention, candidates []model.CandidateMapping) (model.OracleVote, error) {
	return s.vote, nil
}

// stubLLM returns a fixed completion; used for the duplicate judge and the
// justification generator.
type stubLLM struct {
	response string
}

func (s stubLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return s.response, nil
}

type testEnv struct {
	router *gin.Engine
	store  *store.Store
	vocab  *vocab.MemoryStore
	engine *core.Engine
}

// newTestEnv wires the full pipeline against an in-memory vocabulary, a
// deterministic oracle panel, and a throwaway SQLite journal, then exposes
// it through the HTTP router exactly as cmd/server does.
func newTestEnv(t *testing.T, oracles []arbiter.WeightedOracle, llmResponse string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	cfg := config.Default()
	cfg.Consistency.FunctionalPredicates = []string{"primary_accumulation_site"}
	cfg.Consistency.MutexPairs = [][]string{{"inhibits", "activates"}}

	vocabStore := vocab.NewMemoryStore()

	journal, err := store.New(filepath.Join(t.TempDir(), "canopy.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	llmStub := stubLLM{response: llmResponse}
	gen := candidate.NewGenerator(vocabStore, nil, cfg.Matching, logger)
	arb := arbiter.New(oracles, cfg.Consensus, logger)
	resolver := conflictres.New([]string{"chebi", "plantcyc", "npass"}, logger)
	reg := registry.New(journal, logger)
	checker := consistency.New(cfg.Consistency, journal, logger)
	deduper := dedupe.New(llmStub, vocabStore, logger)

	engine := core.NewEngine(gen, arb, resolver, reg, checker, deduper, journal, vocabStore, cfg.Concurrency, logger)
	srv := server.NewServerWithEngine(engine, journal, explain.New(llmStub, cfg.Prompts, logger), logger)

	return &testEnv{
		router: srv.SetupRouter(),
		store:  journal,
		vocab:  vocabStore,
		engine: engine,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	fields := map[string]json.RawMessage{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields), "body: %s", w.Body.String())
	}
	return w, fields
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, "body: %s", w.Body.String())
}
