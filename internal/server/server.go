package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
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
	"github.com/phytokb/canopy/internal/llm"
	"github.com/phytokb/canopy/internal/store"
	"github.com/phytokb/canopy/internal/vocab"
)

// Server exposes the resolution engine over HTTP.
type Server struct {
	engine    *core.Engine
	journal   *store.Store
	explainer *explain.Generator
	logger    *zap.Logger
}

// NewServer loads configuration, connects the vocabulary store and the
// journal, builds the oracle panel, and wires the engine.
func NewServer(logger *zap.Logger) (*Server, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, errors.Wrapf(err, "loading configuration from %s", cfgPath)
	}

	// Env vars win over file values for deploy-time overrides.
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("MEMGRAPH_URI"); v != "" {
		cfg.Memgraph.URI = v
	}
	if v := os.Getenv("MEMGRAPH_USER"); v != "" {
		cfg.Memgraph.User = v
	}
	if v := os.Getenv("MEMGRAPH_PASSWORD"); v != "" {
		cfg.Memgraph.Password = v
	}
	if cfg.Memgraph.URI == "" {
		cfg.Memgraph.URI = "bolt://localhost:7687"
	}

	ctx := context.Background()

	vocabStore, err := vocab.NewMemgraphStore(cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, logger)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to vocabulary store")
	}
	retrying := vocab.WithRetry(vocabStore, cfg.Concurrency.VocabRetries, logger)

	llmClient, embedder, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, errors.Wrap(err, "initializing LLM client")
	}

	journal, err := store.New(cfg.Store.Path, logger)
	if err != nil {
		return nil, errors.Wrap(err, "opening journal store")
	}

	oracles, err := arbiter.FromConfig(ctx, cfg.Consensus.Oracles, cfg.LLM, llmClient, retrying)
	if err != nil {
		return nil, errors.Wrap(err, "building oracle panel")
	}

	gen := candidate.NewGenerator(retrying, embedder, cfg.Matching, logger)
	arb := arbiter.New(oracles, cfg.Consensus, logger)
	resolver := conflictres.New(cfg.Precedence.Sources, logger)
	reg := registry.New(journal, logger)
	checker := consistency.New(cfg.Consistency, journal, logger)
	deduper := dedupe.New(llmClient, retrying, logger)

	engine := core.NewEngine(gen, arb, resolver, reg, checker, deduper, journal, retrying, cfg.Concurrency, logger)

	return &Server{
		engine:    engine,
		journal:   journal,
		explainer: explain.New(llmClient, cfg.Prompts, logger),
		logger:    logger,
	}, nil
}

// NewServerWithEngine is the test seam: it skips external wiring.
func NewServerWithEngine(engine *core.Engine, journal *store.Store, explainer *explain.Generator, logger *zap.Logger) *Server {
	return &Server{engine: engine, journal: journal, explainer: explainer, logger: logger}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.POST("/resolve", s.Resolve)
	r.POST("/facts", s.AssertFact)
	r.GET("/clusters/:concept", s.GetCluster)
	r.GET("/clusters/:concept/related", s.GetRelatedClusters)
	r.GET("/conflicts", s.ListConflicts)
	r.POST("/conflicts/:id/close", s.CloseConflict)
	r.POST("/conflicts/:id/justify", s.JustifyConflict)
	r.POST("/unresolved/retry", s.RetryUnresolved)
	r.POST("/maintenance/dedupe", s.SweepDuplicates)
	r.GET("/metrics", s.Metrics)

	return r
}

// ResolveRequest carries one or more mentions to resolve.
type ResolveRequest struct {
	Mentions []model.Mention `json:"mentions"`
}

// ResolveResponse reports per-mention outcomes, index-aligned with the
// request. Status is "resolved", "unresolved", or "conflicted".
type ResolveResponse struct {
	Results []ResolveResult `json:"results"`
}

type ResolveResult struct {
	MentionID  string                 `json:"mention_id"`
	Status     string                 `json:"status"`
	Resolution *model.ResolvedConcept `json:"resolution,omitempty"`
}

func (s *Server) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if len(req.Mentions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no mentions supplied"})
		return
	}
	for i, m := range req.Mentions {
		if m.MentionID == "" || m.NormalizedText == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mention_id and normalized_text are required", "index": i})
			return
		}
	}

	records, statuses, err := s.engine.ResolveBatch(c.Request.Context(), req.Mentions)
	if err != nil {
		s.fail(c, "resolve failed", err)
		return
	}

	resp := ResolveResponse{Results: make([]ResolveResult, len(records))}
	for i, rec := range records {
		result := ResolveResult{MentionID: req.Mentions[i].MentionID, Status: string(statuses[i])}
		if rec != nil {
			result.Resolution = rec
		}
		resp.Results[i] = result
	}
	c.JSON(http.StatusOK, resp)
}

// FactRequest asserts a relationship fact against a cluster.
type FactRequest struct {
	ClusterID       string    `json:"cluster_id"`
	Predicate       string    `json:"predicate"`
	ObjectConceptID string    `json:"object_concept_id"`
	DocumentID      string    `json:"document_id"`
	ObservedAt      time.Time `json:"observed_at"`
	Confidence      float64   `json:"confidence"`
}

func (s *Server) AssertFact(c *gin.Context) {
	var req FactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.ClusterID == "" || req.Predicate == "" || req.ObjectConceptID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cluster_id, predicate, and object_concept_id are required"})
		return
	}

	fact := model.Fact{
		ClusterID:       req.ClusterID,
		Predicate:       req.Predicate,
		ObjectConceptID: req.ObjectConceptID,
		DocumentID:      req.DocumentID,
		ObservedAt:      req.ObservedAt,
		Confidence:      req.Confidence,
	}

	committed, violations, err := s.engine.AssertFact(c.Request.Context(), fact)
	if err != nil {
		s.fail(c, "fact assertion failed", err)
		return
	}

	details := make([]string, len(violations))
	for i, v := range violations {
		details[i] = v.Detail
	}
	c.JSON(http.StatusOK, gin.H{"fact": committed, "violations": details})
}

func (s *Server) GetCluster(c *gin.Context) {
	conceptID := c.Param("concept")

	cluster, ok, err := s.engine.Registry().Get(conceptID)
	if err != nil {
		s.fail(c, "cluster lookup failed", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cluster for concept"})
		return
	}

	events, err := s.journal.ClusterEvents(c.Request.Context(), cluster.ClusterID)
	if err != nil {
		s.fail(c, "cluster event lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cluster": cluster, "events": events})
}

func (s *Server) GetRelatedClusters(c *gin.Context) {
	conceptID := c.Param("concept")

	cluster, ok, err := s.engine.Registry().Get(conceptID)
	if err != nil {
		s.fail(c, "cluster lookup failed", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cluster for concept"})
		return
	}

	related, err := s.engine.RelatedClusters(c.Request.Context(), cluster.ClusterID)
	if err != nil {
		s.fail(c, "related cluster lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cluster_id": cluster.ClusterID, "related": related})
}

func (s *Server) ListConflicts(c *gin.Context) {
	conflicts, err := s.journal.OpenConflicts(c.Request.Context(), 200)
	if err != nil {
		s.fail(c, "conflict listing failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

type CloseConflictRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) CloseConflict(c *gin.Context) {
	var req CloseConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := s.journal.CloseConflict(c.Request.Context(), c.Param("id"), req.Resolution); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// JustifyConflict generates and stores a reviewer-facing explanation for an
// open conflict record.
func (s *Server) JustifyConflict(c *gin.Context) {
	conflictID := c.Param("id")

	rec, err := s.journal.GetConflict(c.Request.Context(), conflictID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	text, err := s.explainer.JustifyConflict(c.Request.Context(), rec)
	if err != nil {
		s.fail(c, "justification failed", err)
		return
	}
	if err := s.journal.SaveJustification(c.Request.Context(), conflictID, text); err != nil {
		s.fail(c, "saving justification failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflict_id": conflictID, "justification": text})
}

// SweepDuplicates runs the duplicate-cluster judge over the active clusters.
func (s *Server) SweepDuplicates(c *gin.Context) {
	merged, err := s.engine.SweepDuplicates(c.Request.Context())
	if err != nil {
		s.fail(c, "duplicate sweep failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merged": merged})
}

func (s *Server) RetryUnresolved(c *gin.Context) {
	resolved, err := s.engine.RetryUnresolved(c.Request.Context(), 100)
	if err != nil {
		s.fail(c, "unresolved retry failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": resolved})
}

func (s *Server) Metrics(c *gin.Context) {
	snap := s.engine.Metrics()
	c.JSON(http.StatusOK, gin.H{
		"metrics":          snap,
		"registry_version": s.engine.Registry().Version(),
		"journal_lapses":   s.engine.Registry().JournalLapses(),
	})
}

// fail maps engine errors to HTTP statuses. Vocabulary outages are 503 so
// callers can back off; invariant violations and everything else are 500.
func (s *Server) fail(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	switch {
	case errors.Is(err, vocab.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vocabulary store unavailable"})
	case errors.Is(err, registry.ErrClusterInvariant):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cluster state invariant violation"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
