// Package core wires the resolution pipeline: candidate generation,
// consensus arbitration, cross-source conflict resolution, cluster
// registration, consistency checking, and confidence aggregation.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/config"
	"github.com/phytokb/canopy/internal/core/arbiter"
	"github.com/phytokb/canopy/internal/core/candidate"
	"github.com/phytokb/canopy/internal/core/community"
	"github.com/phytokb/canopy/internal/core/confidence"
	"github.com/phytokb/canopy/internal/core/conflictres"
	"github.com/phytokb/canopy/internal/core/consistency"
	"github.com/phytokb/canopy/internal/core/dedupe"
	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/core/registry"
	"github.com/phytokb/canopy/internal/vocab"
)

// Persistence is the durable state the engine writes. The SQLite store
// implements it; tests substitute an in-memory fake.
type Persistence interface {
	SaveResolution(ctx context.Context, r model.ResolvedConcept) error
	EnqueueConflict(ctx context.Context, rec model.ConflictRecord) error
	EnqueueUnresolved(ctx context.Context, m model.Mention, reason string) error
	MarkResolved(ctx context.Context, mentionID string) error
	SaveFact(ctx context.Context, f model.Fact) error
	AllFacts(ctx context.Context) ([]model.Fact, error)
	DueUnresolved(ctx context.Context, now time.Time, limit int) ([]model.Mention, error)
}

// Engine runs the full mention-to-resolution pipeline.
type Engine struct {
	generator *candidate.Generator
	arbiter   *arbiter.Arbiter
	conflicts *conflictres.Resolver
	registry  *registry.Registry
	checker   *consistency.Checker
	deduper   *dedupe.Deduper
	related   *community.LabelPropagation
	persist   Persistence
	vocab     vocab.Store
	workers   int
	logger    *zap.Logger
	metrics   *Metrics
}

func NewEngine(
	gen *candidate.Generator,
	arb *arbiter.Arbiter,
	conflicts *conflictres.Resolver,
	reg *registry.Registry,
	checker *consistency.Checker,
	deduper *dedupe.Deduper,
	persist Persistence,
	store vocab.Store,
	cfg config.ConcurrencyConfig,
	logger *zap.Logger,
) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		generator: gen,
		arbiter:   arb,
		conflicts: conflicts,
		registry:  reg,
		checker:   checker,
		deduper:   deduper,
		related:   community.NewDetector(),
		persist:   persist,
		vocab:     store,
		workers:   workers,
		logger:    logger,
		metrics:   &Metrics{},
	}
}

// Registry exposes the cluster registry for read paths.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Metrics returns a snapshot of the resolution counters.
func (e *Engine) Metrics() MetricsSnapshot { return e.metrics.Snapshot() }

// Disposition classifies what the pipeline did with a mention.
type Disposition string

const (
	DispositionResolved   Disposition = "resolved"
	DispositionUnresolved Disposition = "unresolved"
	DispositionConflicted Disposition = "conflicted"
)

// ResolveMention runs one mention through the pipeline. A nil record with a
// nil error means the mention was recorded as unresolved or conflicted
// rather than resolved; the disposition says which, and nothing is ever
// silently dropped. Only internal invariant violations surface as errors.
func (e *Engine) ResolveMention(ctx context.Context, m model.Mention) (*model.ResolvedConcept, Disposition, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	out, err := e.generator.Generate(ctx, m)
	if err != nil {
		return nil, "", errors.Wrapf(err, "generating candidates for mention %s", m.MentionID)
	}

	if len(out.Candidates) == 0 {
		// Not an error: the vocabulary may grow. Queue for re-attempt.
		if err := e.persist.EnqueueUnresolved(ctx, m, "no_candidate"); err != nil {
			return nil, "", err
		}
		e.metrics.recordUnresolved()
		e.logger.Info("mention unresolved, queued for re-attempt",
			zap.String("mention_id", m.MentionID),
			zap.String("text", m.NormalizedText))
		return nil, DispositionUnresolved, nil
	}

	prov := model.Provenance{Candidates: out.Candidates}
	chosen := out.Candidates[0]
	agreement := 0.0
	agreementScore := 0.0
	consensus := false

	if !out.AutoResolved && !out.Degraded {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		verdict, err := e.arbiter.Arbitrate(ctx, m, out.Candidates)
		prov.Votes = verdict.Votes
		if err != nil {
			if errors.Is(err, arbiter.ErrQuorum) {
				return nil, DispositionConflicted, e.openConsensusConflict(ctx, m, out.Candidates, verdict.Votes, "quorum not met")
			}
			return nil, "", err
		}
		if !verdict.Resolved {
			return nil, DispositionConflicted, e.openConsensusConflict(ctx, m, out.Candidates, verdict.Votes, "agreement below threshold")
		}

		consensus = true
		agreement = verdict.Agreement
		agreementScore = verdict.Confidence
		chosen = pickCandidate(out.Candidates, verdict.ConceptID)
	}

	// Cross-source arbitration applies when multiple vocabularies define
	// the same label: competing exact matches are a genuine definitional
	// disagreement, not candidate noise.
	if exact := exactContenders(out.Candidates); len(exact) > 1 && conflictres.CrossSource(exact) {
		decision := e.conflicts.Resolve(m.MentionID, exact)
		if decision.Rule == conflictres.RuleUnresolved {
			return nil, DispositionConflicted, e.openSourceConflict(ctx, m, exact)
		}
		if decision.Survivor.ConceptID != chosen.ConceptID && consensus {
			// Precedence outranks the oracle pick. The agreement score
			// describes a concept that did not survive, so confidence
			// rebases on the survivor's own match score.
			prov.Notes = append(prov.Notes, "source precedence overrode consensus winner "+chosen.ConceptID)
			consensus = false
			agreement, agreementScore = 0, 0
		}
		chosen = decision.Survivor
		prov.ConflictRule = string(decision.Rule)
	}

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	score := confidence.Aggregate(chosen.Score, agreementScore, 0)

	cluster, err := e.registry.Assign(ctx, m.MentionID, chosen.ConceptID, score.Final)
	if err != nil {
		return nil, "", err
	}

	stage := chosen.Method
	if consensus {
		stage = model.MethodConsensus
	}
	prov.Stage = stage

	record := model.ResolvedConcept{
		ResolutionID: uuid.New().String(),
		MentionID:    m.MentionID,
		ConceptID:    chosen.ConceptID,
		Method:       stage,
		Confidence:   score,
		Provenance:   prov,
		Generation:   cluster.Generation,
		CreatedAt:    time.Now().UTC(),
	}

	if err := e.persist.SaveResolution(ctx, record); err != nil {
		return nil, "", err
	}
	if err := e.persist.MarkResolved(ctx, m.MentionID); err != nil {
		return nil, "", err
	}

	e.metrics.recordResolved(consensus, out.Degraded, score.Final, agreement)
	e.logger.Info("mention resolved",
		zap.String("mention_id", m.MentionID),
		zap.String("concept_id", chosen.ConceptID),
		zap.String("method", string(stage)),
		zap.Float64("confidence", score.Final),
		zap.String("cluster_id", cluster.ClusterID))

	// Equivalence links may join this concept's cluster with others.
	if err := e.mergeEquivalents(ctx, chosen.ConceptID); err != nil {
		return nil, "", err
	}

	return &record, DispositionResolved, nil
}

// ResolveBatch processes mentions across the worker pool. Both slices are
// index-aligned with the input; record entries for unresolved or conflicted
// mentions are nil, with the disposition saying which.
func (e *Engine) ResolveBatch(ctx context.Context, mentions []model.Mention) ([]*model.ResolvedConcept, []Disposition, error) {
	results := make([]*model.ResolvedConcept, len(mentions))
	statuses := make([]Disposition, len(mentions))
	jobs := make(chan int)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rec, disp, err := e.ResolveMention(ctx, mentions[i])
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				results[i] = rec
				statuses[i] = disp
			}
		}()
	}

	for i := range mentions {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return results, statuses, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	return results, statuses, firstErr
}

// AssertFact validates a relationship fact against accepted facts and
// commits it. Violations reduce the committed confidence and emit conflict
// records; they never drop the fact.
func (e *Engine) AssertFact(ctx context.Context, f model.Fact) (model.Fact, []consistency.Violation, error) {
	if f.FactID == "" {
		f.FactID = uuid.New().String()
	}

	var objectEarliest *time.Time
	if objCluster, ok, err := e.registry.Get(f.ObjectConceptID); err != nil {
		return f, nil, err
	} else if ok {
		t := objCluster.CreatedAt
		objectEarliest = &t
	}

	violations, err := e.checker.Check(ctx, f, objectEarliest)
	if err != nil {
		return f, nil, err
	}

	// Declared incompatibilities also bind across clusters tied together by
	// shared relationship evidence.
	related, err := e.RelatedClusters(ctx, f.ClusterID)
	if err != nil {
		return f, nil, err
	}
	cross, err := e.checker.MutexAcross(ctx, f, related)
	if err != nil {
		return f, nil, err
	}
	violations = append(violations, cross...)

	for _, v := range violations {
		rec := model.ConflictRecord{
			ConflictID: uuid.New().String(),
			Kind:       v.Kind,
			ClusterID:  f.ClusterID,
			Facts:      []model.Fact{v.Existing, f},
			Detail:     v.Detail,
			Status:     model.ConflictOpen,
			CreatedAt:  time.Now().UTC(),
		}
		if err := e.persist.EnqueueConflict(ctx, rec); err != nil {
			return f, violations, err
		}
		e.metrics.recordConflicted()
	}

	if len(violations) > 0 {
		f.Confidence = f.Confidence * (1 - e.checker.Penalty())
	}

	if err := e.persist.SaveFact(ctx, f); err != nil {
		return f, violations, err
	}
	return f, violations, nil
}

// RetryUnresolved re-attempts mentions whose retry time has come, returning
// how many resolved this pass.
func (e *Engine) RetryUnresolved(ctx context.Context, limit int) (int, error) {
	due, err := e.persist.DueUnresolved(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, m := range due {
		rec, _, err := e.ResolveMention(ctx, m)
		if err != nil {
			return resolved, err
		}
		if rec != nil {
			resolved++
		}
	}
	return resolved, nil
}

// RelatedClusters returns the clusters grouped with clusterID by shared
// relationship evidence, following merges to the surviving cluster.
func (e *Engine) RelatedClusters(ctx context.Context, clusterID string) ([]string, error) {
	facts, err := e.persist.AllFacts(ctx)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, nil
	}

	active, err := e.registry.Active()
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]bool, len(active))
	var ids []string
	addNode := func(id string) {
		if !nodes[id] {
			nodes[id] = true
			ids = append(ids, id)
		}
	}
	for _, c := range active {
		addNode(c.ClusterID)
	}

	toRoot := func(id string) (string, error) {
		c, ok, err := e.registry.GetByID(id)
		if err != nil {
			return "", err
		}
		if !ok {
			// Facts may name clusters the registry never saw, e.g. asserted
			// against an externally assigned id. Keep them as graph nodes.
			return id, nil
		}
		return c.ClusterID, nil
	}

	var edges []community.FactEdge
	for _, f := range facts {
		from, err := toRoot(f.ClusterID)
		if err != nil {
			return nil, err
		}
		obj, ok, err := e.registry.Get(f.ObjectConceptID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		addNode(from)
		addNode(obj.ClusterID)
		edges = append(edges, community.FactEdge{From: from, To: obj.ClusterID})
	}

	root, err := toRoot(clusterID)
	if err != nil {
		return nil, err
	}
	return e.related.Related(root, ids, edges), nil
}

// SweepDuplicates runs the duplicate judge over the active clusters and
// applies accepted proposals as ordinary registry merges. Returns how many
// merges were applied. A no-op when no judge is configured.
func (e *Engine) SweepDuplicates(ctx context.Context) (int, error) {
	if e.deduper == nil {
		return 0, nil
	}

	clusters, err := e.registry.Active()
	if err != nil {
		return 0, err
	}

	proposals, err := e.deduper.ProposeMerges(ctx, clusters)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, p := range proposals {
		if err := ctx.Err(); err != nil {
			return merged, err
		}
		if _, err := e.registry.Merge(ctx, p.ConceptA, p.ConceptB); err != nil {
			return merged, err
		}
		merged++
		e.logger.Info("duplicate clusters merged",
			zap.String("concept_a", p.ConceptA),
			zap.String("concept_b", p.ConceptB),
			zap.Float64("confidence", p.Confidence))
	}
	return merged, nil
}

func (e *Engine) mergeEquivalents(ctx context.Context, conceptID string) error {
	equivalents, err := e.vocab.Equivalents(ctx, conceptID)
	if err != nil {
		if errors.Is(err, vocab.ErrUnavailable) {
			// Merges re-apply on the next resolution of either concept.
			e.logger.Warn("equivalence lookup unavailable, merge deferred",
				zap.String("concept_id", conceptID))
			return nil
		}
		return err
	}

	for _, other := range equivalents {
		if _, err := e.registry.Merge(ctx, conceptID, other); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) openConsensusConflict(ctx context.Context, m model.Mention, candidates []model.CandidateMapping, votes []model.OracleVote, detail string) error {
	rec := model.ConflictRecord{
		ConflictID: uuid.New().String(),
		Kind:       model.ConflictConsensus,
		MentionID:  m.MentionID,
		Candidates: candidates,
		Votes:      votes,
		Detail:     detail,
		Status:     model.ConflictOpen,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.persist.EnqueueConflict(ctx, rec); err != nil {
		return err
	}
	e.metrics.recordConflicted()
	return nil
}

func (e *Engine) openSourceConflict(ctx context.Context, m model.Mention, candidates []model.CandidateMapping) error {
	rec := model.ConflictRecord{
		ConflictID: uuid.New().String(),
		Kind:       model.ConflictSource,
		MentionID:  m.MentionID,
		Candidates: candidates,
		Detail:     "source vocabularies tied under precedence policy",
		Status:     model.ConflictOpen,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.persist.EnqueueConflict(ctx, rec); err != nil {
		return err
	}
	e.metrics.recordConflicted()
	return nil
}

func pickCandidate(candidates []model.CandidateMapping, conceptID string) model.CandidateMapping {
	for _, c := range candidates {
		if c.ConceptID == conceptID {
			return c
		}
	}
	return candidates[0]
}

func exactContenders(candidates []model.CandidateMapping) []model.CandidateMapping {
	var out []model.CandidateMapping
	for _, c := range candidates {
		if c.Method == model.MethodExact {
			out = append(out, c)
		}
	}
	return out
}
