// Package candidate turns a normalized mention into a ranked list of
// candidate canonical concepts via exact, fuzzy, and semantic matching.
package candidate

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/config"
	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/llm"
	"github.com/phytokb/canopy/internal/vocab"
)

// candidateLabelLimit bounds how many vocabulary entries one fuzzy pass
// scores.
const candidateLabelLimit = 200

// Outcome is the generator's verdict on one mention.
type Outcome struct {
	// Candidates is ordered highest-confidence first. Empty means no match
	// cleared the minimum threshold at any stage.
	Candidates []model.CandidateMapping
	// AutoResolved is set when the top candidate clears the auto-accept
	// threshold with sufficient margin; otherwise the mention is ambiguous
	// and goes to the consensus arbiter.
	AutoResolved bool
	// Degraded is set when the vocabulary store was unavailable and matching
	// fell back to the last known label snapshot, fuzzy-only.
	Degraded bool
}

// Generator produces ranked candidate mappings for mentions.
type Generator struct {
	vocab    vocab.Store
	embedder llm.EmbedderClient // nil when the provider has no embedding support
	cfg      config.MatchingConfig
	logger   *zap.Logger

	// snapshot of concepts seen on successful store calls, used for
	// best-effort fuzzy-only matching while the store is down.
	mu       sync.RWMutex
	snapshot map[string]model.Concept
}

func NewGenerator(store vocab.Store, embedder llm.EmbedderClient, cfg config.MatchingConfig, logger *zap.Logger) *Generator {
	return &Generator{
		vocab:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		snapshot: make(map[string]model.Concept),
	}
}

// Generate runs the matching stages in strict precedence order: exact, then
// fuzzy, then semantic. An exact hit short-circuits (configurable). Within a
// stage, ties break on usage weight, then concept id, for determinism.
func (g *Generator) Generate(ctx context.Context, m model.Mention) (Outcome, error) {
	canonical := vocab.Canonicalize(m.NormalizedText)

	exact, err := g.vocab.LookupLabel(ctx, canonical)
	if err != nil {
		if errors.Is(err, vocab.ErrUnavailable) {
			return g.generateDegraded(canonical), nil
		}
		return Outcome{}, err
	}
	g.remember(exact)

	if len(exact) > 0 {
		cands := make([]model.CandidateMapping, 0, len(exact))
		for _, c := range exact {
			cands = append(cands, mapping(c, model.MethodExact, 1.0))
		}
		if g.cfg.StopAfterExact {
			return g.finish(cands), nil
		}
	}

	var cands []model.CandidateMapping
	for _, c := range exact {
		cands = append(cands, mapping(c, model.MethodExact, 1.0))
	}

	fuzzy, err := g.fuzzyStage(ctx, canonical)
	if err != nil {
		if errors.Is(err, vocab.ErrUnavailable) {
			return g.generateDegraded(canonical), nil
		}
		return Outcome{}, err
	}
	cands = merge(cands, fuzzy)

	semantic, err := g.semanticStage(ctx, m)
	if err != nil {
		if errors.Is(err, vocab.ErrUnavailable) {
			// Fuzzy results are still usable; just skip the semantic stage.
			g.logger.Warn("semantic stage skipped, vocabulary store unavailable",
				zap.String("mention_id", m.MentionID))
		} else {
			return Outcome{}, err
		}
	}
	cands = merge(cands, semantic)

	return g.finish(cands), nil
}

func (g *Generator) fuzzyStage(ctx context.Context, canonical string) ([]model.CandidateMapping, error) {
	concepts, err := g.vocab.CandidateLabels(ctx, canonical, candidateLabelLimit)
	if err != nil {
		return nil, err
	}
	g.remember(concepts)
	return g.scoreFuzzy(canonical, concepts, model.MethodFuzzy), nil
}

func (g *Generator) scoreFuzzy(canonical string, concepts []model.Concept, method model.MatchMethod) []model.CandidateMapping {
	var out []model.CandidateMapping
	for _, c := range concepts {
		best := Similarity(canonical, vocab.Canonicalize(c.Label))
		for _, syn := range c.Synonyms {
			if s := Similarity(canonical, vocab.Canonicalize(syn)); s > best {
				best = s
			}
		}
		if best >= g.cfg.FuzzyFloor {
			out = append(out, mapping(c, method, best))
		}
	}
	return out
}

func (g *Generator) semanticStage(ctx context.Context, m model.Mention) ([]model.CandidateMapping, error) {
	vector := m.Embedding
	if len(vector) == 0 {
		if g.embedder == nil {
			return nil, nil
		}
		v, err := g.embedder.Embed(ctx, m.NormalizedText)
		if err != nil {
			// Embedding failure degrades to fuzzy-only, same as a missing
			// embedder; it is not a pipeline failure.
			g.logger.Warn("embedding failed, skipping semantic stage",
				zap.String("mention_id", m.MentionID), zap.Error(err))
			return nil, nil
		}
		vector = v
	}

	scored, err := g.vocab.NearestConcepts(ctx, vector, g.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}

	var out []model.CandidateMapping
	for _, sc := range scored {
		if sc.Similarity < g.cfg.SemanticFloor {
			continue
		}
		// Semantic matches carry more noise than string matches; discount.
		out = append(out, mapping(sc.Concept, model.MethodSemantic, sc.Similarity*g.cfg.SemanticDiscount))
	}
	return out, nil
}

// generateDegraded matches fuzzily against the last known label snapshot
// after the store's retry budget is exhausted.
func (g *Generator) generateDegraded(canonical string) Outcome {
	g.mu.RLock()
	concepts := make([]model.Concept, 0, len(g.snapshot))
	for _, c := range g.snapshot {
		concepts = append(concepts, c)
	}
	g.mu.RUnlock()

	cands := g.scoreFuzzy(canonical, concepts, model.MethodDegraded)
	out := g.finish(cands)
	out.Degraded = true
	out.AutoResolved = false
	return out
}

func (g *Generator) finish(cands []model.CandidateMapping) Outcome {
	sortCandidates(cands)
	if g.cfg.MaxCandidates > 0 && len(cands) > g.cfg.MaxCandidates {
		cands = cands[:g.cfg.MaxCandidates]
	}

	out := Outcome{Candidates: cands}
	if len(cands) == 0 {
		return out
	}

	top := cands[0]
	if top.Score >= g.cfg.AutoAcceptThreshold {
		if len(cands) == 1 || top.Score-cands[1].Score > g.cfg.AutoAcceptMargin {
			out.AutoResolved = true
		}
	}
	return out
}

func (g *Generator) remember(concepts []model.Concept) {
	if len(concepts) == 0 {
		return
	}
	g.mu.Lock()
	for _, c := range concepts {
		g.snapshot[c.ConceptID] = c
	}
	g.mu.Unlock()
}

func mapping(c model.Concept, method model.MatchMethod, score float64) model.CandidateMapping {
	return model.CandidateMapping{
		ConceptID:   c.ConceptID,
		Method:      method,
		Score:       score,
		SourceVocab: c.SourceVocab,
		UsageWeight: c.UsageWeight,
	}
}

// sortCandidates orders by score, breaking ties by usage weight then concept
// id so repeated runs produce identical orderings.
func sortCandidates(cands []model.CandidateMapping) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].UsageWeight != cands[j].UsageWeight {
			return cands[i].UsageWeight > cands[j].UsageWeight
		}
		return cands[i].ConceptID < cands[j].ConceptID
	})
}

// merge combines stage outputs keeping one entry per concept: the higher
// score wins; on equal scores the earlier stage wins.
func merge(a, b []model.CandidateMapping) []model.CandidateMapping {
	if len(b) == 0 {
		return a
	}
	index := make(map[string]int, len(a))
	for i, c := range a {
		index[c.ConceptID] = i
	}
	for _, c := range b {
		if i, ok := index[c.ConceptID]; ok {
			if c.Score > a[i].Score {
				a[i] = c
			}
			continue
		}
		index[c.ConceptID] = len(a)
		a = append(a, c)
	}
	return a
}
