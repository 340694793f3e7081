// Package arbiter resolves ambiguous mentions by soliciting judgments from
// independent oracles and aggregating their votes.
package arbiter

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/llm"
	"github.com/phytokb/canopy/internal/vocab"
)

// Oracle is a polymorphic judgment source: given a mention and its top
// candidates it selects one candidate (or none) with an internal confidence.
// Backends may be model-backed, rule-based, or deterministic fallbacks; the
// arbiter depends only on this capability.
type Oracle interface {
	Name() string
	Judge(ctx context.Context, m model.Mention, candidates []model.CandidateMapping) (model.OracleVote, error)
}

// WeightedOracle pairs an oracle with its vote weight.
type WeightedOracle struct {
	Oracle Oracle
	Weight float64
}

// FallbackOracle is the deterministic baseline: it selects the top-ranked
// candidate when its score clears the floor, otherwise abstains.
type FallbackOracle struct {
	name  string
	Floor float64
}

func NewFallbackOracle(name string) *FallbackOracle {
	if name == "" {
		name = "fallback"
	}
	return &FallbackOracle{name: name, Floor: 0.5}
}

func (o *FallbackOracle) Name() string { return o.name }

func (o *FallbackOracle) Judge(ctx context.Context, m model.Mention, candidates []model.CandidateMapping) (model.OracleVote, error) {
	vote := model.OracleVote{Oracle: o.name}
	if len(candidates) == 0 || candidates[0].Score < o.Floor {
		return vote, nil // abstain
	}
	vote.ConceptID = candidates[0].ConceptID
	vote.Confidence = candidates[0].Score
	return vote, nil
}

// HeuristicOracle is rule-based: it rescores candidates with a corpus-usage
// prior so a widely attested concept beats a rare one at similar match
// scores.
type HeuristicOracle struct {
	name  string
	Floor float64
}

func NewHeuristicOracle(name string) *HeuristicOracle {
	if name == "" {
		name = "heuristic"
	}
	return &HeuristicOracle{name: name, Floor: 0.5}
}

func (o *HeuristicOracle) Name() string { return o.name }

func (o *HeuristicOracle) Judge(ctx context.Context, m model.Mention, candidates []model.CandidateMapping) (model.OracleVote, error) {
	vote := model.OracleVote{Oracle: o.name}

	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		// log1p keeps the usage prior gentle: a 10x usage gap moves the
		// score far less than a 0.1 similarity gap.
		score := c.Score * (1 + 0.1*math.Log1p(c.UsageWeight))
		if score > bestScore || (score == bestScore && best >= 0 && c.ConceptID < candidates[best].ConceptID) {
			best = i
			bestScore = score
		}
	}

	if best < 0 || candidates[best].Score < o.Floor {
		return vote, nil
	}
	vote.ConceptID = candidates[best].ConceptID
	vote.Confidence = candidates[best].Score
	return vote, nil
}

// RerankOracle judges by reranking candidate definitions against the mention
// text. Its confidence is fixed; rerankers order but do not calibrate.
type RerankOracle struct {
	name     string
	reranker llm.RerankerClient
	vocab    vocab.Store

	// Confidence reported for the top-ranked candidate.
	Confidence float64
}

func NewRerankOracle(name string, reranker llm.RerankerClient, store vocab.Store) *RerankOracle {
	if name == "" {
		name = "reranker"
	}
	return &RerankOracle{name: name, reranker: reranker, vocab: store, Confidence: 0.7}
}

func (o *RerankOracle) Name() string { return o.name }

func (o *RerankOracle) Judge(ctx context.Context, m model.Mention, candidates []model.CandidateMapping) (model.OracleVote, error) {
	vote := model.OracleVote{Oracle: o.name}
	if len(candidates) == 0 {
		return vote, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		doc := c.ConceptID
		if concept, err := o.vocab.GetConcept(ctx, c.ConceptID); err == nil && concept != nil {
			doc = fmt.Sprintf("%s: %s", concept.Label, concept.Definition)
		}
		docs[i] = doc
	}

	query := m.NormalizedText
	if m.EntityType != "" {
		query = fmt.Sprintf("%s (%s)", m.NormalizedText, strings.ToLower(m.EntityType))
	}

	indices, err := o.reranker.Rank(ctx, query, docs)
	if err != nil {
		return vote, err
	}
	if len(indices) == 0 || indices[0] < 0 || indices[0] >= len(candidates) {
		return vote, nil
	}

	vote.ConceptID = candidates[indices[0]].ConceptID
	vote.Confidence = o.Confidence
	return vote, nil
}
