// Package conflictres arbitrates between candidates whose source
// vocabularies genuinely disagree, under a deterministic precedence policy.
package conflictres

import (
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/core/model"
)

// Rule names which precedence rule decided a cross-source conflict; it is
// recorded in provenance so decisions can be re-derived if the policy
// changes.
type Rule string

const (
	RuleSinglePrecedence Rule = "source_precedence"
	RuleUsageWeight      Rule = "usage_weight"
	RuleUnresolved       Rule = "unresolved"
)

// Decision is the resolver's verdict over a cross-source candidate set.
type Decision struct {
	// Survivor is the winning candidate; meaningless when Rule is
	// RuleUnresolved.
	Survivor model.CandidateMapping
	Rule     Rule
}

// Resolver applies the ordered source-precedence policy: the most curated
// vocabulary wins; equal tiers fall back to corpus-usage evidence; a full
// tie escalates to a ConflictRecord for external disposition.
type Resolver struct {
	rank   map[string]int // source vocab -> precedence rank, lower wins
	logger *zap.Logger
}

func New(sources []string, logger *zap.Logger) *Resolver {
	rank := make(map[string]int, len(sources))
	for i, s := range sources {
		rank[s] = i
	}
	return &Resolver{rank: rank, logger: logger}
}

// CrossSource reports whether the candidate set spans more than one source
// vocabulary; only then does precedence arbitration apply.
func CrossSource(candidates []model.CandidateMapping) bool {
	if len(candidates) < 2 {
		return false
	}
	first := candidates[0].SourceVocab
	for _, c := range candidates[1:] {
		if c.SourceVocab != first {
			return true
		}
	}
	return false
}

// Resolve picks the surviving candidate among cross-source contenders. Every
// decision is logged with the full candidate set and the rule applied.
func (r *Resolver) Resolve(mentionID string, candidates []model.CandidateMapping) Decision {
	best := candidates[0]
	bestRank := r.rankOf(best.SourceVocab)
	tied := false

	for _, c := range candidates[1:] {
		rank := r.rankOf(c.SourceVocab)
		switch {
		case rank < bestRank:
			best, bestRank, tied = c, rank, false
		case rank == bestRank && c.SourceVocab != best.SourceVocab:
			tied = true
		}
	}

	decision := Decision{Survivor: best, Rule: RuleSinglePrecedence}

	if tied {
		decision = r.resolveByUsage(candidates, bestRank)
	}

	r.logger.Info("cross-source conflict decided",
		zap.String("mention_id", mentionID),
		zap.String("rule", string(decision.Rule)),
		zap.String("survivor", decision.Survivor.ConceptID),
		zap.Int("candidates", len(candidates)))
	return decision
}

// resolveByUsage breaks an equal-precedence tie on corpus-usage evidence.
func (r *Resolver) resolveByUsage(candidates []model.CandidateMapping, rank int) Decision {
	var contenders []model.CandidateMapping
	for _, c := range candidates {
		if r.rankOf(c.SourceVocab) == rank {
			contenders = append(contenders, c)
		}
	}

	best := contenders[0]
	tied := false
	for _, c := range contenders[1:] {
		switch {
		case c.UsageWeight > best.UsageWeight:
			best, tied = c, false
		case c.UsageWeight == best.UsageWeight && c.SourceVocab != best.SourceVocab:
			tied = true
		}
	}

	if tied {
		return Decision{Survivor: best, Rule: RuleUnresolved}
	}
	return Decision{Survivor: best, Rule: RuleUsageWeight}
}

func (r *Resolver) rankOf(source string) int {
	if rank, ok := r.rank[source]; ok {
		return rank
	}
	// Unlisted sources rank below every configured one.
	return len(r.rank)
}
