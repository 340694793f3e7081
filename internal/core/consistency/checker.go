// Package consistency validates newly resolved relationship facts against
// previously accepted ones. Violations never block the pipeline: the new
// fact is committed at reduced confidence and a ConflictRecord is emitted,
// because contradiction detection is expected to false-positive.
package consistency

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/config"
	"github.com/phytokb/canopy/internal/core/model"
)

// FactSource provides the accepted facts involving a cluster. The SQLite
// store implements it.
type FactSource interface {
	FactsForCluster(ctx context.Context, clusterID string) ([]model.Fact, error)
}

// Violation is one detected contradiction between a new fact and an
// accepted one.
type Violation struct {
	Kind     model.ConflictKind
	Existing model.Fact
	Detail   string
}

// Checker runs the cardinality, temporal, and mutual-exclusion checks.
type Checker struct {
	functional map[string]bool
	mutex      map[string]map[string]bool
	penalty    float64
	facts      FactSource
	logger     *zap.Logger
}

func New(cfg config.ConsistencyConfig, facts FactSource, logger *zap.Logger) *Checker {
	functional := make(map[string]bool, len(cfg.FunctionalPredicates))
	for _, p := range cfg.FunctionalPredicates {
		functional[p] = true
	}

	mutex := make(map[string]map[string]bool)
	addPair := func(a, b string) {
		if mutex[a] == nil {
			mutex[a] = make(map[string]bool)
		}
		mutex[a][b] = true
	}
	for _, pair := range cfg.MutexPairs {
		if len(pair) != 2 {
			continue
		}
		addPair(pair[0], pair[1])
		addPair(pair[1], pair[0])
	}

	penalty := cfg.Penalty
	if penalty <= 0 {
		penalty = 0.25
	}

	return &Checker{
		functional: functional,
		mutex:      mutex,
		penalty:    penalty,
		facts:      facts,
		logger:     logger,
	}
}

// Penalty is the confidence reduction applied to a fact committed despite
// violations.
func (c *Checker) Penalty() float64 {
	return c.penalty
}

// Check validates a new fact against the accepted facts of its cluster.
// objectEarliest, when non-nil, is the earliest evidence date of the object
// concept's cluster, for the temporal check.
func (c *Checker) Check(ctx context.Context, fact model.Fact, objectEarliest *time.Time) ([]Violation, error) {
	existing, err := c.facts.FactsForCluster(ctx, fact.ClusterID)
	if err != nil {
		return nil, err
	}

	var violations []Violation

	for _, old := range existing {
		if c.functional[fact.Predicate] && old.Predicate == fact.Predicate && old.ObjectConceptID != fact.ObjectConceptID {
			violations = append(violations, Violation{
				Kind:     model.ConflictCardinality,
				Existing: old,
				Detail: fmt.Sprintf("functional predicate %q already holds value %s, new value %s",
					fact.Predicate, old.ObjectConceptID, fact.ObjectConceptID),
			})
		}

		if c.mutex[fact.Predicate][old.Predicate] {
			violations = append(violations, Violation{
				Kind:     model.ConflictMutualExclusion,
				Existing: old,
				Detail: fmt.Sprintf("predicates %q and %q are declared incompatible",
					fact.Predicate, old.Predicate),
			})
		}
	}

	if objectEarliest != nil && !fact.ObservedAt.IsZero() && fact.ObservedAt.Before(*objectEarliest) {
		violations = append(violations, Violation{
			Kind: model.ConflictTemporal,
			Detail: fmt.Sprintf("fact observed %s predates earliest evidence %s for object %s",
				fact.ObservedAt.Format(time.RFC3339), objectEarliest.Format(time.RFC3339), fact.ObjectConceptID),
		})
	}

	c.logViolations(fact, violations)
	return violations, nil
}

// MutexAcross extends the mutual-exclusion check to the facts of related
// clusters. A declared-incompatible predicate toward the same object concept
// contradicts the new fact even when it was asserted about a neighboring
// cluster; the object restriction keeps cross-cluster false positives down.
func (c *Checker) MutexAcross(ctx context.Context, fact model.Fact, related []string) ([]Violation, error) {
	if len(c.mutex) == 0 || len(related) == 0 {
		return nil, nil
	}

	var violations []Violation
	for _, clusterID := range related {
		existing, err := c.facts.FactsForCluster(ctx, clusterID)
		if err != nil {
			return nil, err
		}
		for _, old := range existing {
			if c.mutex[fact.Predicate][old.Predicate] && old.ObjectConceptID == fact.ObjectConceptID {
				violations = append(violations, Violation{
					Kind:     model.ConflictMutualExclusion,
					Existing: old,
					Detail: fmt.Sprintf("predicate %q contradicts %q held by related cluster %s",
						fact.Predicate, old.Predicate, clusterID),
				})
			}
		}
	}

	c.logViolations(fact, violations)
	return violations, nil
}

func (c *Checker) logViolations(fact model.Fact, violations []Violation) {
	for _, v := range violations {
		c.logger.Warn("consistency violation",
			zap.String("fact_id", fact.FactID),
			zap.String("cluster_id", fact.ClusterID),
			zap.String("kind", string(v.Kind)),
			zap.String("detail", v.Detail))
	}
}
