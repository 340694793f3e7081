package conflictres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/core/model"
)

func testResolver() *Resolver {
	return New([]string{"chebi", "plantcyc", "npass"}, zap.NewNop())
}

func TestCrossSource(t *testing.T) {
	assert.False(t, CrossSource(nil))
	assert.False(t, CrossSource([]model.CandidateMapping{
		{ConceptID: "a", SourceVocab: "chebi"},
	}))
	assert.False(t, CrossSource([]model.CandidateMapping{
		{ConceptID: "a", SourceVocab: "chebi"},
		{ConceptID: "b", SourceVocab: "chebi"},
	}))
	assert.True(t, CrossSource([]model.CandidateMapping{
		{ConceptID: "a", SourceVocab: "chebi"},
		{ConceptID: "b", SourceVocab: "plantcyc"},
	}))
}

func TestPrecedenceWins(t *testing.T) {
	r := testResolver()

	d := r.Resolve("m1", []model.CandidateMapping{
		{ConceptID: "plantcyc:9", SourceVocab: "plantcyc", UsageWeight: 900},
		{ConceptID: "chebi:1", SourceVocab: "chebi", UsageWeight: 2},
	})

	// Precedence beats usage evidence outright.
	assert.Equal(t, RuleSinglePrecedence, d.Rule)
	assert.Equal(t, "chebi:1", d.Survivor.ConceptID)
}

func TestUnlistedSourceRanksLast(t *testing.T) {
	r := testResolver()

	d := r.Resolve("m1", []model.CandidateMapping{
		{ConceptID: "mystery:7", SourceVocab: "homegrown", UsageWeight: 900},
		{ConceptID: "npass:3", SourceVocab: "npass", UsageWeight: 1},
	})

	assert.Equal(t, RuleSinglePrecedence, d.Rule)
	assert.Equal(t, "npass:3", d.Survivor.ConceptID)
}

func TestEqualPrecedenceFallsBackToUsage(t *testing.T) {
	// Two unlisted sources share the bottom rank.
	r := testResolver()

	d := r.Resolve("m1", []model.CandidateMapping{
		{ConceptID: "x:1", SourceVocab: "vocab-a", UsageWeight: 10},
		{ConceptID: "y:2", SourceVocab: "vocab-b", UsageWeight: 80},
	})

	assert.Equal(t, RuleUsageWeight, d.Rule)
	assert.Equal(t, "y:2", d.Survivor.ConceptID)
}

func TestFullTieEscalates(t *testing.T) {
	r := testResolver()

	d := r.Resolve("m1", []model.CandidateMapping{
		{ConceptID: "x:1", SourceVocab: "vocab-a", UsageWeight: 10},
		{ConceptID: "y:2", SourceVocab: "vocab-b", UsageWeight: 10},
	})

	assert.Equal(t, RuleUnresolved, d.Rule)
}
