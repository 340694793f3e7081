package core

import (
	"context"
	"sync"
	"time"

	"github.com/phytokb/canopy/internal/core/model"
)

// fakePersist is an in-memory Persistence and consistency.FactSource for
// engine tests.
type fakePersist struct {
	mu          sync.Mutex
	resolutions []model.ResolvedConcept
	conflicts   []model.ConflictRecord
	unresolved  map[string]model.Mention
	facts       []model.Fact
}

func newFakePersist() *fakePersist {
	return &fakePersist{unresolved: make(map[string]model.Mention)}
}

func (p *fakePersist) SaveResolution(ctx context.Context, r model.ResolvedConcept) error {
	p.mu.Lock()
	p.resolutions = append(p.resolutions, r)
	p.mu.Unlock()
	return nil
}

func (p *fakePersist) EnqueueConflict(ctx context.Context, rec model.ConflictRecord) error {
	p.mu.Lock()
	p.conflicts = append(p.conflicts, rec)
	p.mu.Unlock()
	return nil
}

func (p *fakePersist) EnqueueUnresolved(ctx context.Context, m model.Mention, reason string) error {
	p.mu.Lock()
	p.unresolved[m.MentionID] = m
	p.mu.Unlock()
	return nil
}

func (p *fakePersist) MarkResolved(ctx context.Context, mentionID string) error {
	p.mu.Lock()
	delete(p.unresolved, mentionID)
	p.mu.Unlock()
	return nil
}

func (p *fakePersist) SaveFact(ctx context.Context, f model.Fact) error {
	p.mu.Lock()
	p.facts = append(p.facts, f)
	p.mu.Unlock()
	return nil
}

func (p *fakePersist) DueUnresolved(ctx context.Context, now time.Time, limit int) ([]model.Mention, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Mention
	for _, m := range p.unresolved {
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *fakePersist) AllFacts(ctx context.Context) ([]model.Fact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Fact(nil), p.facts...), nil
}

func (p *fakePersist) FactsForCluster(ctx context.Context, clusterID string) ([]model.Fact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Fact
	for _, f := range p.facts {
		if f.ClusterID == clusterID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (p *fakePersist) conflictKinds() []model.ConflictKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ConflictKind, len(p.conflicts))
	for i, c := range p.conflicts {
		out[i] = c.Kind
	}
	return out
}

// stubLLM returns a fixed completion on every call.
type stubLLM struct {
	response string
	err      error
}

func (s stubLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return s.response, s.err
}

// stubOracle returns a fixed vote or error on every call.
type stubOracle struct {
	name string
	vote model.OracleVote
	err  error
}

func (s stubOracle) Name() string { return s.name }

func (s stubOracle) Judge(ctx context.Context, m model.Mention, candidates []model.CandidateMapping) (model.OracleVote, error) {
	return s.vote, s.err
}
