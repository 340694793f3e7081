package vocab

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/phytokb/canopy/internal/core/model"
)

// MemoryStore is an in-process vocabulary: a brute-force cosine scan over
// concept embeddings and a canonical-label index. It backs tests and small
// embedded deployments where no Memgraph is available.
type MemoryStore struct {
	mu       sync.RWMutex
	concepts map[string]model.Concept
	byLabel  map[string][]string // canonical label/synonym -> concept ids
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		concepts: make(map[string]model.Concept),
		byLabel:  make(map[string][]string),
	}
}

// Add indexes a concept under its canonicalized label and synonyms.
func (s *MemoryStore) Add(c model.Concept) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.concepts[c.ConceptID] = c
	keys := append([]string{c.Label}, c.Synonyms...)
	for _, k := range keys {
		canonical := Canonicalize(k)
		s.byLabel[canonical] = append(s.byLabel[canonical], c.ConceptID)
	}
}

func (s *MemoryStore) LookupLabel(ctx context.Context, canonical string) ([]model.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Concept
	for _, id := range s.byLabel[canonical] {
		out = append(out, s.concepts[id])
	}
	return out, nil
}

func (s *MemoryStore) CandidateLabels(ctx context.Context, canonical string, limit int) ([]model.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := Tokens(canonical)
	seen := make(map[string]bool)
	var out []model.Concept

	for label, ids := range s.byLabel {
		match := false
		for _, tok := range tokens {
			if strings.Contains(label, tok) || sharesPrefix(label, canonical) {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, s.concepts[id])
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ConceptID < out[j].ConceptID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sharesPrefix catches single-token typos where no whole token matches, e.g.
// "quercitin" vs "quercetin".
func sharesPrefix(label, canonical string) bool {
	const n = 4
	if len(label) < n || len(canonical) < n {
		return false
	}
	return label[:n] == canonical[:n]
}

func (s *MemoryStore) NearestConcepts(ctx context.Context, vector []float32, limit int) ([]ScoredConcept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []ScoredConcept
	for _, c := range s.concepts {
		if len(c.Embedding) == 0 {
			continue
		}
		sim := Cosine(vector, c.Embedding)
		scored = append(scored, ScoredConcept{Concept: c, Similarity: sim})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Concept.ConceptID < scored[j].Concept.ConceptID
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *MemoryStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.concepts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStore) Equivalents(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.concepts[id]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), c.Equivalents...), nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// zero-length or zero-norm.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
