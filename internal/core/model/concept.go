package model

// Concept is a canonical entry in the shared vocabulary, as exposed by the
// ontology store. Read-only from the engine's point of view.
type Concept struct {
	ConceptID      string    `json:"concept_id"`
	Label          string    `json:"label"`
	Synonyms       []string  `json:"synonyms,omitempty"`
	Definition     string    `json:"definition,omitempty"`
	SourceVocab    string    `json:"source_vocab"`
	PrecedenceTier int       `json:"precedence_tier"` // lower tier wins
	UsageWeight    float64   `json:"usage_weight"`    // corpus citation/usage evidence
	Equivalents    []string  `json:"equivalents,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
}

// CandidateMapping is a proposed canonical concept for a mention. Transient:
// candidate lists live only for the duration of one resolution attempt, but a
// copy of the considered set is kept in the resolution's provenance.
type CandidateMapping struct {
	ConceptID   string      `json:"concept_id"`
	Method      MatchMethod `json:"method"`
	Score       float64     `json:"score"`
	SourceVocab string      `json:"source_vocab,omitempty"`
	UsageWeight float64     `json:"usage_weight,omitempty"`
}
