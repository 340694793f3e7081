package model

// Mention is a single occurrence of an entity in a document, produced by
// upstream extraction and normalization. Immutable once created.
type Mention struct {
	MentionID        string    `json:"mention_id"`
	EntityType       string    `json:"entity_type"`
	DocumentID       string    `json:"document_id"`
	NormalizedText   string    `json:"normalized_text"`
	Embedding        []float32 `json:"embedding_vector,omitempty"`
	SourceConfidence float64   `json:"source_confidence"`
}

// MatchMethod identifies which stage produced a candidate or resolution.
type MatchMethod string

const (
	MethodExact     MatchMethod = "exact"
	MethodFuzzy     MatchMethod = "fuzzy"
	MethodSemantic  MatchMethod = "semantic"
	MethodConsensus MatchMethod = "consensus"
	MethodDegraded  MatchMethod = "degraded"
)
