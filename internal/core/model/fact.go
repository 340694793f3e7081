package model

import "time"

// Fact is an accepted relationship between a concept cluster and another
// concept, e.g. "quercetin accumulates_in leaf epidermis". Facts are what
// the consistency checker validates new resolutions against.
type Fact struct {
	FactID          string    `json:"fact_id"`
	ClusterID       string    `json:"cluster_id"`
	Predicate       string    `json:"predicate"`
	ObjectConceptID string    `json:"object_concept_id"`
	DocumentID      string    `json:"document_id,omitempty"`
	ObservedAt      time.Time `json:"observed_at"`
	Confidence      float64   `json:"confidence"`
}
