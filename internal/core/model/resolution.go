package model

import "time"

// OracleVote is one oracle's judgment over a mention's candidate set.
// An empty ConceptID is an abstention ("none of these"). Timeout marks a
// non-response caused by deadline expiry rather than a hard failure.
type OracleVote struct {
	Oracle     string  `json:"oracle"`
	ConceptID  string  `json:"concept_id,omitempty"`
	Confidence float64 `json:"confidence"`
	Err        string  `json:"error,omitempty"`
	Timeout    bool    `json:"timeout,omitempty"`
}

// ConfidenceScore carries the components of a final confidence value so the
// aggregate is always traceable to its inputs.
type ConfidenceScore struct {
	MatchScore         float64 `json:"match_score"`
	AgreementScore     float64 `json:"agreement_score,omitempty"`
	ConsistencyPenalty float64 `json:"consistency_penalty,omitempty"`
	Final              float64 `json:"final"`
}

// Provenance records everything that went into a resolution: the candidates
// considered, the oracle votes cast, and the conflict rule applied, so the
// record is fully explainable and re-derivable.
type Provenance struct {
	Stage        MatchMethod        `json:"stage"`
	Candidates   []CandidateMapping `json:"candidates,omitempty"`
	Votes        []OracleVote       `json:"votes,omitempty"`
	ConflictRule string             `json:"conflict_rule,omitempty"`
	Notes        []string           `json:"notes,omitempty"`
}

// ResolvedConcept is the accepted canonical concept for a mention within one
// cluster generation. Superseded records are kept, never deleted.
type ResolvedConcept struct {
	ResolutionID string          `json:"resolution_id"`
	MentionID    string          `json:"mention_id"`
	ConceptID    string          `json:"concept_id"`
	Method       MatchMethod     `json:"method"`
	Confidence   ConfidenceScore `json:"confidence"`
	Provenance   Provenance      `json:"provenance"`
	Generation   int             `json:"generation"`
	SupersededBy string          `json:"superseded_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
