package model

import "time"

// ConflictKind tags what kind of disagreement a ConflictRecord captures.
type ConflictKind string

const (
	ConflictConsensus       ConflictKind = "consensus"        // oracles failed to agree or quorum not met
	ConflictSource          ConflictKind = "source"           // source vocabularies tied under precedence
	ConflictCardinality     ConflictKind = "cardinality"      // functional relationship got a second value
	ConflictTemporal        ConflictKind = "temporal"         // impossible fact ordering
	ConflictMutualExclusion ConflictKind = "mutual_exclusion" // incompatible relationship types co-occur
)

// ConflictStatus is the lifecycle state of a ConflictRecord.
type ConflictStatus string

const (
	ConflictOpen   ConflictStatus = "open"
	ConflictClosed ConflictStatus = "closed"
)

// ConflictRecord is a persisted, unresolved disagreement that exceeded
// automatic-resolution capability. It survives until closed by policy or
// external review; it never blocks pipeline throughput.
type ConflictRecord struct {
	ConflictID string             `json:"conflict_id"`
	Kind       ConflictKind       `json:"kind"`
	MentionID  string             `json:"mention_id,omitempty"`
	ClusterID  string             `json:"cluster_id,omitempty"`
	Candidates []CandidateMapping `json:"candidates,omitempty"`
	Votes      []OracleVote       `json:"votes,omitempty"`
	Facts      []Fact             `json:"facts,omitempty"`
	Detail     string             `json:"detail,omitempty"`
	Status     ConflictStatus     `json:"status"`
	Resolution string             `json:"resolution,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	ClosedAt   *time.Time         `json:"closed_at,omitempty"`
}
