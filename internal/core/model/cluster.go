package model

import "time"

// ConceptCluster is an equivalence class of mentions (possibly across
// documents) believed to denote the same real-world concept. Clusters grow
// or merge; they are never split automatically and never physically deleted.
type ConceptCluster struct {
	ClusterID             string    `json:"cluster_id"`
	RepresentativeConcept string    `json:"representative_concept"`
	Members               []string  `json:"member_mention_ids"`
	Confidence            float64   `json:"confidence"`
	Generation            int       `json:"generation"`
	Deprecated            bool      `json:"deprecated,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// ClusterEventKind enumerates append-only registry events.
type ClusterEventKind string

const (
	ClusterCreated    ClusterEventKind = "created"
	ClusterMemberAdd  ClusterEventKind = "member_added"
	ClusterMerged     ClusterEventKind = "merged"
	ClusterSplit      ClusterEventKind = "split" // forced override, new generation
	ClusterDeprecated ClusterEventKind = "deprecated"
)

// ClusterEvent is one append-only state change of the registry.
type ClusterEvent struct {
	EventID    string           `json:"event_id"`
	Kind       ClusterEventKind `json:"kind"`
	ClusterID  string           `json:"cluster_id"`
	MergedFrom string           `json:"merged_from,omitempty"`
	MentionID  string           `json:"mention_id,omitempty"`
	Generation int              `json:"generation"`
	CreatedAt  time.Time        `json:"created_at"`
}
