// Package registry maintains global, cross-document equivalence classes of
// mentions. State lives in an immutable snapshot behind an atomic pointer:
// reads are lock-free, writes copy, compute, and compare-and-swap, retrying
// on contention so concurrent merges are never lost.
package registry

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/core/model"
)

// ErrClusterInvariant signals a structural defect in the merge forest (an
// apparent cycle). It is internal and fatal for the affected cluster, never
// recovered from silently.
var ErrClusterInvariant = errors.New("cluster invariant violation")

// Journal receives append-only cluster state changes. The SQLite store
// implements it; tests pass nil.
type Journal interface {
	AppendClusterEvent(ctx context.Context, ev model.ClusterEvent) error
}

type clusterState struct {
	cluster    model.ConceptCluster
	memberConf map[string]float64
}

func (cs *clusterState) clone() *clusterState {
	next := &clusterState{
		cluster:    cs.cluster,
		memberConf: make(map[string]float64, len(cs.memberConf)+1),
	}
	next.cluster.Members = append([]string(nil), cs.cluster.Members...)
	for k, v := range cs.memberConf {
		next.memberConf[k] = v
	}
	return next
}

// snapshot is one immutable version of registry state. Cluster values are
// never mutated in place; every write builds replacement entries.
type snapshot struct {
	version   uint64
	clusters  map[string]*clusterState
	byConcept map[string]string // concept id -> cluster id (pre-union)
	parent    map[string]string // union-find forest over cluster ids
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		version:   s.version + 1,
		clusters:  make(map[string]*clusterState, len(s.clusters)+1),
		byConcept: make(map[string]string, len(s.byConcept)+1),
		parent:    make(map[string]string, len(s.parent)+1),
	}
	for k, v := range s.clusters {
		next.clusters[k] = v
	}
	for k, v := range s.byConcept {
		next.byConcept[k] = v
	}
	for k, v := range s.parent {
		next.parent[k] = v
	}
	return next
}

// find walks to the root of a cluster id. A walk longer than the forest
// itself means a cycle, which the union discipline makes structurally
// impossible; seeing one is a logic defect.
func (s *snapshot) find(id string) (string, error) {
	steps := 0
	for {
		p, ok := s.parent[id]
		if !ok || p == id {
			return id, nil
		}
		id = p
		steps++
		if steps > len(s.parent) {
			return "", errors.Wrapf(ErrClusterInvariant, "cycle detected at cluster %s", id)
		}
	}
}

// Registry is the concept cluster registry.
type Registry struct {
	state         atomic.Pointer[snapshot]
	journal       Journal
	journalLapses atomic.Int64
	logger        *zap.Logger
}

func New(journal Journal, logger *zap.Logger) *Registry {
	r := &Registry{journal: journal, logger: logger}
	r.state.Store(&snapshot{
		clusters:  make(map[string]*clusterState),
		byConcept: make(map[string]string),
		parent:    make(map[string]string),
	})
	return r
}

// Assign adds a resolved mention to the active cluster of its concept,
// creating the cluster if the concept has none. Returns the cluster after
// the update.
func (r *Registry) Assign(ctx context.Context, mentionID, conceptID string, confidence float64) (model.ConceptCluster, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.ConceptCluster{}, err
		}

		cur := r.state.Load()
		next := cur.clone()

		var events []model.ClusterEvent
		now := time.Now().UTC()

		clusterID, exists := cur.byConcept[conceptID]
		if exists {
			root, err := next.find(clusterID)
			if err != nil {
				return model.ConceptCluster{}, err
			}
			cs := next.clusters[root].clone()
			if _, member := cs.memberConf[mentionID]; !member {
				cs.cluster.Members = append(cs.cluster.Members, mentionID)
				cs.memberConf[mentionID] = confidence
				cs.cluster.Confidence = corroborated(cs.memberConf)
				events = append(events, model.ClusterEvent{
					EventID:    uuid.New().String(),
					Kind:       model.ClusterMemberAdd,
					ClusterID:  root,
					MentionID:  mentionID,
					Generation: cs.cluster.Generation,
					CreatedAt:  now,
				})
			} else {
				// Re-resolution of a known mention: refresh its confidence.
				cs.memberConf[mentionID] = confidence
				cs.cluster.Confidence = corroborated(cs.memberConf)
			}
			next.clusters[root] = cs

			if r.commit(cur, next, ctx, events) {
				return cs.cluster, nil
			}
			continue
		}

		cs := &clusterState{
			cluster: model.ConceptCluster{
				ClusterID:             uuid.New().String(),
				RepresentativeConcept: conceptID,
				Members:               []string{mentionID},
				Confidence:            confidence,
				Generation:            1,
				CreatedAt:             now,
			},
			memberConf: map[string]float64{mentionID: confidence},
		}
		next.clusters[cs.cluster.ClusterID] = cs
		next.byConcept[conceptID] = cs.cluster.ClusterID
		next.parent[cs.cluster.ClusterID] = cs.cluster.ClusterID

		events = append(events,
			model.ClusterEvent{
				EventID:    uuid.New().String(),
				Kind:       model.ClusterCreated,
				ClusterID:  cs.cluster.ClusterID,
				Generation: 1,
				CreatedAt:  now,
			},
			model.ClusterEvent{
				EventID:    uuid.New().String(),
				Kind:       model.ClusterMemberAdd,
				ClusterID:  cs.cluster.ClusterID,
				MentionID:  mentionID,
				Generation: 1,
				CreatedAt:  now,
			},
		)

		if r.commit(cur, next, ctx, events) {
			return cs.cluster, nil
		}
	}
}

// Merge unions the clusters of two concepts found to be equivalent. The
// survivor is chosen by highest confidence, then most members, then lowest
// id. Merging is transitive and idempotent; merging already-merged clusters
// is a no-op.
func (r *Registry) Merge(ctx context.Context, conceptA, conceptB string) (model.ConceptCluster, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.ConceptCluster{}, err
		}

		cur := r.state.Load()

		idA, okA := cur.byConcept[conceptA]
		idB, okB := cur.byConcept[conceptB]
		if !okA && !okB {
			return model.ConceptCluster{}, nil
		}
		if !okA || !okB {
			// Only one side has a cluster: nothing to union yet. The
			// equivalence re-applies when the other side first resolves.
			id := idA
			if !okA {
				id = idB
			}
			root, err := cur.find(id)
			if err != nil {
				return model.ConceptCluster{}, err
			}
			return cur.clusters[root].cluster, nil
		}

		rootA, err := cur.find(idA)
		if err != nil {
			return model.ConceptCluster{}, err
		}
		rootB, err := cur.find(idB)
		if err != nil {
			return model.ConceptCluster{}, err
		}
		if rootA == rootB {
			return cur.clusters[rootA].cluster, nil
		}

		survivorID, absorbedID := pickSurvivor(cur.clusters[rootA], cur.clusters[rootB])

		next := cur.clone()
		survivor := next.clusters[survivorID].clone()
		absorbed := next.clusters[absorbedID]

		for _, m := range absorbed.cluster.Members {
			if _, ok := survivor.memberConf[m]; !ok {
				survivor.cluster.Members = append(survivor.cluster.Members, m)
				survivor.memberConf[m] = absorbed.memberConf[m]
			}
		}
		survivor.cluster.Confidence = corroborated(survivor.memberConf)

		next.clusters[survivorID] = survivor
		next.parent[absorbedID] = survivorID

		events := []model.ClusterEvent{{
			EventID:    uuid.New().String(),
			Kind:       model.ClusterMerged,
			ClusterID:  survivorID,
			MergedFrom: absorbedID,
			Generation: survivor.cluster.Generation,
			CreatedAt:  time.Now().UTC(),
		}}

		if r.commit(cur, next, ctx, events) {
			r.logger.Info("clusters merged",
				zap.String("survivor", survivorID),
				zap.String("absorbed", absorbedID),
				zap.Int("members", len(survivor.cluster.Members)))
			return survivor.cluster, nil
		}
	}
}

// Split is the manual override: it carves the named mentions out of a
// cluster into a new cluster of the next generation, which takes over as
// the concept's active cluster. The remainder keeps its id and history.
// Never triggered automatically.
func (r *Registry) Split(ctx context.Context, conceptID string, mentionIDs []string) (model.ConceptCluster, error) {
	carve := make(map[string]bool, len(mentionIDs))
	for _, m := range mentionIDs {
		carve[m] = true
	}

	for {
		if err := ctx.Err(); err != nil {
			return model.ConceptCluster{}, err
		}

		cur := r.state.Load()
		clusterID, ok := cur.byConcept[conceptID]
		if !ok {
			return model.ConceptCluster{}, errors.Newf("no cluster for concept %s", conceptID)
		}
		root, err := cur.find(clusterID)
		if err != nil {
			return model.ConceptCluster{}, err
		}

		next := cur.clone()
		old := next.clusters[root].clone()
		generation := old.cluster.Generation + 1

		fresh := &clusterState{
			cluster: model.ConceptCluster{
				ClusterID:             uuid.New().String(),
				RepresentativeConcept: conceptID,
				Generation:            generation,
				CreatedAt:             time.Now().UTC(),
			},
			memberConf: make(map[string]float64, len(mentionIDs)),
		}

		var kept []string
		for _, m := range old.cluster.Members {
			if carve[m] {
				fresh.cluster.Members = append(fresh.cluster.Members, m)
				fresh.memberConf[m] = old.memberConf[m]
				delete(old.memberConf, m)
			} else {
				kept = append(kept, m)
			}
		}
		old.cluster.Members = kept
		old.cluster.Generation = generation
		if len(old.memberConf) > 0 {
			old.cluster.Confidence = corroborated(old.memberConf)
		} else {
			old.cluster.Confidence = 0
			old.cluster.Deprecated = true
		}
		fresh.cluster.Confidence = corroborated(fresh.memberConf)

		next.clusters[root] = old
		next.clusters[fresh.cluster.ClusterID] = fresh
		next.parent[fresh.cluster.ClusterID] = fresh.cluster.ClusterID
		// New evidence for the concept lands in the carved-out generation,
		// never in the remainder (which may now be empty and deprecated).
		next.byConcept[conceptID] = fresh.cluster.ClusterID

		events := []model.ClusterEvent{{
			EventID:    uuid.New().String(),
			Kind:       model.ClusterSplit,
			ClusterID:  fresh.cluster.ClusterID,
			MergedFrom: root,
			Generation: generation,
			CreatedAt:  time.Now().UTC(),
		}}

		if r.commit(cur, next, ctx, events) {
			return fresh.cluster, nil
		}
	}
}

// Get returns the active cluster for a concept id, lock-free.
func (r *Registry) Get(conceptID string) (model.ConceptCluster, bool, error) {
	cur := r.state.Load()
	clusterID, ok := cur.byConcept[conceptID]
	if !ok {
		return model.ConceptCluster{}, false, nil
	}
	root, err := cur.find(clusterID)
	if err != nil {
		return model.ConceptCluster{}, false, err
	}
	return cur.clusters[root].cluster, true, nil
}

// GetByID returns a cluster by its id, following merges to the survivor.
func (r *Registry) GetByID(clusterID string) (model.ConceptCluster, bool, error) {
	cur := r.state.Load()
	if _, ok := cur.clusters[clusterID]; !ok {
		return model.ConceptCluster{}, false, nil
	}
	root, err := cur.find(clusterID)
	if err != nil {
		return model.ConceptCluster{}, false, err
	}
	return cur.clusters[root].cluster, true, nil
}

// Active returns the current root clusters, lock-free. Absorbed and
// deprecated clusters are omitted; order is by cluster id for determinism.
func (r *Registry) Active() ([]model.ConceptCluster, error) {
	cur := r.state.Load()
	out := make([]model.ConceptCluster, 0, len(cur.clusters))
	for id, cs := range cur.clusters {
		root, err := cur.find(id)
		if err != nil {
			return nil, err
		}
		if root != id || cs.cluster.Deprecated {
			continue
		}
		out = append(out, cs.cluster)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })
	return out, nil
}

// Version returns the snapshot version stamp, for observability.
func (r *Registry) Version() uint64 {
	return r.state.Load().version
}

// JournalLapses reports how many audit events could not be journaled even
// after retries. A nonzero value means the event log is incomplete.
func (r *Registry) JournalLapses() int64 {
	return r.journalLapses.Load()
}

const journalAttempts = 3

func (r *Registry) commit(cur, next *snapshot, ctx context.Context, events []model.ClusterEvent) bool {
	if !r.state.CompareAndSwap(cur, next) {
		return false
	}
	if r.journal != nil {
		for _, ev := range events {
			r.appendEvent(ctx, ev)
		}
	}
	return true
}

// appendEvent retries the journal write. The snapshot swap has already
// happened, so a lost event is an audit gap, not lost cluster state; it is
// counted and logged rather than unwound.
func (r *Registry) appendEvent(ctx context.Context, ev model.ClusterEvent) {
	var err error
	for attempt := 1; attempt <= journalAttempts; attempt++ {
		if err = r.journal.AppendClusterEvent(ctx, ev); err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
	}
	r.journalLapses.Add(1)
	r.logger.Error("cluster event dropped after journal retries",
		zap.String("event_id", ev.EventID),
		zap.String("cluster_id", ev.ClusterID),
		zap.Error(err))
}

func pickSurvivor(a, b *clusterState) (survivor, absorbed string) {
	ca, cb := a.cluster, b.cluster
	switch {
	case ca.Confidence != cb.Confidence:
		if ca.Confidence > cb.Confidence {
			return ca.ClusterID, cb.ClusterID
		}
		return cb.ClusterID, ca.ClusterID
	case len(ca.Members) != len(cb.Members):
		if len(ca.Members) > len(cb.Members) {
			return ca.ClusterID, cb.ClusterID
		}
		return cb.ClusterID, ca.ClusterID
	case ca.ClusterID < cb.ClusterID:
		return ca.ClusterID, cb.ClusterID
	default:
		return cb.ClusterID, ca.ClusterID
	}
}

// corroborated combines member confidences noisy-or style: independent
// agreeing evidence only ever raises cluster confidence.
func corroborated(memberConf map[string]float64) float64 {
	doubt := 1.0
	for _, c := range memberConf {
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		doubt *= 1 - c
	}
	conf := 1 - doubt
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}
