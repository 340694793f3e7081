package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/core/model"
)

// recordingJournal captures cluster events for assertions.
type recordingJournal struct {
	mu     sync.Mutex
	events []model.ClusterEvent
}

func (j *recordingJournal) AppendClusterEvent(ctx context.Context, ev model.ClusterEvent) error {
	j.mu.Lock()
	j.events = append(j.events, ev)
	j.mu.Unlock()
	return nil
}

func (j *recordingJournal) kinds() []model.ClusterEventKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.ClusterEventKind, len(j.events))
	for i, ev := range j.events {
		out[i] = ev.Kind
	}
	return out
}

func TestAssignCreatesCluster(t *testing.T) {
	journal := &recordingJournal{}
	r := New(journal, zap.NewNop())
	ctx := context.Background()

	cluster, err := r.Assign(ctx, "m1", "CHEBI:16243", 0.9)

	require.NoError(t, err)
	assert.Equal(t, "CHEBI:16243", cluster.RepresentativeConcept)
	assert.Equal(t, []string{"m1"}, cluster.Members)
	assert.Equal(t, 0.9, cluster.Confidence)
	assert.Equal(t, 1, cluster.Generation)
	assert.Equal(t, []model.ClusterEventKind{model.ClusterCreated, model.ClusterMemberAdd}, journal.kinds())
}

func TestAssignCorroborates(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	_, err := r.Assign(ctx, "m1", "CHEBI:16243", 0.8)
	require.NoError(t, err)
	cluster, err := r.Assign(ctx, "m2", "CHEBI:16243", 0.8)
	require.NoError(t, err)

	assert.Len(t, cluster.Members, 2)
	// Independent agreeing evidence raises confidence: 1 - 0.2*0.2.
	assert.InDelta(t, 0.96, cluster.Confidence, 1e-9)
}

func TestAssignIdempotentForKnownMention(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	_, err := r.Assign(ctx, "m1", "CHEBI:16243", 0.8)
	require.NoError(t, err)
	cluster, err := r.Assign(ctx, "m1", "CHEBI:16243", 0.9)
	require.NoError(t, err)

	assert.Equal(t, []string{"m1"}, cluster.Members)
	assert.Equal(t, 0.9, cluster.Confidence)
}

func TestMergeCombinesMembers(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	_, err := r.Assign(ctx, "m1", "chebi:quercetin", 0.9)
	require.NoError(t, err)
	_, err = r.Assign(ctx, "m2", "plantcyc:quercetin", 0.7)
	require.NoError(t, err)

	merged, err := r.Merge(ctx, "chebi:quercetin", "plantcyc:quercetin")
	require.NoError(t, err)

	assert.Len(t, merged.Members, 2)
	assert.ElementsMatch(t, []string{"m1", "m2"}, merged.Members)
	// Survivor is the higher-confidence cluster.
	assert.Equal(t, "chebi:quercetin", merged.RepresentativeConcept)

	// Both concepts now resolve to the surviving cluster.
	a, ok, err := r.Get("chebi:quercetin")
	require.NoError(t, err)
	require.True(t, ok)
	b, ok, err := r.Get("plantcyc:quercetin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ClusterID, b.ClusterID)
}

func TestMergeIdempotent(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	_, err := r.Assign(ctx, "m1", "a", 0.9)
	require.NoError(t, err)
	_, err = r.Assign(ctx, "m2", "b", 0.7)
	require.NoError(t, err)

	first, err := r.Merge(ctx, "a", "b")
	require.NoError(t, err)
	versionAfterFirst := r.Version()

	second, err := r.Merge(ctx, "a", "b")
	require.NoError(t, err)

	assert.Equal(t, first.ClusterID, second.ClusterID)
	assert.Equal(t, len(first.Members), len(second.Members))
	// The repeat merge is a no-op: no new snapshot version.
	assert.Equal(t, versionAfterFirst, r.Version())
}

func TestMergeTransitive(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	for i, concept := range []string{"a", "b", "c"} {
		_, err := r.Assign(ctx, fmt.Sprintf("m%d", i), concept, 0.5)
		require.NoError(t, err)
	}

	_, err := r.Merge(ctx, "a", "b")
	require.NoError(t, err)
	final, err := r.Merge(ctx, "b", "c")
	require.NoError(t, err)

	assert.Len(t, final.Members, 3)
	for _, concept := range []string{"a", "b", "c"} {
		cluster, ok, err := r.Get(concept)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, final.ClusterID, cluster.ClusterID)
	}
}

func TestMergeWithUnknownConcept(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	_, err := r.Assign(ctx, "m1", "a", 0.9)
	require.NoError(t, err)

	// Only one side exists: nothing to union, no error.
	cluster, err := r.Merge(ctx, "a", "never-seen")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, cluster.Members)

	empty, err := r.Merge(ctx, "ghost-1", "ghost-2")
	require.NoError(t, err)
	assert.Empty(t, empty.ClusterID)
}

func TestConcurrentMergesNotLost(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	const n = 16
	for i := 0; i < n; i++ {
		_, err := r.Assign(ctx, fmt.Sprintf("m%d", i), fmt.Sprintf("c%d", i), 0.5)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Merge(ctx, "c0", fmt.Sprintf("c%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Every concept must land in the same cluster with all members intact.
	root, ok, err := r.Get("c0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, root.Members, n)

	for i := 1; i < n; i++ {
		cluster, ok, err := r.Get(fmt.Sprintf("c%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, root.ClusterID, cluster.ClusterID)
	}
}

func TestConcurrentAssignsSameCluster(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Assign(ctx, fmt.Sprintf("m%d", i), "CHEBI:16243", 0.5)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	cluster, ok, err := r.Get("CHEBI:16243")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cluster.Members, n)
}

func TestSplitCarvesNewGeneration(t *testing.T) {
	journal := &recordingJournal{}
	r := New(journal, zap.NewNop())
	ctx := context.Background()

	_, err := r.Assign(ctx, "m1", "CHEBI:16243", 0.8)
	require.NoError(t, err)
	old, err := r.Assign(ctx, "m2", "CHEBI:16243", 0.8)
	require.NoError(t, err)

	fresh, err := r.Split(ctx, "CHEBI:16243", []string{"m2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"m2"}, fresh.Members)
	assert.Equal(t, old.Generation+1, fresh.Generation)
	assert.NotEqual(t, old.ClusterID, fresh.ClusterID)
	assert.Equal(t, 0.8, fresh.Confidence)

	remaining, ok, err := r.GetByID(old.ClusterID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"m1"}, remaining.Members)
	assert.Equal(t, fresh.Generation, remaining.Generation)
}

func TestSplitRepointsConceptMapping(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	_, err := r.Assign(ctx, "m1", "CHEBI:16243", 0.8)
	require.NoError(t, err)
	old, err := r.Assign(ctx, "m2", "CHEBI:16243", 0.8)
	require.NoError(t, err)

	fresh, err := r.Split(ctx, "CHEBI:16243", []string{"m2"})
	require.NoError(t, err)

	// The concept now resolves to the carved-out generation, and new
	// evidence lands there rather than in the remainder.
	active, ok, err := r.Get("CHEBI:16243")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fresh.ClusterID, active.ClusterID)

	after, err := r.Assign(ctx, "m3", "CHEBI:16243", 0.7)
	require.NoError(t, err)
	assert.Equal(t, fresh.ClusterID, after.ClusterID)
	assert.ElementsMatch(t, []string{"m2", "m3"}, after.Members)

	remainder, ok, err := r.GetByID(old.ClusterID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"m1"}, remainder.Members)
}

func TestSplitFullCarveDeprecatesOldCluster(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	old, err := r.Assign(ctx, "m1", "CHEBI:16243", 0.8)
	require.NoError(t, err)

	fresh, err := r.Split(ctx, "CHEBI:16243", []string{"m1"})
	require.NoError(t, err)

	emptied, ok, err := r.GetByID(old.ClusterID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, emptied.Deprecated)
	assert.Empty(t, emptied.Members)

	// The deprecated husk must not capture future assignments.
	after, err := r.Assign(ctx, "m2", "CHEBI:16243", 0.9)
	require.NoError(t, err)
	assert.Equal(t, fresh.ClusterID, after.ClusterID)
}

func TestSplitUnknownConcept(t *testing.T) {
	r := New(nil, zap.NewNop())

	_, err := r.Split(context.Background(), "ghost", []string{"m1"})
	assert.Error(t, err)
}

// flakyJournal fails a set number of appends before recovering.
type flakyJournal struct {
	recordingJournal
	failures int32
}

func (j *flakyJournal) AppendClusterEvent(ctx context.Context, ev model.ClusterEvent) error {
	if atomic.AddInt32(&j.failures, -1) >= 0 {
		return fmt.Errorf("journal write failed")
	}
	return j.recordingJournal.AppendClusterEvent(ctx, ev)
}

// brokenJournal fails every append.
type brokenJournal struct{}

func (brokenJournal) AppendClusterEvent(ctx context.Context, ev model.ClusterEvent) error {
	return fmt.Errorf("disk full")
}

func TestJournalRetriesTransientFailure(t *testing.T) {
	journal := &flakyJournal{failures: 1}
	r := New(journal, zap.NewNop())

	_, err := r.Assign(context.Background(), "m1", "CHEBI:16243", 0.9)
	require.NoError(t, err)

	assert.Equal(t, []model.ClusterEventKind{model.ClusterCreated, model.ClusterMemberAdd}, journal.kinds())
	assert.Zero(t, r.JournalLapses())
}

func TestJournalLapsesCounted(t *testing.T) {
	r := New(brokenJournal{}, zap.NewNop())

	_, err := r.Assign(context.Background(), "m1", "CHEBI:16243", 0.9)
	require.NoError(t, err)

	// Cluster state committed regardless; the two lost events (created,
	// member add) are accounted for.
	cluster, ok, err := r.Get("CHEBI:16243")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"m1"}, cluster.Members)
	assert.Equal(t, int64(2), r.JournalLapses())
}

func TestGetByIDFollowsMerges(t *testing.T) {
	r := New(nil, zap.NewNop())
	ctx := context.Background()

	a, err := r.Assign(ctx, "m1", "a", 0.9)
	require.NoError(t, err)
	b, err := r.Assign(ctx, "m2", "b", 0.5)
	require.NoError(t, err)

	merged, err := r.Merge(ctx, "a", "b")
	require.NoError(t, err)

	// Looking up the absorbed cluster's id lands on the survivor.
	viaAbsorbed, ok, err := r.GetByID(b.ClusterID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, merged.ClusterID, viaAbsorbed.ClusterID)
	assert.Equal(t, a.ClusterID, merged.ClusterID)
}
