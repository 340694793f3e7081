// Package community groups concept clusters that share relationship
// evidence. The consistency checker uses these groups to extend its checks
// beyond a single cluster: facts about related clusters can contradict a new
// fact just as same-cluster facts can.
package community

import "sort"

// FactEdge links the subject cluster of an accepted fact to the cluster of
// its object concept. Undirected for grouping purposes.
type FactEdge struct {
	From string
	To   string
}

// Detector partitions clusters into related groups.
type Detector interface {
	Detect(clusterIDs []string, edges []FactEdge) [][]string
}

// LabelPropagation groups clusters by propagating labels across the fact
// graph until they stabilize. Edge weight is the number of facts connecting
// two clusters. Deterministic: ties between equally frequent labels go to
// the lexicographically largest, and output groups are sorted.
type LabelPropagation struct {
	MaxIterations int
}

func NewDetector() *LabelPropagation {
	return &LabelPropagation{MaxIterations: 20}
}

// Detect returns groups of two or more related clusters. Clusters with no
// fact edges stay singletons and are omitted.
func (d *LabelPropagation) Detect(clusterIDs []string, edges []FactEdge) [][]string {
	if len(clusterIDs) == 0 {
		return nil
	}

	known := make(map[string]bool, len(clusterIDs))
	adj := make(map[string]map[string]int, len(clusterIDs))
	for _, id := range clusterIDs {
		known[id] = true
		adj[id] = make(map[string]int)
	}
	for _, e := range edges {
		if !known[e.From] || !known[e.To] || e.From == e.To {
			continue
		}
		adj[e.From][e.To]++
		adj[e.To][e.From]++
	}

	labels := make(map[string]string, len(clusterIDs))
	for _, id := range clusterIDs {
		labels[id] = id
	}

	ordered := append([]string(nil), clusterIDs...)
	sort.Strings(ordered)

	iterations := d.MaxIterations
	if iterations <= 0 {
		iterations = 20
	}

	for iter := 0; iter < iterations; iter++ {
		changed := 0
		for _, id := range ordered {
			neighbors := adj[id]
			if len(neighbors) == 0 {
				continue
			}

			counts := make(map[string]int, len(neighbors))
			max := 0
			for n, weight := range neighbors {
				l := labels[n]
				counts[l] += weight
				if counts[l] > max {
					max = counts[l]
				}
			}

			best := ""
			for l, c := range counts {
				if c == max && l > best {
					best = l
				}
			}
			if labels[id] != best {
				labels[id] = best
				changed++
			}
		}
		if changed == 0 {
			break
		}
	}

	byLabel := make(map[string][]string)
	for id, l := range labels {
		byLabel[l] = append(byLabel[l], id)
	}

	var groups [][]string
	for _, group := range byLabel {
		if len(group) < 2 {
			continue
		}
		sort.Strings(group)
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// Related returns the clusters grouped with clusterID, excluding clusterID
// itself. Empty when the cluster has no relationship evidence tying it to
// others.
func (d *LabelPropagation) Related(clusterID string, clusterIDs []string, edges []FactEdge) []string {
	for _, group := range d.Detect(clusterIDs, edges) {
		for _, id := range group {
			if id != clusterID {
				continue
			}
			out := make([]string, 0, len(group)-1)
			for _, other := range group {
				if other != clusterID {
					out = append(out, other)
				}
			}
			return out
		}
	}
	return nil
}
