package core

import (
	"sync"
)

// Metrics counts resolution outcomes for observability. Values are
// monotonic since process start.
type Metrics struct {
	mu sync.Mutex

	autoResolved      int64
	consensusResolved int64
	conflicted        int64
	unresolved        int64
	degraded          int64

	confidenceSum   float64
	confidenceCount int64

	// agreement distribution over consensus resolutions
	agreementBuckets [5]int64 // [0,.5) [.5,.66) [.66,.8) [.8,.95) [.95,1]
}

// MetricsSnapshot is a point-in-time copy for reporting.
type MetricsSnapshot struct {
	AutoResolved      int64   `json:"auto_resolved"`
	ConsensusResolved int64   `json:"consensus_resolved"`
	Conflicted        int64   `json:"conflicted"`
	Unresolved        int64   `json:"unresolved"`
	Degraded          int64   `json:"degraded"`
	MeanConfidence    float64 `json:"mean_confidence"`
	AgreementBuckets  []int64 `json:"agreement_buckets"`
}

func (m *Metrics) recordResolved(consensus, degraded bool, confidence, agreement float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if degraded {
		m.degraded++
	} else if consensus {
		m.consensusResolved++
		m.agreementBuckets[agreementBucket(agreement)]++
	} else {
		m.autoResolved++
	}
	m.confidenceSum += confidence
	m.confidenceCount++
}

func (m *Metrics) recordConflicted() {
	m.mu.Lock()
	m.conflicted++
	m.mu.Unlock()
}

func (m *Metrics) recordUnresolved() {
	m.mu.Lock()
	m.unresolved++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	mean := 0.0
	if m.confidenceCount > 0 {
		mean = m.confidenceSum / float64(m.confidenceCount)
	}
	buckets := make([]int64, len(m.agreementBuckets))
	copy(buckets, m.agreementBuckets[:])

	return MetricsSnapshot{
		AutoResolved:      m.autoResolved,
		ConsensusResolved: m.consensusResolved,
		Conflicted:        m.conflicted,
		Unresolved:        m.unresolved,
		Degraded:          m.degraded,
		MeanConfidence:    mean,
		AgreementBuckets:  buckets,
	}
}

func agreementBucket(a float64) int {
	switch {
	case a < 0.5:
		return 0
	case a < 0.66:
		return 1
	case a < 0.8:
		return 2
	case a < 0.95:
		return 3
	default:
		return 4
	}
}
