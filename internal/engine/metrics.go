package engine

import "sync"

// Metrics holds the engine's running counters. Counters only move forward;
// nothing here is ever rolled back.
type Metrics struct {
	mu                    sync.Mutex
	totalAudits           int64
	successfulAudits      int64
	failedAudits          int64
	totalFindings         int64
	averageConsensusScore float64
	totalComputeCost      float64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalAudits           int64   `json:"total_audits"`
	SuccessfulAudits      int64   `json:"successful_audits"`
	FailedAudits          int64   `json:"failed_audits"`
	TotalFindings         int64   `json:"total_findings"`
	AverageConsensusScore float64 `json:"average_consensus_score"`
	TotalComputeCost      float64 `json:"total_compute_cost"`
}

func (m *Metrics) auditAccepted() {
	m.mu.Lock()
	m.totalAudits++
	m.mu.Unlock()
}

// recordSuccess folds one completed audit into the counters. The consensus
// average updates incrementally so it never needs a history.
func (m *Metrics) recordSuccess(consensusScore float64, findings int, costUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.successfulAudits++
	m.averageConsensusScore += (consensusScore - m.averageConsensusScore) / float64(m.successfulAudits)
	m.totalFindings += int64(findings)
	m.totalComputeCost += costUSD
}

func (m *Metrics) recordFailure() {
	m.mu.Lock()
	m.failedAudits++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MetricsSnapshot{
		TotalAudits:           m.totalAudits,
		SuccessfulAudits:      m.successfulAudits,
		FailedAudits:          m.failedAudits,
		TotalFindings:         m.totalFindings,
		AverageConsensusScore: m.averageConsensusScore,
		TotalComputeCost:      m.totalComputeCost,
	}
}
