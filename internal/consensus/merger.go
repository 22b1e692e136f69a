// Package consensus fuses per-reviewer findings into one ranked,
// deduplicated result. Findings from different reviewers that share an
// identity key are treated as the same underlying issue; each group's score
// combines weighted confidence, agreement ratio, and an outlier penalty.
package consensus

import (
	"fmt"
	"math"
	"sort"

	"github.com/auditmesh/consensus/internal/audit"
)

// Outlier penalty parameters: groups whose raw confidences spread wider
// than sigmaThreshold are penalized proportionally.
const (
	sigmaThreshold = 0.2
	sigmaPenalty   = 0.3
)

// ReviewerFindings is one reviewer's contribution to the merge.
type ReviewerFindings struct {
	ReviewerID string
	Findings   []audit.Finding
}

// Result is the merge output.
type Result struct {
	MergedFindings []audit.Finding
	ConsensusScore float64
}

// Merger computes consensus. The merge is pure: for fixed inputs and a
// fixed weight table, repeated runs produce identical output.
type Merger struct {
	weights WeightTable
}

// NewMerger creates a merger with the given weight table.
func NewMerger(weights WeightTable) *Merger {
	return &Merger{weights: weights}
}

// Merge groups findings across reviewers and produces one merged finding
// per group. reviewersRan lists the reviewers that actually produced
// output; it is the denominator of the agreement ratio.
func (m *Merger) Merge(inputs []ReviewerFindings, reviewersRan []string) *Result {
	groups := make(map[string][]audit.Finding)
	for _, input := range inputs {
		for _, f := range input.Findings {
			f = f.Clone()
			if f.ReviewerID == "" {
				f.ReviewerID = input.ReviewerID
			}
			key := groupKey(&f)
			groups[key] = append(groups[key], f)
		}
	}

	if len(groups) == 0 || len(reviewersRan) == 0 {
		return &Result{MergedFindings: []audit.Finding{}, ConsensusScore: 0}
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := &Result{MergedFindings: make([]audit.Finding, 0, len(keys))}
	total := 0.0
	for _, key := range keys {
		merged, score := m.mergeGroup(key, groups[key], len(reviewersRan))
		result.MergedFindings = append(result.MergedFindings, merged)
		total += score
	}
	result.ConsensusScore = total / float64(len(keys))
	return result
}

// mergeGroup collapses one identity group into a single consensus finding.
func (m *Merger) mergeGroup(key string, group []audit.Finding, reviewersRan int) (audit.Finding, float64) {
	var sumWeight, sumWeighted float64
	confidences := make([]float64, len(group))
	for i, f := range group {
		w := m.weights.Weight(f.ReviewerID)
		sumWeight += w
		sumWeighted += f.ConfidenceScore * w
		confidences[i] = f.ConfidenceScore
	}

	avgConfidence := sumWeighted / sumWeight
	agreementRatio := float64(len(group)) / float64(reviewersRan)

	sigma := populationStdDev(confidences)
	penalty := 0.0
	if sigma > sigmaThreshold {
		penalty = (sigma - sigmaThreshold) * sigmaPenalty
	}

	score := clamp01(avgConfidence * agreementRatio * (1 - penalty))

	base := m.pickBase(group)
	merged := base.Clone()
	merged.ID = "consensus-" + key
	merged.ConfidenceScore = score
	merged.Severity = majoritySeverity(group, base.Severity)
	merged.Evidence = unionSorted(group, func(f audit.Finding) []string { return f.Evidence })
	merged.RiskCategories = unionSorted(group, func(f audit.Finding) []string { return f.RiskCategories })
	merged.ComplianceViolations = unionSorted(group, func(f audit.Finding) []string { return f.ComplianceViolations })
	merged.Consensus = &audit.ConsensusMetadata{
		ModelsAgreed:       len(group),
		TotalModels:        reviewersRan,
		AgreementRatio:     agreementRatio,
		OutlierPenalty:     penalty,
		WeightedConfidence: avgConfidence,
	}

	return merged, score
}

// pickBase selects the group's highest weighted-confidence finding. Exact
// ties break lexicographically on reviewer id so the merge is
// order-independent.
func (m *Merger) pickBase(group []audit.Finding) audit.Finding {
	best := group[0]
	bestScore := best.ConfidenceScore * m.weights.Weight(best.ReviewerID)
	for _, f := range group[1:] {
		score := f.ConfidenceScore * m.weights.Weight(f.ReviewerID)
		switch {
		case score > bestScore:
			best, bestScore = f, score
		case score == bestScore && f.ReviewerID < best.ReviewerID:
			best = f
		}
	}
	return best
}

// majoritySeverity votes across the group's raw severities; a tied vote
// keeps the base finding's severity.
func majoritySeverity(group []audit.Finding, base audit.Severity) audit.Severity {
	votes := make(map[audit.Severity]int)
	for _, f := range group {
		votes[f.Severity]++
	}

	max := 0
	for _, count := range votes {
		if count > max {
			max = count
		}
	}

	var winners []audit.Severity
	for severity, count := range votes {
		if count == max {
			winners = append(winners, severity)
		}
	}
	if len(winners) == 1 {
		return winners[0]
	}
	return base
}

// groupKey is the identity key findings are grouped on.
func groupKey(f *audit.Finding) string {
	file, line := "", 0
	if f.Location != nil {
		file, line = f.Location.File, f.Location.Line
	}
	return fmt.Sprintf("%s|%s|%d", f.Type, file, line)
}

// unionSorted is the deterministic set union of a string field across the
// group.
func unionSorted(group []audit.Finding, field func(audit.Finding) []string) []string {
	seen := make(map[string]struct{})
	for _, f := range group {
		for _, s := range field(f) {
			seen[s] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
