package consensus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultReviewerWeight applies to reviewer ids absent from the table.
const defaultReviewerWeight = 0.5

// WeightTable maps reviewer ids to reliability weights in (0,1]. Weights
// are a design input, not learned at runtime; new reviewer ids need a table
// update, never a code change.
type WeightTable struct {
	Default   float64            `yaml:"default"`
	Reviewers map[string]float64 `yaml:"reviewers"`
}

// DefaultWeights returns the built-in reliability table.
func DefaultWeights() WeightTable {
	return WeightTable{
		Default: defaultReviewerWeight,
		Reviewers: map[string]float64{
			"security-specialist":  0.9,
			"vulnerability-hunter": 0.8,
			"code-quality":         0.7,
			"compliance-checker":   0.7,
			"heuristic":            0.4,
		},
	}
}

// LoadWeights reads a weight table from a YAML file, filling gaps from the
// built-in defaults.
func LoadWeights(path string) (WeightTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WeightTable{}, fmt.Errorf("read weight table: %w", err)
	}

	table := WeightTable{}
	if unmarshalErr := yaml.Unmarshal(data, &table); unmarshalErr != nil {
		return WeightTable{}, fmt.Errorf("parse weight table: %w", unmarshalErr)
	}
	if table.Default <= 0 || table.Default > 1 {
		table.Default = defaultReviewerWeight
	}
	if table.Reviewers == nil {
		table.Reviewers = map[string]float64{}
	}
	return table, nil
}

// Weight returns the reliability weight for a reviewer id. Unknown ids and
// out-of-range entries get the default.
func (w WeightTable) Weight(reviewerID string) float64 {
	if weight, ok := w.Reviewers[reviewerID]; ok && weight > 0 && weight <= 1 {
		return weight
	}
	if w.Default > 0 && w.Default <= 1 {
		return w.Default
	}
	return defaultReviewerWeight
}
