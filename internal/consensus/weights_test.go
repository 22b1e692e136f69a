package consensus_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmesh/consensus/internal/consensus"
)

func TestWeightTable_Lookup(t *testing.T) {
	table := consensus.WeightTable{
		Default: 0.6,
		Reviewers: map[string]float64{
			"known":     0.9,
			"zero":      0,
			"oversized": 1.5,
		},
	}

	assert.InDelta(t, 0.9, table.Weight("known"), 1e-9)
	assert.InDelta(t, 0.6, table.Weight("unknown"), 1e-9)
	assert.InDelta(t, 0.6, table.Weight("zero"), 1e-9, "out-of-range weights fall back to default")
	assert.InDelta(t, 0.6, table.Weight("oversized"), 1e-9)
}

func TestWeightTable_ZeroValueStillUsable(t *testing.T) {
	var table consensus.WeightTable
	assert.InDelta(t, 0.5, table.Weight("anyone"), 1e-9)
}

func TestDefaultWeights(t *testing.T) {
	table := consensus.DefaultWeights()
	assert.InDelta(t, 0.9, table.Weight("security-specialist"), 1e-9)
	assert.InDelta(t, 0.5, table.Weight("brand-new-reviewer"), 1e-9)
}

func TestLoadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	content := "default: 0.45\nreviewers:\n  reviewer-a: 0.4\n  reviewer-b: 0.3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := consensus.LoadWeights(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, table.Weight("reviewer-a"), 1e-9)
	assert.InDelta(t, 0.45, table.Weight("someone-else"), 1e-9)
}

func TestLoadWeights_Errors(t *testing.T) {
	_, err := consensus.LoadWeights(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reviewers: ["), 0o644))
	_, err = consensus.LoadWeights(path)
	assert.Error(t, err)
}
