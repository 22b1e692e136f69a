package cache_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/cache"
)

func baseRequest() *audit.Request {
	return &audit.Request{
		ProjectID: "p1",
		Codebase:  "package main\n\nfunc main() {}\n",
		Targets:   []string{"main.go", "util.go"},
		Language:  "go",
		Options:   audit.Options{Depth: audit.DepthStandard},
	}
}

func TestKey_Deterministic(t *testing.T) {
	a := cache.Key(baseRequest())
	b := cache.Key(baseRequest())
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "audit:p1:go:standard:"), "key %q", a)
}

func TestKey_TargetOrderIrrelevant(t *testing.T) {
	r1 := baseRequest()
	r2 := baseRequest()
	r2.Targets = []string{"util.go", "main.go"}
	assert.Equal(t, cache.Key(r1), cache.Key(r2))
}

func TestKey_DiffersOnInputs(t *testing.T) {
	base := cache.Key(baseRequest())

	tests := []struct {
		name   string
		mutate func(*audit.Request)
	}{
		{"project", func(r *audit.Request) { r.ProjectID = "p2" }},
		{"codebase", func(r *audit.Request) { r.Codebase = "different code" }},
		{"language", func(r *audit.Request) { r.Language = "python" }},
		{"depth", func(r *audit.Request) { r.Options.Depth = audit.DepthDeep }},
		{"targets", func(r *audit.Request) { r.Targets = []string{"other.go"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := baseRequest()
			tt.mutate(r)
			assert.NotEqual(t, base, cache.Key(r))
		})
	}
}

func TestKey_EmptyDepthIsStandard(t *testing.T) {
	r1 := baseRequest()
	r1.Options.Depth = ""
	r2 := baseRequest()
	r2.Options.Depth = audit.DepthStandard
	assert.Equal(t, cache.Key(r1), cache.Key(r2))
}

func TestTags(t *testing.T) {
	tags := cache.Tags(baseRequest())
	assert.ElementsMatch(t, []string{"project:p1", "language:go", "depth:standard"}, tags)

	r := baseRequest()
	r.Language = ""
	assert.Contains(t, cache.Tags(r), "language:unknown")
}
