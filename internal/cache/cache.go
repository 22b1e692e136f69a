// Package cache provides the audit result cache: deterministic request
// fingerprinting plus TTL-bound stores with tag and pattern invalidation.
// Two stores exist, an in-memory map (the default) and a Redis-backed one.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/auditmesh/consensus/internal/audit"
)

// codebasePrefixLen bounds how much of the codebase feeds the fingerprint.
const codebasePrefixLen = 1000

// Store is a TTL cache for serialized audit results. Entries are logically
// expired once their TTL elapses and must be treated as absent even if still
// physically present.
type Store interface {
	// Get returns the cached value for key, or absent. A hit updates the
	// entry's access bookkeeping without extending its TTL.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A non-positive ttl selects the store's
	// default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error

	// InvalidateByTags removes every entry carrying any of the given tags
	// and returns how many entries were removed.
	InvalidateByTags(ctx context.Context, tags []string) (int, error)

	// InvalidateByPattern removes every entry whose key matches the regular
	// expression and returns how many entries were removed.
	InvalidateByPattern(ctx context.Context, pattern string) (int, error)

	// Sweep removes all logically-expired entries.
	Sweep(ctx context.Context) (int, error)
}

// Key derives the deterministic cache key for a request. Semantically
// identical requests collide; differing ones do not. The key keeps a
// readable project/language/depth prefix so pattern invalidation can target
// slices of the cache.
func Key(req *audit.Request) string {
	codebase := req.Codebase
	if len(codebase) > codebasePrefixLen {
		codebase = codebase[:codebasePrefixLen]
	}

	targets := append([]string(nil), req.Targets...)
	sort.Strings(targets)

	depth := req.Options.Depth.OrDefault()

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s",
		req.ProjectID, codebase, req.Language, depth, strings.Join(targets, ","))
	digest := hex.EncodeToString(h.Sum(nil))[:16]

	return fmt.Sprintf("audit:%s:%s:%s:%s", req.ProjectID, normalizeSegment(req.Language), depth, digest)
}

// Tags derives the invalidation tags stored alongside a request's entry.
func Tags(req *audit.Request) []string {
	return []string{
		"project:" + req.ProjectID,
		"language:" + normalizeSegment(req.Language),
		"depth:" + string(req.Options.Depth.OrDefault()),
	}
}

func normalizeSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s)
}
