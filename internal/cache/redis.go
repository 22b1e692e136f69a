package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes.
const (
	redisEntryPrefix = "auditcache:"
	redisTagPrefix   = "auditcachetag:"
)

// redisEntry is the stored record. Expiry is enforced server-side via the
// key TTL, so no timestamp math happens on read.
type redisEntry struct {
	Data         []byte    `json:"data"`
	StoredAt     time.Time `json:"stored_at"`
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
	Tags         []string  `json:"tags,omitempty"`
}

// Redis is the Redis-backed Store. It exists for deployments where several
// engine instances should share one result cache.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewRedis creates a Redis-backed store.
func NewRedis(client *redis.Client, defaultTTL time.Duration) *Redis {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Redis{client: client, defaultTTL: defaultTTL}
}

// Get implements Store. Access bookkeeping is written back with KEEPTTL so a
// hit never extends the entry's lifetime.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var e redisEntry
	if unmarshalErr := json.Unmarshal(raw, &e); unmarshalErr != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", unmarshalErr)
	}

	e.AccessCount++
	e.LastAccessed = time.Now()
	if updated, marshalErr := json.Marshal(&e); marshalErr == nil {
		r.client.Set(ctx, redisEntryPrefix+key, updated, redis.KeepTTL)
	}

	return e.Data, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	e := redisEntry{
		Data:         value,
		StoredAt:     time.Now(),
		LastAccessed: time.Now(),
		Tags:         tags,
	}
	raw, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if setErr := r.client.Set(ctx, redisEntryPrefix+key, raw, ttl).Err(); setErr != nil {
		return fmt.Errorf("cache set: %w", setErr)
	}
	for _, tag := range tags {
		if sErr := r.client.SAdd(ctx, redisTagPrefix+tag, key).Err(); sErr != nil {
			return fmt.Errorf("record tag %s: %w", tag, sErr)
		}
	}
	return nil
}

// InvalidateByTags implements Store.
func (r *Redis) InvalidateByTags(ctx context.Context, tags []string) (int, error) {
	seen := make(map[string]struct{})
	for _, tag := range tags {
		members, err := r.client.SMembers(ctx, redisTagPrefix+tag).Result()
		if err != nil {
			return len(seen), fmt.Errorf("read tag %s: %w", tag, err)
		}
		for _, key := range members {
			seen[key] = struct{}{}
		}
		r.client.Del(ctx, redisTagPrefix+tag)
	}

	removed := 0
	for key := range seen {
		n, err := r.client.Del(ctx, redisEntryPrefix+key).Result()
		if err != nil {
			return removed, fmt.Errorf("delete %s: %w", key, err)
		}
		removed += int(n)
	}
	return removed, nil
}

// InvalidateByPattern implements Store. Keys are scanned and matched against
// the regular expression with the store prefix stripped.
func (r *Redis) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}

	removed := 0
	iter := r.client.Scan(ctx, 0, redisEntryPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), redisEntryPrefix)
		if re.MatchString(key) {
			n, delErr := r.client.Del(ctx, iter.Val()).Result()
			if delErr != nil {
				return removed, fmt.Errorf("delete %s: %w", key, delErr)
			}
			removed += int(n)
		}
	}
	if iterErr := iter.Err(); iterErr != nil {
		return removed, fmt.Errorf("scan cache keys: %w", iterErr)
	}
	return removed, nil
}

// Sweep implements Store. Redis expires entries server-side, so there is
// nothing to remove here.
func (r *Redis) Sweep(context.Context) (int, error) {
	return 0, nil
}
