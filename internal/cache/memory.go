package cache

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/pitabwire/util"
)

const defaultSweepInterval = 5 * time.Minute

// entry is one cached record with its bookkeeping.
type entry struct {
	Data         []byte
	Timestamp    time.Time
	TTL          time.Duration
	AccessCount  int
	LastAccessed time.Time
	Tags         []string
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

// Memory is the in-memory Store. All map access happens under one mutex;
// reads mutate access bookkeeping so there is no read/write split.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*entry
	defaultTTL time.Duration

	sweepStop chan struct{}
	sweepOnce sync.Once

	now func() time.Time
}

// NewMemory creates an in-memory store with the given default TTL.
func NewMemory(defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Memory{
		entries:    make(map[string]*entry),
		defaultTTL: defaultTTL,
		sweepStop:  make(chan struct{}),
		now:        time.Now,
	}
}

// Get implements Store. Expiry is checked before returning; an expired entry
// is evicted and reported absent. Hits bump AccessCount and LastAccessed but
// never extend the TTL.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	now := m.now()
	if e.expired(now) {
		delete(m.entries, key)
		return nil, false, nil
	}
	e.AccessCount++
	e.LastAccessed = now
	return e.Data, true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &entry{
		Data:         value,
		Timestamp:    m.now(),
		TTL:          ttl,
		LastAccessed: m.now(),
		Tags:         append([]string(nil), tags...),
	}
	return nil
}

// InvalidateByTags implements Store.
func (m *Memory) InvalidateByTags(_ context.Context, tags []string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	wanted := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		wanted[t] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		for _, t := range e.Tags {
			if _, ok := wanted[t]; ok {
				delete(m.entries, key)
				removed++
				break
			}
		}
	}
	return removed, nil
}

// InvalidateByPattern implements Store.
func (m *Memory) InvalidateByPattern(_ context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if re.MatchString(key) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Sweep implements Store, removing all logically-expired entries.
func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// StartSweeper launches a background goroutine sweeping expired entries at
// the given interval until Stop is called.
func (m *Memory) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, _ := m.Sweep(ctx)
				if removed > 0 {
					util.Log(ctx).Debug("cache sweep", "removed", removed)
				}
			case <-m.sweepStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the sweeper goroutine.
func (m *Memory) Stop() {
	m.sweepOnce.Do(func() { close(m.sweepStop) })
}

// Len returns the number of physically present entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
