package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kalambet/ellbridge/internal/adapt"
)

const (
	// DefaultTTL is how long an entry stays servable after insertion.
	DefaultTTL = 24 * time.Hour
	// DefaultCapacity bounds the number of live entries.
	DefaultCapacity = 5
	// KeyPrefix marks fingerprint keys in the persisted key/value layout.
	KeyPrefix = "adapt_cache_"

	contentPrefixRunes = 1000
)

// Entry is one memoized adaptation.
type Entry struct {
	Key       string
	Result    adapt.Result
	CreatedAt time.Time
}

// Persister mirrors cache entries into a key/value store. Implementations
// may fail freely; the cache treats every error as a miss or a no-op.
type Persister interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache is a content-addressed, TTL-bounded, insertion-ordered store of
// adaptation results.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]Entry
	order    []string // oldest first
	ttl      time.Duration
	capacity int
	now      func() time.Time
	persist  Persister
	logger   *slog.Logger
	stats    Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithPersister enables write-through persistence.
func WithPersister(p Persister) Option {
	return func(c *Cache) { c.persist = p }
}

// WithLogger sets the logger used for swallowed persistence errors.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]Entry),
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.capacity <= 0 {
		c.capacity = DefaultCapacity
	}
	return c
}

// ComputeKey derives the fingerprint of the semantically relevant fields
// of r. It is a 32-bit rolling hash: collisions are possible and only
// ever serve a wrong cached text.
func ComputeKey(r adapt.Request) string {
	content := []rune(r.Content)
	if len(content) > contentPrefixRunes {
		content = content[:contentPrefixRunes]
	}
	canonical := fmt.Sprintf("%s|%s|%s|%s|%t|%s",
		string(content), r.Subject, r.ProficiencyLevel, r.MaterialType, r.BilingualSupport, r.NativeLanguage)

	var h int32
	for _, ch := range canonical {
		h = h*31 + int32(ch)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return KeyPrefix + strconv.FormatInt(n, 36)
}

// Get returns the live result for key. Expired entries are removed.
func (c *Cache) Get(key string) (adapt.Result, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return adapt.Result{}, false
	}
	if c.now().Sub(e.CreatedAt) >= c.ttl {
		c.removeLocked(key)
		c.stats.Misses++
		c.mu.Unlock()
		c.unpersist(key)
		return adapt.Result{}, false
	}
	c.stats.Hits++
	c.mu.Unlock()
	return e.Result, true
}

// Put stores result under key, evicting the oldest insertions first when
// the cache is full. Re-putting a key moves it to the newest position.
func (c *Cache) Put(key string, result adapt.Result) {
	e := Entry{Key: key, Result: result, CreatedAt: c.now()}

	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}
	var evicted []string
	for len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.removeLocked(oldest)
		c.stats.Evictions++
		evicted = append(evicted, oldest)
	}
	c.entries[key] = e
	c.order = append(c.order, key)
	c.mu.Unlock()

	for _, k := range evicted {
		c.unpersist(k)
	}
	c.save(e)
}

// Len returns the number of stored entries, including not yet purged
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.order)
	return s
}

// Clear drops every entry, including persisted copies.
func (c *Cache) Clear() {
	c.mu.Lock()
	keys := c.order
	c.entries = make(map[string]Entry)
	c.order = nil
	c.mu.Unlock()

	for _, k := range keys {
		c.unpersist(k)
	}
}

// Load warms the cache from the persister. Entries are inserted in
// creation order, so capacity and TTL rules apply as if they had been
// put live.
func (c *Cache) Load(ctx context.Context) int {
	if c.persist == nil {
		return 0
	}
	raw, err := c.persist.List(ctx, KeyPrefix)
	if err != nil {
		c.logger.Warn("cache load failed", "error", err)
		return 0
	}

	loaded := make([]Entry, 0, len(raw))
	for key, data := range raw {
		var rec persistedEntry
		if err := json.Unmarshal(data, &rec); err != nil {
			c.logger.Warn("skipping unreadable cache entry", "key", key, "error", err)
			continue
		}
		loaded = append(loaded, Entry{Key: key, Result: rec.Result, CreatedAt: time.UnixMilli(rec.Timestamp)})
	}
	sort.Slice(loaded, func(i, j int) bool {
		return loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
	})

	now := c.now()
	var dropped []string
	c.mu.Lock()
	n := 0
	for _, e := range loaded {
		if now.Sub(e.CreatedAt) >= c.ttl {
			dropped = append(dropped, e.Key)
			continue
		}
		if _, ok := c.entries[e.Key]; ok {
			c.removeLocked(e.Key)
		}
		for len(c.order) >= c.capacity {
			dropped = append(dropped, c.order[0])
			c.removeLocked(c.order[0])
		}
		c.entries[e.Key] = e
		c.order = append(c.order, e.Key)
		n++
	}
	c.mu.Unlock()

	// Records not kept in memory leave the store too.
	for _, k := range dropped {
		c.unpersist(k)
	}
	return n
}

func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// persistedEntry is the {result, timestamp} record layout.
type persistedEntry struct {
	Result    adapt.Result `json:"result"`
	Timestamp int64        `json:"timestamp"`
}

func (c *Cache) save(e Entry) {
	if c.persist == nil {
		return
	}
	data, err := json.Marshal(persistedEntry{Result: e.Result, Timestamp: e.CreatedAt.UnixMilli()})
	if err != nil {
		c.logger.Warn("cache entry not persisted", "key", e.Key, "error", err)
		return
	}
	if err := c.persist.Set(context.Background(), e.Key, data); err != nil {
		c.logger.Warn("cache entry not persisted", "key", e.Key, "error", err)
	}
}

func (c *Cache) unpersist(key string) {
	if c.persist == nil {
		return
	}
	if err := c.persist.Delete(context.Background(), key); err != nil {
		c.logger.Warn("cache entry not removed from store", "key", key, "error", err)
	}
}
