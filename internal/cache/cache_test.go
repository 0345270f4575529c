package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/ellbridge/internal/adapt"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func testRequest(content string) adapt.Request {
	return adapt.Request{
		Content:          content,
		MaterialType:     adapt.MaterialWorksheet,
		Subject:          "Math",
		ProficiencyLevel: adapt.LevelEmerging,
	}
}

func TestComputeKey_Deterministic(t *testing.T) {
	r := testRequest("Add the fractions.")
	k1 := ComputeKey(r)
	k2 := ComputeKey(r)
	if k1 != k2 {
		t.Errorf("same request gave %q and %q", k1, k2)
	}
	if !strings.HasPrefix(k1, KeyPrefix) {
		t.Errorf("key %q missing prefix %q", k1, KeyPrefix)
	}
}

func TestComputeKey_RelevantFields(t *testing.T) {
	base := testRequest("Add the fractions.")
	baseKey := ComputeKey(base)

	variants := map[string]func(r *adapt.Request){
		"content":     func(r *adapt.Request) { r.Content = "Subtract the fractions." },
		"subject":     func(r *adapt.Request) { r.Subject = "Science" },
		"proficiency": func(r *adapt.Request) { r.ProficiencyLevel = adapt.LevelBridging },
		"material":    func(r *adapt.Request) { r.MaterialType = adapt.MaterialTest },
		"bilingual":   func(r *adapt.Request) { r.BilingualSupport = true },
		"language":    func(r *adapt.Request) { r.NativeLanguage = "Arabic" },
	}
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			r := base
			mutate(&r)
			if ComputeKey(r) == baseKey {
				t.Errorf("changing %s did not change the key", name)
			}
		})
	}
}

func TestComputeKey_IgnoresIrrelevantFields(t *testing.T) {
	base := testRequest("Add the fractions.")
	r := base
	r.GradeLevel = "5"
	r.LearningObjectives = "fractions"
	r.MaxOutputTokens = 9000
	if ComputeKey(r) != ComputeKey(base) {
		t.Error("grade level, objectives and token budget must not affect the key")
	}
}

func TestComputeKey_ContentPrefixOnly(t *testing.T) {
	prefix := strings.Repeat("a", contentPrefixRunes)
	r1 := testRequest(prefix + "tail one")
	r2 := testRequest(prefix + "tail two")
	if ComputeKey(r1) != ComputeKey(r2) {
		t.Error("content beyond the prefix must not affect the key")
	}
}

func TestGetPut_RoundTrip(t *testing.T) {
	c := New()
	key := ComputeKey(testRequest("hello"))

	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss before Put")
	}

	want := adapt.Result{Text: "adapted", InputTokens: 10, OutputTokens: 5}
	c.Put(key, want)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestGet_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	c.Put("k", adapt.Result{Text: "x"})

	clock.Advance(DefaultTTL - time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit just before TTL")
	}

	clock.Advance(time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss at TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want expired entry removed", c.Len())
	}
}

func TestPut_CapacityEvictsOldestInsertion(t *testing.T) {
	c := New()
	for i := 0; i < 6; i++ {
		c.Put(fmt.Sprintf("k%d", i), adapt.Result{Text: fmt.Sprint(i)})
		// Reading k0 must not protect it: eviction is by insertion, not access.
		c.Get("k0")
	}

	if c.Len() != DefaultCapacity {
		t.Fatalf("Len = %d, want %d", c.Len(), DefaultCapacity)
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("k0 should have been evicted")
	}
	for i := 1; i < 6; i++ {
		if _, ok := c.Get(fmt.Sprintf("k%d", i)); !ok {
			t.Errorf("k%d should still be cached", i)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestPut_ReplaceMovesToNewest(t *testing.T) {
	c := New(WithCapacity(2))
	c.Put("a", adapt.Result{Text: "a1"})
	c.Put("b", adapt.Result{Text: "b"})
	c.Put("a", adapt.Result{Text: "a2"})
	c.Put("c", adapt.Result{Text: "c"})

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted as the oldest insertion")
	}
	got, ok := c.Get("a")
	if !ok || got.Text != "a2" {
		t.Errorf("Get(a) = %+v, %v; want a2", got, ok)
	}
}

func TestStats(t *testing.T) {
	c := New()
	c.Put("k", adapt.Result{})
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

// memPersister is an in-memory Persister with injectable failure.
type memPersister struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemPersister() *memPersister {
	return &memPersister{data: make(map[string][]byte)}
}

func (m *memPersister) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memPersister) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memPersister) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func (m *memPersister) List(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func TestPersistence_WarmStart(t *testing.T) {
	clock := newFakeClock()
	p := newMemPersister()

	c1 := New(WithClock(clock.Now), WithPersister(p))
	c1.Put(KeyPrefix+"old", adapt.Result{Text: "old"})
	clock.Advance(time.Minute)
	c1.Put(KeyPrefix+"new", adapt.Result{Text: "new"})

	c2 := New(WithClock(clock.Now), WithPersister(p), WithCapacity(1))
	if n := c2.Load(context.Background()); n != 2 {
		t.Fatalf("Load = %d, want 2", n)
	}
	if c2.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after capacity applied", c2.Len())
	}
	got, ok := c2.Get(KeyPrefix + "new")
	if !ok || got.Text != "new" {
		t.Errorf("Get(new) = %+v, %v", got, ok)
	}
	if _, ok := p.data[KeyPrefix+"old"]; ok {
		t.Error("entry evicted during load is still in the store")
	}
	if _, ok := p.data[KeyPrefix+"new"]; !ok {
		t.Error("loaded entry removed from the store")
	}
}

func TestPersistence_SkipsExpired(t *testing.T) {
	clock := newFakeClock()
	p := newMemPersister()

	c1 := New(WithClock(clock.Now), WithPersister(p))
	c1.Put(KeyPrefix+"k", adapt.Result{Text: "x"})
	clock.Advance(25 * time.Hour)

	c2 := New(WithClock(clock.Now), WithPersister(p))
	if n := c2.Load(context.Background()); n != 0 {
		t.Errorf("Load = %d, want 0", n)
	}
	if len(p.data) != 0 {
		t.Errorf("store still holds %d expired entries", len(p.data))
	}
}

func TestPersistence_FailuresDegrade(t *testing.T) {
	p := newMemPersister()
	p.err = errors.New("disk full")

	c := New(WithPersister(p))
	c.Put("k", adapt.Result{Text: "x"})

	got, ok := c.Get("k")
	if !ok || got.Text != "x" {
		t.Errorf("in-memory entry must survive persistence failure, got %+v, %v", got, ok)
	}
	if n := c.Load(context.Background()); n != 0 {
		t.Errorf("Load = %d, want 0 on store failure", n)
	}
}
