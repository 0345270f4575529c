package perf

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const (
	// MaxRecords bounds the in-memory log; the oldest record is dropped first.
	MaxRecords = 50
	// SlowThreshold flags operations at or above this duration.
	SlowThreshold = 30 * time.Second
	// StoreKey is the key under which the log is persisted.
	StoreKey = "performance_metrics"
)

// Record is one completed timing.
type Record struct {
	Operation  string            `json:"operation"`
	DurationMs int64             `json:"duration"`
	Timestamp  string            `json:"timestamp"`
	Tags       map[string]string `json:"tags,omitempty"`
	Slow       bool              `json:"slow,omitempty"`
}

// Store persists the serialized log. Errors are logged and ignored.
type Store interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// Recorder measures named operations and keeps a bounded log of the
// results. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	started map[string]time.Time
	log     []Record
	now     func() time.Time
	store   Store
	logger  *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithStore persists the log after every completed timing.
func WithStore(s Store) Option {
	return func(r *Recorder) { r.store = s }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// New creates an empty Recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		started: make(map[string]time.Time),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// StartTimer marks the start of op. Restarting a running op resets it.
func (r *Recorder) StartTimer(op string) {
	r.mu.Lock()
	r.started[op] = r.now()
	r.mu.Unlock()
}

// EndTimer completes op and appends a record. It reports false, and
// records nothing, when op was never started or already ended.
func (r *Recorder) EndTimer(op string, tags map[string]string) (Record, bool) {
	end := r.now()

	r.mu.Lock()
	start, ok := r.started[op]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("timer ended without start", "operation", op)
		return Record{}, false
	}
	delete(r.started, op)

	d := end.Sub(start)
	rec := Record{
		Operation:  op,
		DurationMs: d.Milliseconds(),
		Timestamp:  end.UTC().Format(time.RFC3339),
		Tags:       copyTags(tags),
		Slow:       d >= SlowThreshold,
	}
	r.log = append(r.log, rec)
	if len(r.log) > MaxRecords {
		r.log = append([]Record(nil), r.log[len(r.log)-MaxRecords:]...)
	}
	var snapshot []Record
	if r.store != nil {
		snapshot = append([]Record(nil), r.log...)
	}
	r.mu.Unlock()

	if rec.Slow {
		r.logger.Warn("slow operation", "operation", op, "duration_ms", rec.DurationMs)
	} else {
		r.logger.Debug("operation timed", "operation", op, "duration_ms", rec.DurationMs)
	}
	if snapshot != nil {
		r.persist(snapshot)
	}
	return rec, true
}

// Time runs fn between StartTimer and EndTimer. Tags returned by fn are
// attached to the record.
func (r *Recorder) Time(op string, fn func() map[string]string) Record {
	r.StartTimer(op)
	tags := fn()
	rec, _ := r.EndTimer(op, tags)
	return rec
}

// Records returns a copy of the log, oldest first.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.log...)
}

// Pending returns the number of started, not yet ended operations.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

// Load restores a previously persisted log, keeping at most MaxRecords.
func (r *Recorder) Load(ctx context.Context) int {
	if r.store == nil {
		return 0
	}
	recs, err := ReadStored(ctx, r.store)
	if err != nil {
		r.logger.Warn("metrics log not restored", "error", err)
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(recs, r.log...)
	if len(r.log) > MaxRecords {
		r.log = append([]Record(nil), r.log[len(r.log)-MaxRecords:]...)
	}
	return len(r.log)
}

// ReadStored decodes the log persisted in s. A missing key yields an
// empty log.
func ReadStored(ctx context.Context, s Store) ([]Record, error) {
	data, ok, err := s.Get(ctx, StoreKey)
	if err != nil || !ok {
		return nil, err
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *Recorder) persist(recs []Record) {
	data, err := json.Marshal(recs)
	if err != nil {
		r.logger.Warn("metrics log not persisted", "error", err)
		return
	}
	if err := r.store.Set(context.Background(), StoreKey, data); err != nil {
		r.logger.Warn("metrics log not persisted", "error", err)
	}
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
