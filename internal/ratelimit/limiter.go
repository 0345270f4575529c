package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultMaxRequests is the per-window admission budget.
	DefaultMaxRequests = 5
	// DefaultWindow is the sliding window length.
	DefaultWindow = 60 * time.Second

	janitorInterval = 5 * time.Minute
)

// Policy is the admission budget applied to one route or call path.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultPolicy returns 5 requests per 60 seconds.
func DefaultPolicy() Policy {
	return Policy{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// RetryAfter returns the whole seconds until ResetTime, at least 1.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetTime.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}

// window holds admission timestamps for one identity, oldest first.
type window struct {
	stamps []time.Time
}

// Limiter is a sliding-window admission controller keyed by client
// identity. Idle identities are reclaimed once their window has passed.
type Limiter struct {
	mu      sync.Mutex
	windows *gocache.Cache
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter with no recorded admissions.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows: gocache.New(DefaultWindow, janitorInterval),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Check decides whether identity may make one more request under the
// given budget and records the admission when it may. Timestamps older
// than the window are discarded first.
func (l *Limiter) Check(identity string, maxRequests int, win time.Duration) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.lookup(identity)
	if err != nil {
		// A corrupted window must not lock clients out.
		l.logger.Warn("rate limiter fault, admitting request", "identity", identity, "error", err)
		l.windows.Delete(identity)
		return Result{Allowed: true, Remaining: maxRequests - 1, ResetTime: now.Add(win)}
	}

	cutoff := now.Add(-win)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= maxRequests {
		reset := now.Add(win)
		if len(w.stamps) > 0 {
			reset = w.stamps[0].Add(win)
		}
		l.windows.Set(identity, w, win)
		return Result{Allowed: false, Remaining: 0, ResetTime: reset}
	}

	w.stamps = append(w.stamps, now)
	l.windows.Set(identity, w, win)
	return Result{Allowed: true, Remaining: maxRequests - len(w.stamps), ResetTime: now.Add(win)}
}

// Allow is Check with a Policy.
func (l *Limiter) Allow(identity string, p Policy) Result {
	return l.Check(identity, p.MaxRequests, p.Window)
}

// Tracked returns the number of identities with a live window.
func (l *Limiter) Tracked() int {
	return l.windows.ItemCount()
}

func (l *Limiter) lookup(identity string) (*window, error) {
	v, ok := l.windows.Get(identity)
	if !ok {
		return &window{}, nil
	}
	w, ok := v.(*window)
	if !ok {
		return nil, fmt.Errorf("unexpected window type %T", v)
	}
	return w, nil
}
