package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/ellbridge/internal/adapt"
	"github.com/kalambet/ellbridge/internal/backend"
	"github.com/kalambet/ellbridge/internal/cache"
	"github.com/kalambet/ellbridge/internal/composer"
	"github.com/kalambet/ellbridge/internal/dispatch"
	"github.com/kalambet/ellbridge/internal/ratelimit"
)

type fakeBackend struct {
	mu    sync.Mutex
	name  string
	res   backend.Result
	err   error
	calls int
	ctxs  []context.Context
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{StandardOutputTokens: 4096, MaxOutputTokens: 8192}
}

func (f *fakeBackend) Generate(ctx context.Context, _ []backend.Message, _ backend.GenerateOptions) (backend.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ctxs = append(f.ctxs, ctx)
	return f.res, f.err
}

type fixture struct {
	svc       *Service
	primary   *fakeBackend
	secondary *fakeBackend
	cache     *cache.Cache
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	p := &fakeBackend{name: "anthropic", res: backend.Result{Text: "adapted", InputTokens: 10, OutputTokens: 5}}
	s := &fakeBackend{name: "openai", res: backend.Result{Text: "adapted by openai", InputTokens: 11, OutputTokens: 6}}
	comp, err := composer.New(0)
	if err != nil {
		t.Fatalf("composer.New: %v", err)
	}
	c := cache.New()
	ctrl := dispatch.New(p, s, nil, dispatch.Config{}, nil)
	return &fixture{
		svc:       New(c, ratelimit.New(), ctrl, comp, cfg, nil),
		primary:   p,
		secondary: s,
		cache:     c,
	}
}

func request() adapt.Request {
	return adapt.Request{
		Content:          "Label the parts of a plant.",
		MaterialType:     adapt.MaterialWorksheet,
		Subject:          "Science",
		ProficiencyLevel: adapt.LevelEntering,
	}
}

func TestAdapt_CachesResult(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.svc.Adapt(ctx, "1.2.3.4", true, request(), Options{})
	if err != nil {
		t.Fatalf("first Adapt: %v", err)
	}
	if first.Cached || first.Backend != "anthropic" {
		t.Errorf("first = %+v", first)
	}

	second, err := f.svc.Adapt(ctx, "1.2.3.4", true, request(), Options{})
	if err != nil {
		t.Fatalf("second Adapt: %v", err)
	}
	if !second.Cached || second.Result != first.Result {
		t.Errorf("second = %+v", second)
	}
	if f.primary.calls != 1 {
		t.Errorf("backend calls = %d, want 1", f.primary.calls)
	}
}

func TestAdapt_CacheHitBypassesRateLimit(t *testing.T) {
	f := newFixture(t, Config{Policy: ratelimit.Policy{MaxRequests: 1, Window: time.Minute}})
	ctx := context.Background()

	if _, err := f.svc.Adapt(ctx, "ip", true, request(), Options{}); err != nil {
		t.Fatalf("first Adapt: %v", err)
	}
	for i := 0; i < 5; i++ {
		out, err := f.svc.Adapt(ctx, "ip", true, request(), Options{})
		if err != nil || !out.Cached {
			t.Fatalf("cached Adapt %d: %+v, %v", i, out, err)
		}
	}

	other := request()
	other.Subject = "Biology"
	_, err := f.svc.Adapt(ctx, "ip", true, other, Options{})
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if rl.ResetTime.IsZero() {
		t.Error("reset time missing")
	}
	if f.primary.calls != 1 {
		t.Errorf("backend calls = %d, want 1", f.primary.calls)
	}
}

func TestAdapt_ValidationBeforeAnything(t *testing.T) {
	f := newFixture(t, Config{})
	r := request()
	r.ProficiencyLevel = "native"
	_, err := f.svc.Adapt(context.Background(), "ip", true, r, Options{})
	var ve *adapt.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v", err)
	}
	if f.primary.calls != 0 {
		t.Error("backend called for invalid request")
	}
}

func TestAdapt_FailureNotCached(t *testing.T) {
	f := newFixture(t, Config{})
	f.primary.err = &backend.Error{Backend: "anthropic", StatusCode: 400, Body: "bad"}

	if _, err := f.svc.Adapt(context.Background(), "ip", true, request(), Options{}); err == nil {
		t.Fatal("expected error")
	}
	if f.cache.Len() != 0 {
		t.Error("failed call cached")
	}
}

func TestAdapt_Fallback(t *testing.T) {
	tests := []struct {
		name         string
		cfgFallback  bool
		allow        bool
		primaryErr   error
		wantErr      bool
		wantBackend  string
		wantFellBack bool
	}{
		{"5xx falls back", true, true, &backend.Error{StatusCode: 503}, false, "openai", true},
		{"429 falls back", true, true, &backend.Error{StatusCode: 429}, false, "openai", true},
		{"transport falls back", true, true, &backend.TransportError{Err: errors.New("dial")}, false, "openai", true},
		{"4xx does not", true, true, &backend.Error{StatusCode: 400}, true, "", false},
		{"config error does not", true, true, &backend.ConfigError{Backend: "anthropic", Err: backend.ErrMissingCredential}, true, "", false},
		{"disabled in config", false, true, &backend.Error{StatusCode: 503}, true, "", false},
		{"not requested", true, false, &backend.Error{StatusCode: 503}, true, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{Fallback: tc.cfgFallback})
			f.primary.err = tc.primaryErr

			out, err := f.svc.Adapt(context.Background(), "ip", true, request(), Options{AllowFallback: tc.allow})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				if f.secondary.calls != 0 {
					t.Error("secondary called")
				}
				return
			}
			if out.Backend != tc.wantBackend || out.FellBack != tc.wantFellBack {
				t.Errorf("out = %+v", out)
			}
			if f.cache.Len() != 1 {
				t.Error("fallback result not cached")
			}
		})
	}
}

func TestAdapt_NoCancellationPropagated(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.svc.Adapt(ctx, "ip", true, request(), Options{}); err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if f.primary.ctxs[0].Err() != nil {
		t.Error("backend saw a cancelled context")
	}
	if f.cache.Len() != 1 {
		t.Error("abandoned request did not populate the cache")
	}
}

func TestAdmit_UnidentifiedPolicy(t *testing.T) {
	f := newFixture(t, Config{Unidentified: ratelimit.UnidentifiedReject})
	_, err := f.svc.Generate(context.Background(), ratelimit.Unknown, false,
		[]backend.Message{{Role: backend.RoleUser, Content: "hi"}}, dispatch.Policy{}, false)
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v", err)
	}

	shared := newFixture(t, Config{})
	if _, err := shared.svc.Admit(ratelimit.Unknown, false); err != nil {
		t.Errorf("share policy rejected: %v", err)
	}
}

func TestGenerate_SecondaryRequested(t *testing.T) {
	f := newFixture(t, Config{})
	out, err := f.svc.Generate(context.Background(), "ip", true,
		[]backend.Message{{Role: backend.RoleUser, Content: "hi"}},
		dispatch.Policy{Backend: dispatch.Secondary}, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Backend != "openai" || out.Result.Text != "adapted by openai" {
		t.Errorf("out = %+v", out)
	}
	if out.RateLimit.Remaining != ratelimit.DefaultMaxRequests-1 {
		t.Errorf("Remaining = %d", out.RateLimit.Remaining)
	}
}
