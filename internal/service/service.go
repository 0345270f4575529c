package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/ellbridge/internal/adapt"
	"github.com/kalambet/ellbridge/internal/backend"
	"github.com/kalambet/ellbridge/internal/cache"
	"github.com/kalambet/ellbridge/internal/composer"
	"github.com/kalambet/ellbridge/internal/dispatch"
	"github.com/kalambet/ellbridge/internal/ratelimit"
)

// RateLimitedError reports a rejected admission and when the client may
// retry.
type RateLimitedError struct {
	ResetTime time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.ResetTime.UTC().Format(time.RFC3339))
}

// Options selects the backend for one adaptation.
type Options struct {
	Backend       dispatch.Target
	AllowFallback bool
}

// Outcome is the result of one adaptation and how it was produced.
type Outcome struct {
	Result    adapt.Result
	Cached    bool
	Backend   string
	FellBack  bool
	RateLimit ratelimit.Result
}

// Config tunes the service.
type Config struct {
	Policy       ratelimit.Policy
	Unidentified ratelimit.UnidentifiedPolicy
	// Fallback enables re-issuing failed primary calls to the secondary.
	Fallback bool
}

// Service runs adaptations through the fixed sequence: cache lookup,
// rate-limit admission, backend dispatch, cache write.
type Service struct {
	cache      *cache.Cache
	limiter    *ratelimit.Limiter
	controller *dispatch.Controller
	composer   *composer.Composer
	cfg        Config
	logger     *slog.Logger
}

// New creates a Service.
func New(c *cache.Cache, l *ratelimit.Limiter, ctrl *dispatch.Controller, comp *composer.Composer, cfg Config, logger *slog.Logger) *Service {
	if cfg.Policy.MaxRequests <= 0 || cfg.Policy.Window <= 0 {
		cfg.Policy = ratelimit.DefaultPolicy()
	}
	if cfg.Unidentified == "" {
		cfg.Unidentified = ratelimit.UnidentifiedShare
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:      c,
		limiter:    l,
		controller: ctrl,
		composer:   comp,
		cfg:        cfg,
		logger:     logger.With("component", "service"),
	}
}

// Adapt produces an adaptation for req on behalf of identity. A cache hit
// consumes no rate-limit budget. identityKnown=false applies the
// configured policy for unidentified clients.
func (s *Service) Adapt(ctx context.Context, identity string, identityKnown bool, req adapt.Request, opts Options) (Outcome, error) {
	msgs, err := s.composer.Compose(req)
	if err != nil {
		return Outcome{}, err
	}

	key := cache.ComputeKey(req)
	if res, ok := s.cache.Get(key); ok {
		s.logger.Debug("cache hit", "key", key)
		return Outcome{Result: res, Cached: true}, nil
	}

	rl, err := s.admit(identity, identityKnown)
	if err != nil {
		return Outcome{RateLimit: rl}, err
	}

	policy := dispatch.Policy{
		Backend:      opts.Backend,
		AllowReroute: true,
		MaxTokens:    req.MaxOutputTokens,
	}
	out, fellBack, err := s.dispatch(ctx, msgs, policy, opts.AllowFallback)
	if err != nil {
		return Outcome{Backend: out.Backend, RateLimit: rl}, err
	}

	s.cache.Put(key, out.Result)
	return Outcome{Result: out.Result, Backend: out.Backend, FellBack: fellBack, RateLimit: rl}, nil
}

// Generate sends caller-built messages through rate-limit admission and
// dispatch, without caching.
func (s *Service) Generate(ctx context.Context, identity string, identityKnown bool, msgs []backend.Message, p dispatch.Policy, allowFallback bool) (Outcome, error) {
	if err := backend.ValidateMessages(msgs); err != nil {
		return Outcome{}, err
	}
	rl, err := s.admit(identity, identityKnown)
	if err != nil {
		return Outcome{RateLimit: rl}, err
	}
	out, fellBack, err := s.dispatch(ctx, msgs, p, allowFallback)
	if err != nil {
		return Outcome{Backend: out.Backend, RateLimit: rl}, err
	}
	return Outcome{Result: out.Result, Backend: out.Backend, FellBack: fellBack, RateLimit: rl}, nil
}

// Admit checks identity against the service's rate-limit policy.
func (s *Service) Admit(identity string, identityKnown bool) (ratelimit.Result, error) {
	return s.admit(identity, identityKnown)
}

func (s *Service) admit(identity string, identityKnown bool) (ratelimit.Result, error) {
	if !identityKnown && s.cfg.Unidentified == ratelimit.UnidentifiedReject {
		res := ratelimit.Result{ResetTime: time.Now().Add(s.cfg.Policy.Window)}
		return res, &RateLimitedError{ResetTime: res.ResetTime}
	}
	res := s.limiter.Allow(identity, s.cfg.Policy)
	if !res.Allowed {
		s.logger.Info("rate limited", "identity", identity, "reset", res.ResetTime)
		return res, &RateLimitedError{ResetTime: res.ResetTime}
	}
	return res, nil
}

// dispatch calls the controller without propagating cancellation, so an
// abandoned request still completes and fills the cache. When allowed and
// configured, a retryable primary failure is re-issued to the secondary.
func (s *Service) dispatch(ctx context.Context, msgs []backend.Message, p dispatch.Policy, allowFallback bool) (dispatch.Outcome, bool, error) {
	ctx = context.WithoutCancel(ctx)

	out, err := s.controller.Adapt(ctx, msgs, p)
	if err == nil {
		return out, false, nil
	}
	if !allowFallback || !s.cfg.Fallback || s.controller.Target(p) == dispatch.Secondary || !backend.ShouldFallback(err) {
		return out, false, err
	}

	s.logger.Warn("primary backend failed, falling back", "backend", out.Backend, "error", err)
	p.Backend = dispatch.Secondary
	fb, err := s.controller.Adapt(ctx, msgs, p)
	return fb, true, err
}
