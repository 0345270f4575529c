package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/kalambet/ellbridge/internal/adapt"
	"github.com/kalambet/ellbridge/internal/backend"
	"github.com/kalambet/ellbridge/internal/perf"
)

const (
	// DefaultMaxTokens is used when a request carries no budget.
	DefaultMaxTokens = 4000
	// DefaultRerouteAbove is the largest budget the primary serves reliably.
	DefaultRerouteAbove = 8192
)

// Target names one of the two configured backends.
type Target int

const (
	Primary Target = iota
	Secondary
)

func (t Target) String() string {
	if t == Secondary {
		return "secondary"
	}
	return "primary"
}

// Policy selects a backend and carries the output budget for one call.
type Policy struct {
	Backend      Target
	AllowReroute bool
	MaxTokens    int
}

// Config tunes backend selection.
type Config struct {
	RerouteAbove     int
	DefaultMaxTokens int
}

// Outcome is the normalized result plus the backend that produced it.
type Outcome struct {
	Result  adapt.Result
	Backend string
}

// Controller chooses a backend for each call and normalizes its answer.
// It never retries; fallback is the caller's decision.
type Controller struct {
	primary   backend.Backend
	secondary backend.Backend
	recorder  *perf.Recorder
	cfg       Config
	logger    *slog.Logger
}

// New creates a Controller. recorder may be nil.
func New(primary, secondary backend.Backend, recorder *perf.Recorder, cfg Config, logger *slog.Logger) *Controller {
	if cfg.RerouteAbove <= 0 {
		cfg.RerouteAbove = DefaultRerouteAbove
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		primary:   primary,
		secondary: secondary,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.With("component", "dispatch"),
	}
}

// plan is the resolved backend and options for one call.
type plan struct {
	target  Target
	backend backend.Backend
	opts    backend.GenerateOptions
}

func (c *Controller) resolve(p Policy) plan {
	budget := p.MaxTokens
	if budget <= 0 {
		budget = c.cfg.DefaultMaxTokens
	}

	target := p.Backend
	if target == Primary && p.AllowReroute && budget > c.cfg.RerouteAbove {
		target = Secondary
	}

	b := c.primary
	if target == Secondary {
		b = c.secondary
	}
	caps := b.Capabilities()

	opts := backend.GenerateOptions{MaxTokens: budget}
	if target == Primary && budget > caps.StandardOutputTokens {
		opts.Extended = true
	}
	if caps.MaxOutputTokens > 0 && opts.MaxTokens > caps.MaxOutputTokens {
		opts.MaxTokens = caps.MaxOutputTokens
	}
	return plan{target: target, backend: b, opts: opts}
}

// Adapt sends msgs to the backend chosen by p and returns its normalized
// result.
func (c *Controller) Adapt(ctx context.Context, msgs []backend.Message, p Policy) (Outcome, error) {
	pl := c.resolve(p)
	name := pl.backend.Name()

	op := "adapt:" + uuid.NewString()
	if c.recorder != nil {
		c.recorder.StartTimer(op)
	}

	res, err := pl.backend.Generate(ctx, msgs, pl.opts)

	if c.recorder != nil {
		c.recorder.EndTimer(op, map[string]string{
			"backend":    name,
			"target":     pl.target.String(),
			"max_tokens": strconv.Itoa(pl.opts.MaxTokens),
			"extended":   strconv.FormatBool(pl.opts.Extended),
			"success":    strconv.FormatBool(err == nil),
		})
	}

	if err != nil {
		var ce *backend.ConfigError
		if errors.As(err, &ce) {
			c.logger.Error("backend not configured", "backend", name, "error", err)
		} else {
			c.logger.Warn("backend call failed", "backend", name, "error", err)
		}
		return Outcome{Backend: name}, err
	}

	c.logger.Debug("backend call complete",
		"backend", name,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
	)
	return Outcome{
		Result: adapt.Result{
			Text:         res.Text,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
		},
		Backend: name,
	}, nil
}

// Target reports which backend p resolves to.
func (c *Controller) Target(p Policy) Target {
	return c.resolve(p).target
}

// BackendName reports which backend p would use.
func (c *Controller) BackendName(p Policy) string {
	return c.resolve(p).backend.Name()
}
