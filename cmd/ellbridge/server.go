package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ellbridge/internal/api"
	"github.com/kalambet/ellbridge/internal/backend"
	"github.com/kalambet/ellbridge/internal/cache"
	"github.com/kalambet/ellbridge/internal/composer"
	"github.com/kalambet/ellbridge/internal/config"
	"github.com/kalambet/ellbridge/internal/dispatch"
	"github.com/kalambet/ellbridge/internal/errlog"
	"github.com/kalambet/ellbridge/internal/extract"
	"github.com/kalambet/ellbridge/internal/perf"
	"github.com/kalambet/ellbridge/internal/ratelimit"
	"github.com/kalambet/ellbridge/internal/service"
	"github.com/kalambet/ellbridge/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServer(addr)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve adaptation and extraction as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :<server.port>)")
}

// newLogger installs the process-wide slog handler.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger
}

// app is the wired set of components behind both the HTTP and MCP
// surfaces.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store // nil when persistence is disabled
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	recorder  *perf.Recorder
	service   *service.Service
	extractor *extract.Pipeline
	images    *backend.ImageGenerator
	reports   *errlog.Sink
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	perfOpts := []perf.Option{perf.WithLogger(logger)}
	if cfg.Storage.Persist {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store = store
		cacheOpts = append(cacheOpts, cache.WithPersister(store))
		perfOpts = append(perfOpts, perf.WithStore(store))
	}

	a.cache = cache.New(cacheOpts...)
	a.recorder = perf.New(perfOpts...)
	if n := a.cache.Load(ctx); n > 0 {
		logger.Info("cache warmed", "entries", n)
	}
	if n := a.recorder.Load(ctx); n > 0 {
		logger.Debug("metrics log restored", "records", n)
	}

	primary := backend.NewAnthropic(cfg.Anthropic.APIKey, backendOptions(cfg.Anthropic, cfg.Anthropic.Model)...)
	secondary := backend.NewOpenAI(cfg.OpenAI.APIKey, backendOptions(cfg.OpenAI, cfg.OpenAI.Model)...)
	a.images = backend.NewImageGenerator(cfg.OpenAI.APIKey, backendOptions(cfg.OpenAI, cfg.OpenAI.ImageModel)...)

	comp, err := composer.New(0)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("loading composer: %w", err)
	}

	ctrl := dispatch.New(primary, secondary, a.recorder, dispatch.Config{
		RerouteAbove:     cfg.Dispatch.RerouteAboveTokens,
		DefaultMaxTokens: cfg.Dispatch.DefaultMaxTokens,
	}, logger)

	a.limiter = ratelimit.New(ratelimit.WithLogger(logger))
	a.service = service.New(a.cache, a.limiter, ctrl, comp, service.Config{
		Policy:       a.policy(),
		Unidentified: ratelimit.ParseUnidentifiedPolicy(cfg.RateLimit.Unidentified),
		Fallback:     cfg.Dispatch.Fallback,
	}, logger)
	a.extractor = extract.NewPDF(logger.With("component", "extract"))
	a.reports = errlog.NewFile(cfg.ErrLogPath())

	for _, m := range cfg.MissingCredentials() {
		logger.Warn("backend credential not configured; calls to it will fail", "backend", m)
	}
	return a, nil
}

func backendOptions(bc config.BackendConfig, model string) []backend.Option {
	opts := []backend.Option{backend.WithModel(model), backend.WithRateLimit(bc.RPS, 1)}
	if bc.BaseURL != "" {
		opts = append(opts, backend.WithBaseURL(bc.BaseURL))
	}
	return opts
}

func (a *app) policy() ratelimit.Policy {
	return ratelimit.Policy{MaxRequests: a.cfg.RateLimit.MaxRequests, Window: a.cfg.RateLimit.Window}
}

func (a *app) handler() http.Handler {
	return api.NewHandler(api.Deps{
		Service:      a.service,
		Extractor:    a.extractor,
		Images:       a.images,
		Reports:      a.reports,
		Policy:       a.policy(),
		Unidentified: ratelimit.ParseUnidentifiedPolicy(a.cfg.RateLimit.Unidentified),
		Recorder:     a.recorder,
		Cache:        a.cache,
		MaxBodyBytes: int64(a.cfg.Server.MaxBodyBytes),
		Logger:       a.logger,
	})
}

func (a *app) close() {
	if a.reports != nil {
		if err := a.reports.Close(); err != nil {
			a.logger.Warn("closing error log", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing storage", "error", err)
		}
	}
}

func runServer(addr string) error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	handler := a.handler()
	if cfg.Server.H2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ellbridge listening", "addr", addr, "h2c", cfg.Server.H2C)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Service: a.service, Extractor: a.extractor}, version)
	logger.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
