package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ellbridge/internal/adapt"
	"github.com/kalambet/ellbridge/internal/backend"
	"github.com/kalambet/ellbridge/internal/cache"
	"github.com/kalambet/ellbridge/internal/errlog"
	"github.com/kalambet/ellbridge/internal/extract"
	"github.com/kalambet/ellbridge/internal/perf"
	"github.com/kalambet/ellbridge/internal/ratelimit"
	"github.com/kalambet/ellbridge/internal/service"
)

const defaultMaxBodyBytes = 15 << 20 // 15MB, base64 PDFs

// ImageGenerator produces an illustration URL for a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ReportSink records client-side error reports.
type ReportSink interface {
	Report(ctx context.Context, r errlog.Report) (string, error)
}

// Deps holds the components served over HTTP.
type Deps struct {
	Service      *service.Service
	Extractor    *extract.Pipeline
	Images       ImageGenerator
	Reports      ReportSink
	// ImageLimiter admits /api/generate-image. It must not be the
	// service's limiter, or image calls would spend adaptation budget.
	// A private limiter is created when nil.
	ImageLimiter *ratelimit.Limiter
	Policy       ratelimit.Policy
	Unidentified ratelimit.UnidentifiedPolicy
	Recorder     *perf.Recorder // optional
	Cache        *cache.Cache   // optional
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewHandler returns the HTTP API. Every route answers OPTIONS preflight
// requests with permissive CORS headers.
func NewHandler(deps Deps) http.Handler {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "api")
	if deps.Policy.MaxRequests <= 0 || deps.Policy.Window <= 0 {
		deps.Policy = ratelimit.DefaultPolicy()
	}
	if deps.ImageLimiter == nil {
		deps.ImageLimiter = ratelimit.New(ratelimit.WithLogger(deps.Logger))
	}

	r := chi.NewRouter()
	r.Use(cors)

	r.Get("/health", handleHealth)
	r.Get("/api/metrics", handleMetrics(deps))

	r.Post("/api/claude", handleClaude(deps))
	r.Post("/api/adapt", handleAdapt(deps))
	r.Post("/api/adaptations", handleAdaptations(deps))
	r.Post("/api/extract-text", handleExtractText(deps))
	r.Post("/api/log-error", handleLogError(deps))

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(deps.ImageLimiter, deps.Policy, deps.Unidentified, rejectRateLimited))
		r.Post("/api/generate-image", handleGenerateImage(deps))
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		h.Set("Access-Control-Expose-Headers", "X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
		h.Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type metricsResponse struct {
	Records []perf.Record `json:"records"`
	Pending int           `json:"pending"`
	Cache   *cache.Stats  `json:"cache,omitempty"`
}

func handleMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := metricsResponse{Records: []perf.Record{}}
		if deps.Recorder != nil {
			resp.Records = deps.Recorder.Records()
			resp.Pending = deps.Recorder.Pending()
		}
		if deps.Cache != nil {
			st := deps.Cache.Stats()
			resp.Cache = &st
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// decodeBody reads a JSON body of at most limit bytes into v. On failure
// the error response has been written.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds %d bytes", mbe.Limit)
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request, res ratelimit.Result) {
	writeError(w, slog.Default(), &service.RateLimitedError{ResetTime: res.ResetTime})
}

// setRateLimitHeaders writes the rate-limit headers when an admission
// decision was made.
func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.ResetTime.IsZero() {
		return
	}
	ratelimit.SetHeaders(w, res, time.Now())
}

type errorBody struct {
	Message   string             `json:"message"`
	Type      string             `json:"type"`
	Fields    []adapt.FieldError `json:"fields,omitempty"`
	Kind      extract.Kind       `json:"kind,omitempty"`
	Remedy    string             `json:"remedy,omitempty"`
	Backend   string             `json:"backend,omitempty"`
	Upstream  string             `json:"upstream,omitempty"`
	ResetTime string             `json:"resetTime,omitempty"`
}

// writeError maps err onto a status code and error envelope. Unclassified
// errors are logged and answered with a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		ve *adapt.ValidationError
		ie *backend.InputError
		rl *service.RateLimitedError
		ce *backend.ConfigError
		be *backend.Error
		te *backend.TransportError
		xe *extract.Error
	)
	switch {
	case errors.As(err, &ve):
		writeErrorBody(w, http.StatusBadRequest, errorBody{
			Message: ve.Error(), Type: "invalid_request_error", Fields: ve.Fields,
		})
	case errors.As(err, &ie):
		writeErrorBody(w, http.StatusBadRequest, errorBody{Message: ie.Msg, Type: "invalid_request_error"})
	case errors.As(err, &rl):
		writeErrorBody(w, http.StatusTooManyRequests, errorBody{
			Message:   "rate limit exceeded, try again later",
			Type:      "rate_limit_error",
			ResetTime: rl.ResetTime.UTC().Format(time.RFC3339),
		})
	case errors.As(err, &ce):
		logger.Error("backend not configured", "backend", ce.Backend, "error", err)
		writeErrorBody(w, http.StatusInternalServerError, errorBody{
			Message: fmt.Sprintf("service unavailable: %s credential not configured", ce.Backend),
			Type:    "configuration_error",
			Backend: ce.Backend,
		})
	case errors.As(err, &be):
		logger.Warn("upstream error", "backend", be.Backend, "status", be.StatusCode)
		writeErrorBody(w, be.StatusCode, errorBody{
			Message:  fmt.Sprintf("%s returned status %d", be.Backend, be.StatusCode),
			Type:     "upstream_error",
			Backend:  be.Backend,
			Upstream: be.Body,
		})
	case errors.As(err, &te):
		logger.Warn("upstream unreachable", "backend", te.Backend, "error", err)
		writeErrorBody(w, http.StatusBadGateway, errorBody{
			Message: fmt.Sprintf("%s is unreachable", te.Backend),
			Type:    "upstream_error",
			Backend: te.Backend,
		})
	case errors.As(err, &xe):
		logger.Info("extraction failed", "kind", xe.Kind, "error", err)
		writeErrorBody(w, http.StatusInternalServerError, errorBody{
			Message: "could not extract text from the document",
			Type:    "extraction_error",
			Kind:    xe.Kind,
			Remedy:  xe.Remedy(),
		})
	default:
		logger.Error("internal error", "error", err)
		writeErrorBody(w, http.StatusInternalServerError, errorBody{
			Message: "internal server error",
			Type:    "api_error",
		})
	}
}

func writeErrorBody(w http.ResponseWriter, code int, body errorBody) {
	writeJSON(w, code, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeErrorBody(w, code, errorBody{Message: fmt.Sprintf(format, args...), Type: errType})
}
