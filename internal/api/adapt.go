package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/kalambet/ellbridge/internal/adapt"
	"github.com/kalambet/ellbridge/internal/backend"
	"github.com/kalambet/ellbridge/internal/dispatch"
	"github.com/kalambet/ellbridge/internal/ratelimit"
	"github.com/kalambet/ellbridge/internal/service"
)

// generateRequest is the body of the message-level adapt endpoints.
type generateRequest struct {
	Messages  []backend.Message `json:"messages"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	UseOpenAI bool              `json:"use_openai,omitempty"`
}

type generateResponse struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	Backend      string `json:"backend"`
	FellBack     bool   `json:"fellBack,omitempty"`
}

// handleClaude serves the primary backend only, with no rerouting and no
// fallback.
func handleClaude(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decodeBody(w, r, deps.MaxBodyBytes, &req) {
			return
		}
		p := dispatch.Policy{Backend: dispatch.Primary, MaxTokens: req.MaxTokens}
		serveGenerate(w, r, deps, req, p, false)
	}
}

// handleAdapt serves either backend. Large budgets are rerouted to the
// secondary, and retryable primary failures fall back to it.
func handleAdapt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decodeBody(w, r, deps.MaxBodyBytes, &req) {
			return
		}
		p := dispatch.Policy{Backend: dispatch.Primary, AllowReroute: true, MaxTokens: req.MaxTokens}
		if req.UseOpenAI {
			p.Backend = dispatch.Secondary
		}
		serveGenerate(w, r, deps, req, p, true)
	}
}

func serveGenerate(w http.ResponseWriter, r *http.Request, deps Deps, req generateRequest, p dispatch.Policy, allowFallback bool) {
	if req.MaxTokens < 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "max_tokens must not be negative")
		return
	}
	id, known := ratelimit.Identify(r)
	out, err := deps.Service.Generate(r.Context(), id, known, req.Messages, p, allowFallback)
	setRateLimitHeaders(w, out.RateLimit)
	if err != nil {
		writeError(w, deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Text:         out.Result.Text,
		InputTokens:  out.Result.InputTokens,
		OutputTokens: out.Result.OutputTokens,
		Backend:      out.Backend,
		FellBack:     out.FellBack,
	})
}

// adaptationRequest is an adaptation plus backend selection.
type adaptationRequest struct {
	adapt.Request
	Backend       string `json:"backend,omitempty"`
	AllowFallback *bool  `json:"allow_fallback,omitempty"`
}

type adaptationResponse struct {
	Result   adapt.Result `json:"result"`
	Cached   bool         `json:"cached"`
	Backend  string       `json:"backend,omitempty"`
	FellBack bool         `json:"fellBack,omitempty"`
}

func handleAdaptations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adaptationRequest
		if !decodeBody(w, r, deps.MaxBodyBytes, &req) {
			return
		}
		target, err := parseTarget(req.Backend)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		opts := service.Options{Backend: target, AllowFallback: true}
		if req.AllowFallback != nil {
			opts.AllowFallback = *req.AllowFallback
		}

		id, known := ratelimit.Identify(r)
		out, err := deps.Service.Adapt(r.Context(), id, known, req.Request, opts)
		setRateLimitHeaders(w, out.RateLimit)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, adaptationResponse{
			Result:   out.Result,
			Cached:   out.Cached,
			Backend:  out.Backend,
			FellBack: out.FellBack,
		})
	}
}

// parseTarget accepts a role name or a provider name.
func parseTarget(s string) (dispatch.Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "primary", "anthropic", "claude":
		return dispatch.Primary, nil
	case "secondary", "openai":
		return dispatch.Secondary, nil
	default:
		return dispatch.Primary, fmt.Errorf("unknown backend %q: use primary or secondary", s)
	}
}
