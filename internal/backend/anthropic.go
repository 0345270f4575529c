package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	anthropicName           = "anthropic"
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicDefaultModel   = "claude-3-5-sonnet-20241022"
	anthropicVersion        = "2023-06-01"
	anthropicExtendedBeta   = "max-tokens-3-5-sonnet-2024-07-15"

	anthropicStandardOutput = 4096
	anthropicMaxOutput      = 8192
)

// Anthropic is the primary backend, speaking the Messages API.
type Anthropic struct {
	c *client
}

// NewAnthropic creates the primary backend. An empty apiKey is accepted;
// every Generate call then fails with a ConfigError.
func NewAnthropic(apiKey string, opts ...Option) *Anthropic {
	return &Anthropic{c: newClient(anthropicName, apiKey, anthropicDefaultBaseURL, anthropicDefaultModel, opts)}
}

func (a *Anthropic) Name() string { return anthropicName }

func (a *Anthropic) Capabilities() Capabilities {
	return Capabilities{StandardOutputTokens: anthropicStandardOutput, MaxOutputTokens: anthropicMaxOutput}
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

// Generate sends msgs to the Messages API. System turns are lifted into
// the top-level system field.
func (a *Anthropic) Generate(ctx context.Context, msgs []Message, opts GenerateOptions) (Result, error) {
	if err := a.c.checkCredential(); err != nil {
		return Result{}, err
	}
	if err := ValidateMessages(msgs); err != nil {
		return Result{}, err
	}

	req := anthropicRequest{Model: a.c.model, MaxTokens: opts.MaxTokens}
	var system []string
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, m)
	}
	req.System = strings.Join(system, "\n\n")
	if len(req.Messages) == 0 {
		return Result{}, &InputError{Msg: "messages must contain at least one user or assistant turn"}
	}

	h := http.Header{}
	h.Set("x-api-key", a.c.apiKey)
	h.Set("anthropic-version", anthropicVersion)
	if opts.Extended {
		h.Set("anthropic-beta", anthropicExtendedBeta)
	}

	var resp anthropicResponse
	if err := a.c.postJSON(ctx, "/v1/messages", h, req, &resp); err != nil {
		return Result{}, err
	}
	return resp.normalize()
}

func (r anthropicResponse) normalize() (Result, error) {
	var sb strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 && len(r.Content) == 0 {
		return Result{}, &TransportError{Backend: anthropicName, Err: fmt.Errorf("response %q has no content", r.ID)}
	}
	return Result{
		Text:         sb.String(),
		InputTokens:  r.Usage.InputTokens,
		OutputTokens: r.Usage.OutputTokens,
	}, nil
}
