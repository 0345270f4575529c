package backend

import (
	"context"
	"fmt"
	"net/http"
)

const (
	openAIName           = "openai"
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-4o"

	openAIMaxOutput = 16384
)

// OpenAI is the secondary, high-capacity backend speaking chat completions.
type OpenAI struct {
	c *client
}

// NewOpenAI creates the secondary backend. An empty apiKey is accepted;
// every Generate call then fails with a ConfigError.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	return &OpenAI{c: newClient(openAIName, apiKey, openAIDefaultBaseURL, openAIDefaultModel, opts)}
}

func (o *OpenAI) Name() string { return openAIName }

func (o *OpenAI) Capabilities() Capabilities {
	return Capabilities{StandardOutputTokens: openAIMaxOutput, MaxOutputTokens: openAIMaxOutput}
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// Generate sends msgs to the chat completions endpoint and returns the
// first choice.
func (o *OpenAI) Generate(ctx context.Context, msgs []Message, opts GenerateOptions) (Result, error) {
	if err := o.c.checkCredential(); err != nil {
		return Result{}, err
	}
	if err := ValidateMessages(msgs); err != nil {
		return Result{}, err
	}

	var resp chatResponse
	err := o.c.postJSON(ctx, "/chat/completions", o.authHeader(),
		chatRequest{Model: o.c.model, Messages: msgs, MaxTokens: opts.MaxTokens}, &resp)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Choices) == 0 {
		return Result{}, &TransportError{Backend: openAIName, Err: fmt.Errorf("response %q has no choices", resp.ID)}
	}
	return Result{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (o *OpenAI) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+o.c.apiKey)
	return h
}
