package backend

import (
	"context"
	"fmt"
	"strings"
)

const (
	openAIDefaultImageModel = "dall-e-3"
	imageSize               = "1024x1024"
	maxImagePromptLen       = 4000
)

// ImageGenerator creates illustrations through the OpenAI images API.
type ImageGenerator struct {
	c *client
}

// NewImageGenerator shares the secondary backend's credential. Options
// are applied as for NewOpenAI; WithModel selects the image model.
func NewImageGenerator(apiKey string, opts ...Option) *ImageGenerator {
	return &ImageGenerator{c: newClient(openAIName, apiKey, openAIDefaultBaseURL, openAIDefaultImageModel, opts)}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

// Generate returns the URL of one image for prompt.
func (g *ImageGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", &InputError{Msg: "prompt is required"}
	}
	if len(prompt) > maxImagePromptLen {
		return "", &InputError{Msg: fmt.Sprintf("prompt must be at most %d characters", maxImagePromptLen)}
	}
	if err := g.c.checkCredential(); err != nil {
		return "", err
	}

	o := &OpenAI{c: g.c}
	var resp imageResponse
	err := g.c.postJSON(ctx, "/images/generations", o.authHeader(),
		imageRequest{Model: g.c.model, Prompt: prompt, N: 1, Size: imageSize}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &TransportError{Backend: openAIName, Err: fmt.Errorf("image response has no url")}
	}
	return resp.Data[0].URL, nil
}
