package backend

import (
	"context"
	"fmt"
	"strings"
)

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles accepted in a message sequence.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Capabilities describes a backend's output token limits. Requests above
// StandardOutputTokens need the extended flag; MaxOutputTokens is a hard cap.
type Capabilities struct {
	StandardOutputTokens int
	MaxOutputTokens      int
}

// GenerateOptions controls one generation call.
type GenerateOptions struct {
	MaxTokens int
	Extended  bool
}

// Result is the provider-independent outcome of a generation call.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Backend is a text generation provider.
type Backend interface {
	Name() string
	Capabilities() Capabilities
	Generate(ctx context.Context, msgs []Message, opts GenerateOptions) (Result, error)
}

// ValidateMessages reports the first structural problem in msgs.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return &InputError{Msg: "messages is required and must not be empty"}
	}
	for i, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return &InputError{Msg: fmt.Sprintf("messages[%d].role must be system, user or assistant", i)}
		}
		if strings.TrimSpace(m.Content) == "" {
			return &InputError{Msg: fmt.Sprintf("messages[%d].content must not be empty", i)}
		}
	}
	return nil
}

