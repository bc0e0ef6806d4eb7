package llm

import (
	"context"

	"github.com/agentops/relay/internal/agent"
)

// Completer adapts the chat completion client to the delegate's interface,
// pinning the model and sampling parameters.
type Completer struct {
	Client      *Client
	Model       string
	Temperature float64
	MaxTokens   int
}

// Complete satisfies agent.Completer.
func (c Completer) Complete(ctx context.Context, system string, messages []agent.Message) (string, error) {
	chat := make([]ChatMessage, 0, len(messages)+1)
	if system != "" {
		chat = append(chat, ChatMessage{Role: "system", Content: system})
	}
	for _, m := range messages {
		chat = append(chat, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return c.Client.ChatCompletion(ctx, ChatCompletionRequest{
		Model:       c.Model,
		Messages:    chat,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	})
}
