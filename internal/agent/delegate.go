// Package agent implements the reasoning delegate: a capped think/act loop
// over a chat completion model with a set of callable tools, used by the
// health monitor to diagnose unhealthy deployments.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Completer is the slice of the LLM client the delegate needs.
type Completer interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Message is one turn in the delegate's conversation history.
type Message struct {
	Role    string
	Content string
}

// Tool is an action the model may invoke during the loop. Fn receives the
// model-supplied input object and returns an observation fed back to the
// model.
type Tool struct {
	Name        string
	Description string
	Fn          func(ctx context.Context, input map[string]any) (string, error)
}

// Delegate drives the think/act loop.
type Delegate struct {
	completer     Completer
	maxIterations int
	log           *slog.Logger
}

// New creates a delegate. maxIterations below 1 is clamped to 1.
func New(completer Completer, maxIterations int, log *slog.Logger) *Delegate {
	if maxIterations < 1 {
		maxIterations = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Delegate{completer: completer, maxIterations: maxIterations, log: log}
}

// toolCall is the shape the model uses to request a tool invocation.
type toolCall struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// Invoke runs the loop until the model produces a terminal JSON object or
// the iteration cap is hit. The returned map is the model's terminal delta;
// a reply that never parses as a JSON object is wrapped as
// {"last_message": raw} rather than treated as an error.
func (d *Delegate) Invoke(ctx context.Context, task string, tools []Tool) (map[string]any, error) {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	system := systemPrompt(tools)
	messages := []Message{{Role: "user", Content: task}}

	var last string
	for i := 0; i < d.maxIterations; i++ {
		reply, err := d.completer.Complete(ctx, system, messages)
		if err != nil {
			return nil, fmt.Errorf("delegate completion: %w", err)
		}
		last = reply
		messages = append(messages, Message{Role: "assistant", Content: reply})

		var call toolCall
		content := extractJSON(reply)
		if err := json.Unmarshal([]byte(content), &call); err == nil && call.Tool != "" {
			tool, ok := byName[call.Tool]
			if !ok {
				messages = append(messages, Message{
					Role:    "user",
					Content: fmt.Sprintf("unknown tool %q; available: %s", call.Tool, toolNames(tools)),
				})
				continue
			}
			observation, err := tool.Fn(ctx, call.Input)
			if err != nil {
				observation = "tool error: " + err.Error()
			}
			d.log.Debug("delegate tool call", "tool", call.Tool, "iteration", i)
			messages = append(messages, Message{Role: "user", Content: observation})
			continue
		}

		return terminalDelta(content, reply), nil
	}

	d.log.Warn("delegate hit iteration cap", "iterations", d.maxIterations)
	return terminalDelta(extractJSON(last), last), nil
}

// terminalDelta parses the model's final reply as a JSON object, falling
// back to wrapping the raw text.
func terminalDelta(content, raw string) map[string]any {
	var delta map[string]any
	if err := json.Unmarshal([]byte(content), &delta); err != nil || delta == nil {
		return map[string]any{"last_message": raw}
	}
	return delta
}

func systemPrompt(tools []Tool) string {
	var b strings.Builder
	b.WriteString("You are a deployment operations assistant. ")
	b.WriteString("To use a tool, reply with exactly {\"tool\": \"<name>\", \"input\": {...}}. ")
	b.WriteString("When done, reply with a single JSON object holding your result.\n\nTools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return b.String()
}

func toolNames(tools []Tool) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}

// extractJSON pulls a JSON object out of a reply that may carry markdown
// fences or surrounding prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}

	return s
}
