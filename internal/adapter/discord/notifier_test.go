package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentops/relay/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "discord" {
		t.Fatalf("expected 'discord', got %q", n.Name())
	}
}

func TestCapabilities(t *testing.T) {
	n := NewNotifier("")
	caps := n.Capabilities()
	if !caps.RichFormatting {
		t.Fatal("expected RichFormatting=true")
	}
	if !caps.Threads {
		t.Fatal("expected Threads=true")
	}
}

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier("")
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent) // Discord returns 204
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Deploy Complete",
		Message: "Version 1.2.3 deployed successfully",
		Level:   "success",
		Source:  "run.completed",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload discordWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(payload.Embeds))
	}
	embed := payload.Embeds[0]
	if embed.Title != "Deploy Complete" {
		t.Fatalf("unexpected embed title %q", embed.Title)
	}
	if embed.Footer == nil || embed.Footer.Text != "relay incident monitor" {
		t.Fatalf("unexpected footer: %+v", embed.Footer)
	}
	fields := map[string]string{}
	for _, f := range embed.Fields {
		fields[f.Name] = f.Value
	}
	if fields["Severity"] != "success" {
		t.Fatalf("expected Severity field 'success', got %q", fields["Severity"])
	}
	if fields["Source"] != "run.completed" {
		t.Fatalf("expected Source field 'run.completed', got %q", fields["Source"])
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Test",
		Message: "Test message",
		Level:   "info",
	})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
}
