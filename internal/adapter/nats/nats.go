// Package nats mirrors the deployment event stream onto NATS JetStream so
// external consumers can follow runs without holding a websocket open.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/agentops/relay/internal/domain/event"
)

const streamName = "RELAY"

// Mirror publishes every bus event to a per-deployment JetStream subject.
// It implements bus.Sink.
type Mirror struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Mirror, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"deploys.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Mirror{nc: nc, js: js}, nil
}

// Forward publishes one event under deploys.<deployment_id>.events.
func (m *Mirror) Forward(ctx context.Context, deploymentID string, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(deploymentID)
	if _, err := m.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subject returns the JetStream subject events for a deployment land on.
// Deployment ids are sanitized so they cannot create token separators.
func Subject(deploymentID string) string {
	id := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(deploymentID)
	return "deploys." + id + ".events"
}

// Close shuts down the NATS connection.
func (m *Mirror) Close() error {
	m.nc.Close()
	return nil
}
