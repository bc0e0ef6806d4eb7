// Package eventstore defines the port for durable, insertion-ordered
// persistence of pipeline events and per-run agent outputs.
package eventstore

import (
	"context"

	"github.com/agentops/relay/internal/domain/event"
)

// Store persists events keyed by deployment id. Implementations must keep
// insertion order on load; the bus calls Append best-effort and tolerates
// any error.
type Store interface {
	// Append persists one event for the given deployment.
	Append(ctx context.Context, deploymentID string, ev event.Event) error

	// LoadByDeployment returns all events for the deployment in append order.
	LoadByDeployment(ctx context.Context, deploymentID string) ([]event.Event, error)
}

// OutputsStore keeps the latest per-stage outputs document for a deployment,
// upserted as stages complete.
type OutputsStore interface {
	// UpsertOutputs merges the stage's outputs into the deployment's document.
	UpsertOutputs(ctx context.Context, deploymentID, stage string, outputs map[string]any) error

	// GetOutputs returns the stage→outputs document for the deployment.
	GetOutputs(ctx context.Context, deploymentID string) (map[string]map[string]any, error)
}
