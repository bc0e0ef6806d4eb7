// Package stage defines the contract every pipeline stage implements.
package stage

import (
	"context"

	"github.com/agentops/relay/internal/domain/deploy"
)

// Stage is one unit in the ordered pipeline. Run receives the current
// context and returns its replacement; a non-nil error is equivalent to the
// stage writing the `error` key and halts the remaining stages. Stages are
// stateless across runs apart from construction-time configuration.
type Stage interface {
	// Name is the lowercase tag used on emitted events.
	Name() string

	// Run executes the stage against the shared context.
	Run(ctx context.Context, c deploy.Context) (deploy.Context, error)
}

// Reporter is optionally implemented by stages whose context contributions
// should be surfaced as an agent-outputs event (and persisted) when the
// stage completes.
type Reporter interface {
	// OutputKeys lists the context keys this stage is responsible for.
	OutputKeys() []string
}
