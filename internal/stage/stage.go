// Package stage implements the fixed pipeline stages: infrastructure
// generation, dependency analysis, test execution, deployment, and health
// monitoring. Each stage consumes the run context and returns it with a
// delta merged in; a stage signals failure through the context's error key
// or its error return.
package stage

import (
	"context"

	"github.com/agentops/relay/internal/domain/event"
)

// Publisher lets stages emit progress events mid-run.
type Publisher interface {
	Publish(ctx context.Context, deploymentID string, ev event.Event)
}

// outputTail bounds command output carried in the context.
const outputTail = 20000

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
