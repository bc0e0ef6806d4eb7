// Package replay rebuilds past deployment runs from their recorded event
// streams, either as a timed rebroadcast of the original events or as a
// sandbox re-execution that substitutes recorded stage outputs for live
// side effects.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentops/relay/internal/bus"
	"github.com/agentops/relay/internal/domain/deploy"
	"github.com/agentops/relay/internal/domain/event"
	"github.com/agentops/relay/internal/port/eventstore"
)

// PipelineRunner is the slice of the runner the controller drives for
// sandbox replays.
type PipelineRunner interface {
	Run(ctx context.Context, req deploy.RunRequest) deploy.Context
}

// ErrNoEvents is returned when a deployment has no recorded events in the
// backlog or the durable store.
var ErrNoEvents = fmt.Errorf("no recorded events for deployment")

// Controller serves replay requests over the live backlog, falling back to
// the durable event store for runs that have been evicted or restarted
// away.
type Controller struct {
	bus    *bus.Bus
	store  eventstore.Store
	runner PipelineRunner
	log    *slog.Logger

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithStore enables durable fallback for runs no longer in the backlog.
func WithStore(s eventstore.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithRunner enables sandbox replays.
func WithRunner(r PipelineRunner) Option {
	return func(c *Controller) { c.runner = r }
}

// SetRunner attaches the pipeline runner once it exists. The runner takes
// the controller as its replay delta source, so one side is wired after
// construction.
func (c *Controller) SetRunner(r PipelineRunner) { c.runner = r }

// NewController creates a replay controller over the given bus.
func NewController(b *bus.Bus, log *slog.Logger, opts ...Option) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{bus: b, log: log, sleep: sleepCtx}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the recorded stream for a deployment in emission order,
// preferring the in-memory backlog and falling back to the store.
func (c *Controller) Events(ctx context.Context, deploymentID string) ([]event.Event, error) {
	if evs := c.bus.Events(deploymentID); len(evs) > 0 {
		return evs, nil
	}
	if c.store == nil {
		return nil, ErrNoEvents
	}
	evs, err := c.store.LoadByDeployment(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if len(evs) == 0 {
		return nil, ErrNoEvents
	}
	return evs, nil
}

// Rebroadcast re-publishes a deployment's recorded events under a fresh
// replay id, pacing them by the original inter-event gaps divided by
// req.Speed. The first event goes out immediately; publication happens in
// the background and the result describes what was scheduled.
func (c *Controller) Rebroadcast(ctx context.Context, req event.RebroadcastRequest) (event.RebroadcastResult, error) {
	evs, err := c.Events(ctx, req.DeploymentID)
	if err != nil {
		return event.RebroadcastResult{}, err
	}

	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	replayID := "replay-" + uuid.NewString()

	go c.emit(context.WithoutCancel(ctx), replayID, evs, speed)

	c.log.Info("rebroadcast scheduled",
		"source_id", req.DeploymentID, "replay_id", replayID,
		"events", len(evs), "speed", speed)
	return event.RebroadcastResult{
		SourceID:   req.DeploymentID,
		ReplayID:   replayID,
		EventCount: len(evs),
	}, nil
}

// emit publishes the recorded events in order with scaled delays. Event
// content is reproduced verbatim; only the run the events are published
// under changes.
func (c *Controller) emit(ctx context.Context, replayID string, evs []event.Event, speed float64) {
	var prev int64
	for i, ev := range evs {
		if i > 0 {
			gap := time.Duration(ev.TS-prev) * time.Second
			if gap > 0 {
				if err := c.sleep(ctx, time.Duration(float64(gap)/speed)); err != nil {
					c.log.Warn("rebroadcast interrupted", "replay_id", replayID, "error", err)
					return
				}
			}
		}
		prev = ev.TS
		c.bus.Publish(ctx, replayID, ev)
	}
}

// Sandbox re-executes a recorded deployment under a new run id. Stages
// whose outputs were recorded are satisfied from the recording; the rest
// run live. The pipeline itself executes in the background.
func (c *Controller) Sandbox(ctx context.Context, sourceID string) (event.SandboxResult, error) {
	if c.runner == nil {
		return event.SandboxResult{}, fmt.Errorf("sandbox replay not configured")
	}

	evs, err := c.Events(ctx, sourceID)
	if err != nil {
		return event.SandboxResult{}, err
	}
	repoURL, commitSHA, err := sourceRequest(evs)
	if err != nil {
		return event.SandboxResult{}, err
	}

	sandboxID := "sandbox-" + uuid.NewString()
	req := deploy.RunRequest{
		RepoURL:      repoURL,
		CommitSHA:    commitSHA,
		DeploymentID: sandboxID,
		Seed: map[string]any{
			deploy.KeySandbox:   true,
			deploy.KeySandboxOf: sourceID,
		},
	}

	go c.runner.Run(context.WithoutCancel(ctx), req)

	c.log.Info("sandbox replay started", "source_id", sourceID, "deployment_id", sandboxID)
	return event.SandboxResult{SourceID: sourceID, DeploymentID: sandboxID}, nil
}

// LatestDelta finds the most recently recorded outputs the named stage
// produced within the source run. It satisfies the runner's delta source.
func (c *Controller) LatestDelta(ctx context.Context, sourceID, stage string) (map[string]any, bool, error) {
	evs, err := c.Events(ctx, sourceID)
	if err != nil {
		if err == ErrNoEvents {
			return nil, false, nil
		}
		return nil, false, err
	}
	for i := len(evs) - 1; i >= 0; i-- {
		ev := evs[i]
		if ev.Type != event.TypeAgentOutputs || ev.Stage != stage {
			continue
		}
		raw, ok := ev.Field("outputs")
		if !ok {
			continue
		}
		if outputs, ok := raw.(map[string]any); ok {
			return outputs, true, nil
		}
	}
	return nil, false, nil
}

// sourceRequest recovers the original run request from the recorded clone
// event.
func sourceRequest(evs []event.Event) (repoURL, commitSHA string, err error) {
	for _, ev := range evs {
		if ev.Stage != event.StageClone {
			continue
		}
		url, ok := ev.Field(deploy.KeyRepoURL)
		if !ok {
			continue
		}
		s, _ := url.(string)
		if s == "" {
			continue
		}
		sha, _ := ev.Field(deploy.KeyCommitSHA)
		shaStr, _ := sha.(string)
		return s, shaStr, nil
	}
	return "", "", fmt.Errorf("recorded stream carries no clone request")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
