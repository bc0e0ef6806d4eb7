// Package runner implements the pipeline state machine: workspace
// acquisition, strictly sequential stage execution with fail-fast, terminal
// status classification, and unconditional workspace cleanup.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/agentops/relay/internal/adapter/otel"
	"github.com/agentops/relay/internal/bus"
	"github.com/agentops/relay/internal/domain/deploy"
	"github.com/agentops/relay/internal/domain/event"
	"github.com/agentops/relay/internal/port/eventstore"
	"github.com/agentops/relay/internal/port/stage"
)

// Cloner acquires an isolated workspace for a run. The returned directory
// is owned by the Runner until cleanup.
type Cloner interface {
	Clone(ctx context.Context, repoURL, commitSHA string) (string, error)
}

// DeltaSource resolves recorded stage outputs for sandbox replay: the most
// recent delta a stage of the same name produced within the source run.
type DeltaSource interface {
	LatestDelta(ctx context.Context, sourceID, stage string) (map[string]any, bool, error)
}

// Runner executes the ordered stage list for one deployment at a time.
// A single Runner is shared by all runs; per-run state lives entirely in
// the context value threaded through the stages.
type Runner struct {
	bus     *bus.Bus
	cloner  Cloner
	stages  []stage.Stage
	outputs eventstore.OutputsStore
	deltas  DeltaSource
	metrics *otel.Metrics
	log     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutputsStore persists each stage's reported outputs as it completes.
func WithOutputsStore(s eventstore.OutputsStore) Option {
	return func(r *Runner) { r.outputs = s }
}

// WithDeltaSource enables sandbox replay of recorded stage outputs.
func WithDeltaSource(d DeltaSource) Option {
	return func(r *Runner) { r.deltas = d }
}

// WithMetrics attaches run/stage metric instruments.
func WithMetrics(m *otel.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner over the given stage order.
func New(b *bus.Bus, cloner Cloner, stages []stage.Stage, log *slog.Logger, opts ...Option) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{bus: b, cloner: cloner, stages: stages, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the pipeline end to end and returns the terminal context.
// It never returns an error and never panics: clone failures and stage
// panics are translated into a failed context plus a terminal final event,
// and the workspace is removed on every exit path.
func (r *Runner) Run(ctx context.Context, req deploy.RunRequest) (out deploy.Context) {
	c := deploy.NewContext(req.RepoURL, req.CommitSHA, req.DeploymentID)
	if len(req.Seed) > 0 {
		c = c.Merge(req.Seed)
	}
	id := req.DeploymentID

	ctx, span := otel.StartPipelineSpan(ctx, id, req.RepoURL)
	defer span.End()
	if r.metrics != nil {
		r.metrics.RunsStarted.Add(ctx, 1)
	}

	var workdir string
	defer func() {
		r.cleanup(id, workdir)
		if p := recover(); p != nil {
			// Last-resort guard: the run function must not raise.
			out = r.crash(ctx, id, c, fmt.Errorf("pipeline panic: %v", p))
		}
		if r.metrics != nil && out != nil {
			if out.String(deploy.KeyStatus) == deploy.StatusSucceeded {
				r.metrics.RunsSucceeded.Add(ctx, 1)
			} else {
				r.metrics.RunsFailed.Add(ctx, 1)
			}
		}
	}()

	r.log.Info("pipeline starting", "deployment_id", id, "repo_url", req.RepoURL, "commit_sha", req.CommitSHA)
	r.publish(ctx, id, event.New(event.TypeStatus, event.StageClone, "Cloning "+req.RepoURL).
		With(deploy.KeyRepoURL, req.RepoURL).
		With(deploy.KeyCommitSHA, req.CommitSHA))

	workdir, err := r.cloner.Clone(ctx, req.RepoURL, req.CommitSHA)
	if err != nil {
		return r.crash(ctx, id, c, err)
	}
	c = c.Merge(map[string]any{deploy.KeyWorkdir: workdir})
	r.publish(ctx, id, event.New(event.TypeStatus, event.StageClone, "Clone complete").With(deploy.KeyWorkdir, workdir))

	for _, st := range r.stages {
		name := st.Name()
		r.publish(ctx, id, event.New(event.TypeStatus, name, "Starting"))

		next, ok := r.executeStage(ctx, id, st, c)
		if msg, failed := next.Err(); failed || !ok {
			next = next.Merge(map[string]any{deploy.KeyStatus: deploy.StatusFailed})
			r.publish(ctx, id, event.New(event.TypeStatus, name, "Failed").With(deploy.KeyError, msg))
			r.publish(ctx, id, event.New(event.TypeFinal, event.StageFinal, "Pipeline failed").With(deploy.KeyStatus, deploy.StatusFailed))
			r.log.Warn("stage failed", "deployment_id", id, "stage", name, "error", msg)
			return next
		}
		c = next

		r.reportOutputs(ctx, id, st, c)
		r.publish(ctx, id, event.New(event.TypeStatus, name, "Completed"))
	}

	c = r.finalize(c)
	final := event.New(event.TypeFinal, event.StageFinal, "Pipeline finished").
		With(deploy.KeyStatus, c.String(deploy.KeyStatus))
	if url := c.String(deploy.KeyDeploymentURL); url != "" {
		final = final.With(deploy.KeyDeploymentURL, url)
	}
	r.publish(ctx, id, final)
	r.log.Info("pipeline finished", "deployment_id", id, "status", c.String(deploy.KeyStatus))
	return c
}

// executeStage runs one stage (or its recorded sandbox delta) and returns
// the replacement context plus whether the stage completed cleanly. Panics
// and returned errors are folded into the context's error key.
func (r *Runner) executeStage(ctx context.Context, id string, st stage.Stage, c deploy.Context) (deploy.Context, bool) {
	name := st.Name()
	ctx, span := otel.StartStageSpan(ctx, id, name)
	defer span.End()
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.StageDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	if delta, ok := r.sandboxDelta(ctx, c, name); ok {
		r.publish(ctx, id, event.New(event.TypeTrace, name, "Replayed recorded outputs").With("sandbox", true))
		return c.Merge(delta), true
	}

	next, err := runGuarded(ctx, st, c)
	if err != nil {
		return c.Merge(map[string]any{deploy.KeyError: err.Error()}), false
	}
	if next == nil {
		// A stage must hand back a context; treat nil as a no-op delta.
		next = c
	}
	return next, !next.Failed()
}

// sandboxDelta looks up the recorded delta for the stage when the context
// is flagged for sandbox replay. Absence of a recorded delta (or a broken
// delta source) falls back to live execution.
func (r *Runner) sandboxDelta(ctx context.Context, c deploy.Context, name string) (map[string]any, bool) {
	if r.deltas == nil || !c.Bool(deploy.KeySandbox) {
		return nil, false
	}
	sourceID := c.String(deploy.KeySandboxOf)
	if sourceID == "" {
		return nil, false
	}
	delta, ok, err := r.deltas.LatestDelta(ctx, sourceID, name)
	if err != nil {
		r.log.Warn("sandbox delta lookup failed, running live", "stage", name, "source", sourceID, "error", err)
		return nil, false
	}
	return delta, ok
}

// runGuarded invokes the stage and translates panics into errors so they
// never propagate past the stage boundary.
func runGuarded(ctx context.Context, st stage.Stage, c deploy.Context) (out deploy.Context, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stage %s panicked: %v", st.Name(), p)
		}
	}()
	return st.Run(ctx, c)
}

// reportOutputs publishes the stage's reportable context keys as an
// agent-outputs event and upserts them into the outputs store, both
// best-effort.
func (r *Runner) reportOutputs(ctx context.Context, id string, st stage.Stage, c deploy.Context) {
	reporter, ok := st.(stage.Reporter)
	if !ok {
		return
	}

	outputs := make(map[string]any)
	for _, key := range reporter.OutputKeys() {
		v, present := c[key]
		if !present || v == nil || v == "" {
			continue
		}
		outputs[key] = v
	}
	if len(outputs) == 0 {
		return
	}

	r.publish(ctx, id, event.New(event.TypeAgentOutputs, st.Name(), "Agent outputs available").With("outputs", outputs))

	if r.outputs != nil {
		if err := r.outputs.UpsertOutputs(ctx, id, st.Name(), outputs); err != nil {
			r.log.Warn("outputs upsert failed", "deployment_id", id, "stage", st.Name(), "error", err)
		}
	}
}

// finalize applies the terminal status heuristic: an explicit healthy
// signal or the mere presence of a deployment URL counts as success. The
// URL branch is deliberately lenient; it mirrors long-standing dashboard
// behavior.
func (r *Runner) finalize(c deploy.Context) deploy.Context {
	status := deploy.StatusFailed
	if c.Bool(deploy.KeyHealthy) || c.String(deploy.KeyDeploymentURL) != "" {
		status = deploy.StatusSucceeded
	}
	return c.Merge(map[string]any{deploy.KeyStatus: status})
}

// crash handles failures outside stage execution (clone, internal panics):
// the error lands in the context, a terminal final event is emitted, and
// the context is returned rather than any error.
func (r *Runner) crash(ctx context.Context, id string, c deploy.Context, err error) deploy.Context {
	c = c.Merge(map[string]any{
		deploy.KeyStatus: deploy.StatusFailed,
		deploy.KeyError:  err.Error(),
	})
	r.publish(ctx, id, event.New(event.TypeFinal, event.StageFinal, "Pipeline crashed").
		With(deploy.KeyStatus, deploy.StatusFailed).
		With(deploy.KeyError, err.Error()))
	r.log.Error("pipeline crashed", "deployment_id", id, "error", err)
	return c
}

// cleanup removes the workspace; errors are suppressed.
func (r *Runner) cleanup(id, workdir string) {
	if workdir == "" {
		return
	}
	if err := os.RemoveAll(workdir); err != nil {
		r.log.Warn("workspace cleanup failed", "deployment_id", id, "workdir", workdir, "error", err)
		return
	}
	r.log.Debug("workspace removed", "deployment_id", id, "workdir", workdir)
}

// publish forwards to the bus; kept as a method so runner events share one
// call site.
func (r *Runner) publish(ctx context.Context, id string, ev event.Event) {
	r.bus.Publish(ctx, id, ev)
}
