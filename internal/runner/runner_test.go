package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentops/relay/internal/bus"
	"github.com/agentops/relay/internal/domain/deploy"
	"github.com/agentops/relay/internal/domain/event"
	"github.com/agentops/relay/internal/port/stage"
)

type fakeCloner struct {
	dir  string
	err  error
	seen []string
}

func (f *fakeCloner) Clone(_ context.Context, repoURL, commitSHA string) (string, error) {
	f.seen = append(f.seen, repoURL+"@"+commitSHA)
	if f.err != nil {
		return "", f.err
	}
	return f.dir, nil
}

type fakeStage struct {
	name   string
	delta  map[string]any
	err    error
	panics bool
	keys   []string
	calls  int
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Run(_ context.Context, c deploy.Context) (deploy.Context, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	if s.err != nil {
		return c, s.err
	}
	return c.Merge(s.delta), nil
}

func (s *fakeStage) OutputKeys() []string { return s.keys }

type fakeOutputsStore struct {
	upserts map[string]map[string]any
}

func (f *fakeOutputsStore) UpsertOutputs(_ context.Context, _ string, stage string, outputs map[string]any) error {
	if f.upserts == nil {
		f.upserts = make(map[string]map[string]any)
	}
	f.upserts[stage] = outputs
	return nil
}

func (f *fakeOutputsStore) GetOutputs(_ context.Context, _ string) (map[string]map[string]any, error) {
	return f.upserts, nil
}

type fakeDeltaSource struct {
	deltas map[string]map[string]any
	err    error
}

func (f *fakeDeltaSource) LatestDelta(_ context.Context, _ string, stage string) (map[string]any, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	d, ok := f.deltas[stage]
	return d, ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cloneDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "workspace")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func req(id string) deploy.RunRequest {
	return deploy.RunRequest{
		RepoURL:      "https://github.com/acme/app",
		CommitSHA:    "0123456789abcdef0123456789abcdef01234567",
		DeploymentID: id,
	}
}

func eventMessages(t *testing.T, b *bus.Bus, id string) []string {
	t.Helper()
	evs := b.Events(id)
	msgs := make([]string, 0, len(evs))
	for _, ev := range evs {
		msgs = append(msgs, ev.Message)
	}
	return msgs
}

func TestRunSuccess(t *testing.T) {
	b := bus.New(testLogger())
	dir := cloneDir(t)
	sA := &fakeStage{name: "infra", delta: map[string]any{"infra_summary": "ok"}}
	sB := &fakeStage{name: "deploy", delta: map[string]any{deploy.KeyDeploymentURL: "https://app.vercel.app"}}

	r := New(b, &fakeCloner{dir: dir}, []stage.Stage{sA, sB}, testLogger())
	c := r.Run(context.Background(), req("run-1"))

	if got := c.String(deploy.KeyStatus); got != deploy.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", got)
	}
	if sA.calls != 1 || sB.calls != 1 {
		t.Fatalf("stage calls = %d,%d, want 1,1", sA.calls, sB.calls)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("workspace not cleaned up: %v", err)
	}

	msgs := eventMessages(t, b, "run-1")
	want := []string{
		"Cloning https://github.com/acme/app",
		"Clone complete",
		"Starting", "Completed",
		"Starting", "Completed",
		"Pipeline finished",
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(msgs), msgs, len(want))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, msgs[i], want[i])
		}
	}

	evs := b.Events("run-1")
	final := evs[len(evs)-1]
	if final.Type != event.TypeFinal {
		t.Fatalf("last event type = %q, want final", final.Type)
	}
	if url, _ := final.Field(deploy.KeyDeploymentURL); url != "https://app.vercel.app" {
		t.Fatalf("final deployment_url = %v", url)
	}
}

func TestRunFailFastSkipsLaterStages(t *testing.T) {
	b := bus.New(testLogger())
	sA := &fakeStage{name: "tests", err: errors.New("tests failed")}
	sB := &fakeStage{name: "deploy"}

	r := New(b, &fakeCloner{dir: cloneDir(t)}, []stage.Stage{sA, sB}, testLogger())
	c := r.Run(context.Background(), req("run-2"))

	if !c.Failed() {
		t.Fatal("context should carry error")
	}
	if got := c.String(deploy.KeyStatus); got != deploy.StatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if sB.calls != 0 {
		t.Fatalf("later stage ran %d times after failure", sB.calls)
	}

	evs := b.Events("run-2")
	last := evs[len(evs)-1]
	if last.Type != event.TypeFinal || last.Message != "Pipeline failed" {
		t.Fatalf("terminal event = %q %q", last.Type, last.Message)
	}
}

func TestRunErrorKeyWithoutStageError(t *testing.T) {
	b := bus.New(testLogger())
	// A stage may report failure through the context instead of its error
	// return; both must halt the pipeline.
	sA := &fakeStage{name: "deploy", delta: map[string]any{deploy.KeyError: "deploy exited 1"}}
	sB := &fakeStage{name: "monitor"}

	r := New(b, &fakeCloner{dir: cloneDir(t)}, []stage.Stage{sA, sB}, testLogger())
	c := r.Run(context.Background(), req("run-3"))

	if msg, failed := c.Err(); !failed || msg != "deploy exited 1" {
		t.Fatalf("err = %q, %v", msg, failed)
	}
	if sB.calls != 0 {
		t.Fatal("stage after failure should not run")
	}
}

func TestRunCloneFailure(t *testing.T) {
	b := bus.New(testLogger())
	s := &fakeStage{name: "infra"}

	r := New(b, &fakeCloner{err: errors.New("repository not found")}, []stage.Stage{s}, testLogger())
	c := r.Run(context.Background(), req("run-4"))

	if got := c.String(deploy.KeyStatus); got != deploy.StatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if s.calls != 0 {
		t.Fatal("stages should not run when clone fails")
	}

	evs := b.Events("run-4")
	last := evs[len(evs)-1]
	if last.Type != event.TypeFinal || last.Message != "Pipeline crashed" {
		t.Fatalf("terminal event = %q %q", last.Type, last.Message)
	}
}

func TestRunStagePanicBecomesFailure(t *testing.T) {
	b := bus.New(testLogger())
	dir := cloneDir(t)
	s := &fakeStage{name: "deps", panics: true}

	r := New(b, &fakeCloner{dir: dir}, []stage.Stage{s}, testLogger())
	c := r.Run(context.Background(), req("run-5"))

	msg, failed := c.Err()
	if !failed {
		t.Fatal("panic should surface as context error")
	}
	if want := "stage deps panicked: boom"; msg != want {
		t.Fatalf("err = %q, want %q", msg, want)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("workspace not cleaned up after panic")
	}
}

func TestRunWorkspaceCleanedOnFailure(t *testing.T) {
	b := bus.New(testLogger())
	dir := cloneDir(t)
	s := &fakeStage{name: "tests", err: errors.New("tests failed")}

	r := New(b, &fakeCloner{dir: dir}, []stage.Stage{s}, testLogger())
	r.Run(context.Background(), req("run-6"))

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("workspace not cleaned up after stage failure")
	}
}

func TestRunNoHealthNoURLFails(t *testing.T) {
	b := bus.New(testLogger())
	s := &fakeStage{name: "infra", delta: map[string]any{"infra_summary": "ok"}}

	r := New(b, &fakeCloner{dir: cloneDir(t)}, []stage.Stage{s}, testLogger())
	c := r.Run(context.Background(), req("run-7"))

	if got := c.String(deploy.KeyStatus); got != deploy.StatusFailed {
		t.Fatalf("status = %q, want failed without health or URL", got)
	}

	evs := b.Events("run-7")
	last := evs[len(evs)-1]
	if last.Message != "Pipeline finished" {
		t.Fatalf("terminal message = %q, want Pipeline finished", last.Message)
	}
}

func TestRunHealthySucceedsWithoutURL(t *testing.T) {
	b := bus.New(testLogger())
	s := &fakeStage{name: "monitor", delta: map[string]any{deploy.KeyHealthy: true}}

	r := New(b, &fakeCloner{dir: cloneDir(t)}, []stage.Stage{s}, testLogger())
	c := r.Run(context.Background(), req("run-8"))

	if got := c.String(deploy.KeyStatus); got != deploy.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded on healthy", got)
	}
}

func TestRunReportsOutputs(t *testing.T) {
	b := bus.New(testLogger())
	store := &fakeOutputsStore{}
	s := &fakeStage{
		name:  "deps",
		delta: map[string]any{"dependency_manifest": map[string]string{"fastapi": "==0.104.1"}, "unrelated": "x"},
		keys:  []string{"dependency_manifest", "missing_key"},
	}

	r := New(b, &fakeCloner{dir: cloneDir(t)}, []stage.Stage{s}, testLogger(), WithOutputsStore(store))
	r.Run(context.Background(), req("run-9"))

	got, ok := store.upserts["deps"]
	if !ok {
		t.Fatal("outputs not upserted")
	}
	if _, ok := got["dependency_manifest"]; !ok {
		t.Fatal("reported key missing from upsert")
	}
	if _, ok := got["missing_key"]; ok {
		t.Fatal("absent context key should not be reported")
	}

	var outputsEvents int
	for _, ev := range b.Events("run-9") {
		if ev.Type == event.TypeAgentOutputs {
			outputsEvents++
			if ev.Stage != "deps" {
				t.Fatalf("agent outputs stage = %q", ev.Stage)
			}
		}
	}
	if outputsEvents != 1 {
		t.Fatalf("agent outputs events = %d, want 1", outputsEvents)
	}
}

func sandboxSeed(sourceID string) map[string]any {
	return map[string]any{
		deploy.KeySandbox:   true,
		deploy.KeySandboxOf: sourceID,
	}
}

func TestRunSandboxUsesRecordedDelta(t *testing.T) {
	b := bus.New(testLogger())
	live := &fakeStage{name: "deploy", delta: map[string]any{deploy.KeyDeploymentURL: "https://live.example"}}
	deltas := &fakeDeltaSource{deltas: map[string]map[string]any{
		"deploy": {deploy.KeyDeploymentURL: "https://recorded.example"},
	}}

	r := New(b, &fakeCloner{dir: cloneDir(t)}, []stage.Stage{live}, testLogger(), WithDeltaSource(deltas))
	request := req("run-11")
	request.Seed = sandboxSeed("run-original")
	c := r.Run(context.Background(), request)

	if live.calls != 0 {
		t.Fatal("live stage ran despite recorded delta")
	}
	if got := c.String(deploy.KeyDeploymentURL); got != "https://recorded.example" {
		t.Fatalf("deployment_url = %q, want recorded value", got)
	}
}

func TestRunSandboxFallsBackLive(t *testing.T) {
	b := bus.New(testLogger())
	live := &fakeStage{name: "tests", delta: map[string]any{"test_output": "1 passed"}}
	deltas := &fakeDeltaSource{deltas: map[string]map[string]any{}}

	r := New(b, &fakeCloner{dir: cloneDir(t)}, []stage.Stage{live}, testLogger(), WithDeltaSource(deltas))
	request := req("run-12")
	request.Seed = sandboxSeed("run-original")
	c := r.Run(context.Background(), request)

	if live.calls != 1 {
		t.Fatalf("live stage calls = %d, want fallback execution", live.calls)
	}
	if got, _ := c["test_output"]; got != "1 passed" {
		t.Fatalf("test_output = %v", got)
	}
}
