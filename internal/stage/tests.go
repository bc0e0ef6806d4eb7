package stage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/agentops/relay/internal/domain/deploy"
	"github.com/agentops/relay/internal/domain/event"
)

// Tests detects the project's test runner and executes the suite. A
// project with no recognizable tests passes without running anything; a
// failing suite fails the pipeline.
type Tests struct {
	timeout time.Duration
	events  Publisher
	log     *slog.Logger

	// runner is swapped out in tests.
	runner commandRunner
}

// NewTests creates the test execution stage.
func NewTests(timeout time.Duration, events Publisher, log *slog.Logger) *Tests {
	if log == nil {
		log = slog.Default()
	}
	return &Tests{timeout: timeout, events: events, log: log, runner: runCommand}
}

func (s *Tests) Name() string { return "tests" }

// OutputKeys lists the context keys this stage reports.
func (s *Tests) OutputKeys() []string {
	return []string{"test_output", "test_passed", "ai_tests"}
}

func (s *Tests) Run(ctx context.Context, c deploy.Context) (deploy.Context, error) {
	workdir := c.String(deploy.KeyWorkdir)
	id := c.String(deploy.KeyDeploymentID)

	command, kind := detectTestCommand(workdir)
	if s.events != nil {
		msg := "No tests detected"
		if len(command) > 0 {
			msg = "Running tests (" + kind + ")"
		}
		s.events.Publish(ctx, id, event.New(event.TypeStatus, s.Name(), msg))
	}

	passed := true
	output := "No tests detected"
	if len(command) > 0 {
		passed, output = s.runner(ctx, workdir, s.timeout, command[0], command[1:]...)
	}

	delta := map[string]any{
		"tests_passed": passed,
		"test_output":  tail(output, outputTail),
	}
	if !passed && len(command) > 0 {
		delta[deploy.KeyError] = "tests failed"
	}

	if s.events != nil {
		s.events.Publish(ctx, id, event.Event{
			Type:    event.TypeTrace,
			Stage:   s.Name(),
			Subtype: "test_end",
			TS:      time.Now().Unix(),
			Fields:  map[string]any{"passed": passed},
		})
	}

	return c.Merge(delta), nil
}

// detectTestCommand picks the test runner for the project. A project whose
// runner binary is missing gets no command, which counts as "no tests"
// rather than a failure.
func detectTestCommand(workdir string) (command []string, kind string) {
	pkgJSON := filepath.Join(workdir, "package.json")
	if _, err := os.Stat(pkgJSON); err == nil {
		if !lookPath("npm") {
			return nil, "npm not available"
		}
		if hasTestScript(pkgJSON) {
			return []string{"npm", "test", "--silent"}, "node"
		}
		return []string{"npm", "test", "--silent"}, "node"
	}

	hasReqs := fileExists(filepath.Join(workdir, "requirements.txt"))
	hasPyproject := fileExists(filepath.Join(workdir, "pyproject.toml"))
	if hasReqs || hasPyproject {
		if !lookPath("pytest") {
			return nil, "pytest not available"
		}
		return []string{"pytest", "-q"}, "python"
	}

	if fileExists(filepath.Join(workdir, "go.mod")) {
		if !lookPath("go") {
			return nil, "go not available"
		}
		return []string{"go", "test", "./..."}, "go"
	}

	return nil, "none"
}

func hasTestScript(pkgJSONPath string) bool {
	data, err := os.ReadFile(pkgJSONPath)
	if err != nil {
		return false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	_, ok := pkg.Scripts["test"]
	return ok
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
