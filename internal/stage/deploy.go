package stage

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/agentops/relay/internal/domain/deploy"
	"github.com/agentops/relay/internal/domain/event"
)

// urlPattern extracts the first URL from deploy CLI output.
var urlPattern = regexp.MustCompile(`https?://[\w.\-/]+`)

// Deploy ships the workspace through the Vercel CLI and captures the
// resulting deployment URL. The deploy succeeds only when the CLI exits
// zero and its output carries a URL.
type Deploy struct {
	token   string
	timeout time.Duration
	events  Publisher
	log     *slog.Logger

	// runner is swapped out in tests.
	runner commandRunner
}

// NewDeploy creates the deployment stage.
func NewDeploy(token string, timeout time.Duration, events Publisher, log *slog.Logger) *Deploy {
	if log == nil {
		log = slog.Default()
	}
	return &Deploy{token: token, timeout: timeout, events: events, log: log, runner: runCommand}
}

func (s *Deploy) Name() string { return "deployment" }

// OutputKeys lists the context keys this stage reports.
func (s *Deploy) OutputKeys() []string {
	return []string{deploy.KeyDeploymentURL, "deployment_status"}
}

func (s *Deploy) Run(ctx context.Context, c deploy.Context) (deploy.Context, error) {
	workdir := c.String(deploy.KeyWorkdir)
	id := c.String(deploy.KeyDeploymentID)

	if !lookPath("vercel") {
		return c.Merge(map[string]any{deploy.KeyError: "vercel cli not available"}), nil
	}
	if s.token == "" {
		return c.Merge(map[string]any{deploy.KeyError: "VERCEL_TOKEN not set"}), nil
	}

	if s.events != nil {
		s.events.Publish(ctx, id, event.New(event.TypeStatus, s.Name(), "Deploying via Vercel"))
	}

	ok, output := s.runner(ctx, workdir, s.timeout, "vercel", "--token", s.token, "--yes", "--confirm")
	url := urlPattern.FindString(output)

	delta := map[string]any{"vercel_output": tail(output, outputTail)}
	if ok && url != "" {
		delta[deploy.KeyDeploymentURL] = url
	} else {
		delta[deploy.KeyError] = "deployment failed"
	}

	if s.events != nil {
		s.events.Publish(ctx, id, event.Event{
			Type:    event.TypeTrace,
			Stage:   s.Name(),
			Subtype: "deploy_end",
			TS:      time.Now().Unix(),
			Fields:  map[string]any{"ok": ok && url != "", deploy.KeyDeploymentURL: url},
		})
	}

	return c.Merge(delta), nil
}
