package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentops/relay/internal/adapter/otel"
	"github.com/agentops/relay/internal/domain/deploy"
	"github.com/agentops/relay/internal/domain/event"
	"github.com/agentops/relay/internal/port/notifier"
)

// Incident is one detected problem with a deployment.
type Incident struct {
	Severity      string   `json:"severity"`
	Message       string   `json:"message"`
	DeploymentURL string   `json:"deployment_url,omitempty"`
	Authors       []string `json:"authors,omitempty"`
}

// Proposer produces a remediation proposal for an unhealthy deployment.
type Proposer interface {
	Propose(ctx context.Context, c deploy.Context) (map[string]any, error)
}

// IssueOpener files an issue against the deployed repository and returns
// its URL.
type IssueOpener interface {
	OpenIssue(ctx context.Context, repoURL, title, body string) (string, error)
}

// AuthorLookup resolves the author of a commit in a workspace.
type AuthorLookup func(workdir, commitSHA string) (string, error)

// MonitorConfig holds the probe schedule for the health monitor.
type MonitorConfig struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Monitor probes the deployed URL, raises incidents when it stays
// unhealthy, asks the reasoning delegate for a remediation proposal, files
// a GitHub issue, and fans alerts out to the configured notifiers. The
// stage itself never fails the pipeline.
type Monitor struct {
	cfg       MonitorConfig
	client    *http.Client
	events    Publisher
	proposer  Proposer
	issues    IssueOpener
	author    AuthorLookup
	notifiers []notifier.Notifier
	log       *slog.Logger

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration)
}

// MonitorOption configures optional monitor collaborators.
type MonitorOption func(*Monitor)

// WithProposer enables delegate-backed remediation proposals.
func WithProposer(p Proposer) MonitorOption {
	return func(m *Monitor) { m.proposer = p }
}

// WithIssueOpener enables GitHub issue filing for incidents.
func WithIssueOpener(o IssueOpener) MonitorOption {
	return func(m *Monitor) { m.issues = o }
}

// WithAuthorLookup attributes incidents to the commit author.
func WithAuthorLookup(fn AuthorLookup) MonitorOption {
	return func(m *Monitor) { m.author = fn }
}

// WithNotifiers fans incident alerts out to the given channels.
func WithNotifiers(ns []notifier.Notifier) MonitorOption {
	return func(m *Monitor) { m.notifiers = ns }
}

// NewMonitor creates the health monitoring stage.
func NewMonitor(cfg MonitorConfig, events Publisher, log *slog.Logger, opts ...MonitorOption) *Monitor {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Monitor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		events: events,
		log:    log,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (s *Monitor) Name() string { return "incident_monitor" }

// OutputKeys lists the context keys this stage reports.
func (s *Monitor) OutputKeys() []string {
	return []string{"healthy", "monitoring_report", "github_issue_created", "alert_sent"}
}

func (s *Monitor) Run(ctx context.Context, c deploy.Context) (deploy.Context, error) {
	id := c.String(deploy.KeyDeploymentID)
	workdir := c.String(deploy.KeyWorkdir)
	commitSHA := c.String(deploy.KeyCommitSHA)

	var incidents []Incident

	// A failure recorded by an earlier stage becomes an incident even
	// before any probing.
	if msg, failed := c.Err(); failed {
		incidents = append(incidents, s.incident(msg, "", workdir, commitSHA))
	}

	url := c.String(deploy.KeyDeploymentURL)
	var httpStatus int
	probed := false
	healthy := false

	if url != "" {
		probed = true
		for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
			status := s.probe(ctx, url, attempt)
			httpStatus = status
			healthy = status >= 200 && status < 400

			s.publish(ctx, id, event.New(event.TypeStatus, s.Name(),
				fmt.Sprintf("Probe %d/%d: status=%d", attempt, s.cfg.Attempts, status)))
			if healthy {
				break
			}
			if attempt < s.cfg.Attempts {
				s.sleep(ctx, s.cfg.Backoff)
			}
		}

		if !healthy {
			incidents = append(incidents, s.incident(
				fmt.Sprintf("Deployment unhealthy (status=%d)", httpStatus), url, workdir, commitSHA))
		}
	}

	var proposal map[string]any
	if len(incidents) > 0 {
		proposal = s.propose(ctx, id, c)
		s.publish(ctx, id, event.Event{
			Type:    event.TypeIncident,
			Stage:   s.Name(),
			Message: incidents[0].Message,
			TS:      time.Now().Unix(),
			Fields:  map[string]any{"severity": incidents[0].Severity},
		})
	}

	issueURL := s.openIssue(ctx, id, c, incidents, proposal)
	alerted := s.alert(ctx, id, incidents)

	delta := map[string]any{}
	if probed {
		delta["http_status"] = httpStatus
		delta["healthy"] = healthy
	}
	if len(incidents) > 0 {
		delta["incidents"] = incidents
		delta["monitoring_report"] = incidents[0].Message
	} else if probed {
		delta["monitoring_report"] = fmt.Sprintf("Deployment healthy (status=%d)", httpStatus)
	}
	if issueURL != "" {
		delta["github_issue_url"] = issueURL
		delta["github_issue_created"] = true
	}
	if proposal != nil {
		delta["incident_proposal"] = proposal
	}
	if alerted {
		delta["alert_sent"] = true
	}
	return c.Merge(delta), nil
}

// probe issues one GET and returns the status code, 0 on transport
// failure. Any HTTP response counts as an answer, error statuses included.
func (s *Monitor) probe(ctx context.Context, url string, attempt int) int {
	ctx, span := otel.StartProbeSpan(ctx, url, attempt)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode
}

func (s *Monitor) incident(message, url, workdir, commitSHA string) Incident {
	inc := Incident{Severity: "high", Message: message, DeploymentURL: url}
	if s.author != nil && commitSHA != "" {
		if author, err := s.author(workdir, commitSHA); err == nil && author != "" {
			inc.Authors = []string{author}
		}
	}
	return inc
}

func (s *Monitor) propose(ctx context.Context, id string, c deploy.Context) map[string]any {
	if s.proposer == nil {
		return nil
	}
	delta, err := s.proposer.Propose(ctx, c)
	if err != nil {
		s.log.Warn("remediation proposal failed", "deployment_id", id, "error", err)
		return nil
	}
	proposal, ok := delta["proposal"].(map[string]any)
	if !ok {
		return nil
	}
	s.publish(ctx, id, event.Event{
		Type:  event.TypeProposal,
		Stage: s.Name(),
		TS:    time.Now().Unix(),
		Fields: map[string]any{
			"kind":    "fix",
			"summary": proposal["summary"],
			"steps":   proposal["steps"],
		},
	})
	return proposal
}

func (s *Monitor) openIssue(ctx context.Context, id string, c deploy.Context, incidents []Incident, proposal map[string]any) string {
	if s.issues == nil || len(incidents) == 0 {
		return ""
	}
	repoURL := c.String(deploy.KeyRepoURL)
	if repoURL == "" {
		return ""
	}

	title := incidents[0].Message
	if len(title) > 70 {
		title = title[:70]
	}
	incidentJSON, _ := json.Marshal(incidents[0])
	proposalJSON, _ := json.Marshal(proposal)
	body := fmt.Sprintf(
		"Deployment ID: %s\n\nCommit: %s\n\nURL: %s\n\nDetails: %s\n\nProposal: %s\n",
		id, c.String(deploy.KeyCommitSHA), c.String(deploy.KeyDeploymentURL),
		incidentJSON, proposalJSON)

	issueURL, err := s.issues.OpenIssue(ctx, repoURL, title, body)
	if err != nil {
		s.log.Warn("issue filing failed", "deployment_id", id, "error", err)
		return ""
	}
	s.publish(ctx, id, event.Event{
		Type:   event.TypeGitHub,
		Stage:  s.Name(),
		TS:     time.Now().Unix(),
		Fields: map[string]any{"action": "issue_created", "url": issueURL},
	})
	return issueURL
}

// alert fans the first incident out to every configured notifier and
// reports whether at least one delivery succeeded.
func (s *Monitor) alert(ctx context.Context, id string, incidents []Incident) bool {
	if len(incidents) == 0 || len(s.notifiers) == 0 {
		return false
	}
	n := notifier.Notification{
		Title:   "Deployment incident: " + id,
		Message: incidents[0].Message,
		Level:   "error",
		Source:  "incident.deploy_unhealthy",
	}
	sent := false
	for _, target := range s.notifiers {
		if err := target.Send(ctx, n); err != nil {
			s.log.Warn("incident alert failed", "notifier", target.Name(), "error", err)
			continue
		}
		sent = true
	}
	return sent
}

func (s *Monitor) publish(ctx context.Context, id string, ev event.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, id, ev)
}
