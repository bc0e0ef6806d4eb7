package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentops/relay/internal/bus"
	"github.com/agentops/relay/internal/config"
	"github.com/agentops/relay/internal/domain/deploy"
	"github.com/agentops/relay/internal/domain/event"
	"github.com/agentops/relay/internal/port/eventstore"
	"github.com/agentops/relay/internal/replay"
)

// PipelineRunner executes one deployment run to completion. The webhook
// handler invokes it on a background goroutine.
type PipelineRunner interface {
	Run(ctx context.Context, req deploy.RunRequest) deploy.Context
}

// Handlers bundles the dependencies the HTTP endpoints need.
type Handlers struct {
	server  config.Server
	bus     *bus.Bus
	runner  PipelineRunner
	replay  *replay.Controller
	outputs eventstore.OutputsStore
	ready   map[string]bool
	log     *slog.Logger
}

// NewHandlers creates the handler set. ready maps subsystem names to whether
// they are configured; it is reported verbatim by the health endpoint.
func NewHandlers(server config.Server, b *bus.Bus, runner PipelineRunner, rc *replay.Controller, outputs eventstore.OutputsStore, ready map[string]bool, log *slog.Logger) *Handlers {
	return &Handlers{
		server:  server,
		bus:     b,
		runner:  runner,
		replay:  rc,
		outputs: outputs,
		ready:   ready,
		log:     log,
	}
}

// pushPayload is the subset of the GitHub push event the pipeline needs.
type pushPayload struct {
	After      string `json:"after"`
	Repository struct {
		CloneURL string `json:"clone_url"`
		GitURL   string `json:"git_url"`
		SSHURL   string `json:"ssh_url"`
	} `json:"repository"`
	HeadCommit struct {
		ID string `json:"id"`
	} `json:"head_commit"`
}

func (p *pushPayload) repoURL() string {
	switch {
	case p.Repository.CloneURL != "":
		return p.Repository.CloneURL
	case p.Repository.GitURL != "":
		return p.Repository.GitURL
	default:
		return p.Repository.SSHURL
	}
}

func (p *pushPayload) commitSHA() string {
	if p.After != "" {
		return p.After
	}
	return p.HeadCommit.ID
}

// HandleGitHubWebhook handles POST /webhook/github. Signature verification
// happens in middleware; here the push payload is parsed, a deployment id is
// minted, and the pipeline starts in the background.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if ev := r.Header.Get("X-GitHub-Event"); ev != "" && ev != "push" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": ev})
		return
	}

	payload, ok := readJSON[pushPayload](w, r)
	if !ok {
		return
	}

	repoURL := payload.repoURL()
	commitSHA := payload.commitSHA()
	if repoURL == "" || commitSHA == "" {
		writeError(w, http.StatusBadRequest, "missing repo or commit")
		return
	}

	deploymentID := uuid.NewString()
	req := deploy.RunRequest{
		RepoURL:      repoURL,
		CommitSHA:    commitSHA,
		DeploymentID: deploymentID,
	}

	go h.runner.Run(context.WithoutCancel(r.Context()), req)

	h.log.Info("deployment triggered",
		"deployment_id", deploymentID, "repo_url", repoURL, "commit_sha", commitSHA)

	writeJSON(w, http.StatusOK, deploy.TriggerResponse{
		OK:           true,
		DeploymentID: deploymentID,
		StatusURL:    h.server.PublicURL + "/ws/status?deployment_id=" + deploymentID,
		ReplayURL:    h.server.PublicURL + "/replay/" + deploymentID,
	})
}

// GetReplay handles GET /replay/{id}: the recorded event stream as JSON.
func (h *Handlers) GetReplay(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	events, err := h.replay.Events(r.Context(), id)
	if err != nil {
		if errors.Is(err, replay.ErrNoEvents) {
			writeError(w, http.StatusNotFound, "no events recorded for deployment")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type rebroadcastBody struct {
	Speed float64 `json:"speed"`
}

// Rebroadcast handles POST /replay/{id}/rebroadcast: re-emits the recorded
// stream under a fresh replay id, preserving relative timing.
func (h *Handlers) Rebroadcast(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	var speed float64
	if r.ContentLength != 0 {
		body, ok := readJSON[rebroadcastBody](w, r)
		if !ok {
			return
		}
		speed = body.Speed
	}

	result, err := h.replay.Rebroadcast(r.Context(), event.RebroadcastRequest{
		DeploymentID: id,
		Speed:        speed,
	})
	if err != nil {
		if errors.Is(err, replay.ErrNoEvents) {
			writeError(w, http.StatusNotFound, "no events recorded for deployment")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// Sandbox handles POST /replay/{id}/sandbox: re-executes the recorded run
// under a sandbox id, replaying recorded stage outputs where available.
func (h *Handlers) Sandbox(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	result, err := h.replay.Sandbox(r.Context(), id)
	if err != nil {
		if errors.Is(err, replay.ErrNoEvents) {
			writeError(w, http.StatusNotFound, "no events recorded for deployment")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

type callbackBody struct {
	URL string `json:"url"`
}

// RegisterCallback handles POST /deployments/{id}/callbacks: every event
// published for the deployment is POSTed to the given URL, best effort.
func (h *Handlers) RegisterCallback(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	body, ok := readJSON[callbackBody](w, r)
	if !ok {
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	h.bus.RegisterCallback(id, body.URL)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// GetOutputs handles GET /deployments/{id}/outputs: the latest per-stage
// agent outputs document.
func (h *Handlers) GetOutputs(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if h.outputs == nil {
		writeError(w, http.StatusServiceUnavailable, "outputs store not configured")
		return
	}

	doc, err := h.outputs.GetOutputs(r.Context(), id)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if len(doc) == 0 {
		writeError(w, http.StatusNotFound, "no outputs recorded for deployment")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"subsystems": h.ready,
	})
}
