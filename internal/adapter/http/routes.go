package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentops/relay/internal/adapter/otel"
	"github.com/agentops/relay/internal/adapter/ws"
	"github.com/agentops/relay/internal/config"
	"github.com/agentops/relay/internal/middleware"
)

// NewRouter builds the full route tree: webhook ingress, live WebSocket
// status, replay, callbacks, outputs, and health.
func NewRouter(h *Handlers, hub *ws.Hub, server config.Server, webhook config.Webhook, serviceName string) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(otel.HTTPMiddleware(serviceName))
	r.Use(Logger)
	r.Use(SecurityHeaders)
	r.Use(CORS(server.CORSOrigin))

	r.With(middleware.WebhookHMAC(webhook.GitHubSecret, "X-Hub-Signature-256")).
		Post("/webhook/github", h.HandleGitHubWebhook)

	r.Get("/ws/status", hub.HandleStatus)

	r.Get("/replay/{id}", h.GetReplay)
	r.Post("/replay/{id}/rebroadcast", h.Rebroadcast)
	r.Post("/replay/{id}/sandbox", h.Sandbox)

	r.Post("/deployments/{id}/callbacks", h.RegisterCallback)
	r.Get("/deployments/{id}/outputs", h.GetOutputs)

	r.Get("/health", h.Health)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}
