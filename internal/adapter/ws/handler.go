// Package ws streams a deployment's event feed to WebSocket clients: the
// recorded backlog first, then live events as stages publish them.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/agentops/relay/internal/bus"
	"github.com/agentops/relay/internal/domain/event"
)

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub upgrades status connections and bridges them to the event bus. Each
// connection follows exactly one deployment.
type Hub struct {
	bus *bus.Bus
	log *slog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub over the given bus.
func NewHub(b *bus.Bus, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{bus: b, log: log, conns: make(map[*conn]struct{})}
}

// HandleStatus upgrades the request and streams the deployment's events
// until the client disconnects. The deployment_id query parameter selects
// the run; the backlog is delivered before any live event.
func (h *Hub) HandleStatus(w http.ResponseWriter, r *http.Request) {
	deploymentID := r.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		http.Error(w, "deployment_id required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}
	h.add(c)
	h.log.Info("status client connected", "deployment_id", deploymentID, "remote", r.RemoteAddr)

	backlog, sub := h.bus.SubscribeWithBacklog(deploymentID)
	defer func() {
		h.bus.Unsubscribe(deploymentID, sub)
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
		h.log.Info("status client disconnected", "deployment_id", deploymentID)
	}()

	// Read loop to detect disconnects and consume pings.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	for _, ev := range backlog {
		if err := h.write(ctx, ws, ev); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.write(ctx, ws, ev); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, ws *websocket.Conn, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("websocket marshal failed", "error", err)
		return nil
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
	}
}
