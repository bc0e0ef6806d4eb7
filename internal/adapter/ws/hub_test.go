package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/agentops/relay/internal/bus"
	"github.com/agentops/relay/internal/domain/event"
)

func testHub(t *testing.T) (*Hub, *bus.Bus, *httptest.Server) {
	t.Helper()
	b := bus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := NewHub(b, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStatus))
	t.Cleanup(srv.Close)
	return h, b, srv
}

func dialStatus(t *testing.T, srv *httptest.Server, deploymentID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?deployment_id=" + deploymentID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return ev
}

func TestHandleStatusRequiresDeploymentID(t *testing.T) {
	_, _, srv := testHub(t)
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleStatusBacklogThenLive(t *testing.T) {
	_, b, srv := testHub(t)
	ctx := context.Background()

	b.Publish(ctx, "run-1", event.New(event.TypeStatus, "clone", "Cloning"))
	b.Publish(ctx, "run-1", event.New(event.TypeStatus, "deps", "Starting"))

	ws := dialStatus(t, srv, "run-1")

	if got := readEvent(t, ws); got.Message != "Cloning" {
		t.Fatalf("first = %q", got.Message)
	}
	if got := readEvent(t, ws); got.Message != "Starting" {
		t.Fatalf("second = %q", got.Message)
	}

	// A live event published after connect follows the backlog.
	b.Publish(ctx, "run-1", event.New(event.TypeStatus, "deps", "Completed"))
	if got := readEvent(t, ws); got.Message != "Completed" {
		t.Fatalf("live = %q", got.Message)
	}
}

func TestHandleStatusIsolatesRuns(t *testing.T) {
	_, b, srv := testHub(t)
	ctx := context.Background()

	b.Publish(ctx, "run-other", event.New(event.TypeStatus, "clone", "Other run"))

	ws := dialStatus(t, srv, "run-mine")
	b.Publish(ctx, "run-mine", event.New(event.TypeStatus, "clone", "Mine"))

	if got := readEvent(t, ws); got.Message != "Mine" {
		t.Fatalf("got %q, want only this run's events", got.Message)
	}
}

func TestConnectionCountTracksClients(t *testing.T) {
	h, _, srv := testHub(t)

	ws := dialStatus(t, srv, "run-1")

	waitFor(t, func() bool { return h.ConnectionCount() == 1 })
	_ = ws.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return h.ConnectionCount() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
