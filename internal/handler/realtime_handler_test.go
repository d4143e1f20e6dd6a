package handler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/connexto/msgbridge/internal/realtime"
)

type recordingConn struct {
	mu     sync.Mutex
	frames []realtime.Frame
}

func (c *recordingConn) Send(data []byte) error {
	var f realtime.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *recordingConn) last() realtime.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[len(c.frames)-1]
}

type staticVerifier struct {
	userID string
}

func (v staticVerifier) Verify(token string) (string, error) {
	if token != "good" {
		return "", realtime.ErrInvalidToken
	}
	return v.userID, nil
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newRealtimeApp(hub *realtime.Hub) *fiber.App {
	app := fiber.New()
	NewRealtimeHandler(hub, staticVerifier{userID: "u-1"}, discardLogger()).Register(app)
	NewSSEHandler(hub, staticVerifier{userID: "u-1"}, discardLogger()).Register(app)
	return app
}

func TestRealtimeHandlerBroadcastToRoom(t *testing.T) {
	hub := realtime.NewHub(8, discardLogger())
	defer hub.Close()
	app := newRealtimeApp(hub)

	member := &recordingConn{}
	outsider := &recordingConn{}
	s1, _ := hub.Register(member, "")
	_, _ = hub.Register(outsider, "")
	_ = hub.Join(s1.ID, realtime.AccountRoom("7"))

	status, env := doRequest(t, app, http.MethodPost, APIPrefix+"/realtime/broadcast",
		`{"room":"account:7","eventType":"new-message","payload":{"text":"hi"}}`)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var body BroadcastResponse
	_ = json.Unmarshal(env.Data, &body)
	if body.Delivered != 1 {
		t.Errorf("expected 1 delivery, got %d", body.Delivered)
	}

	waitUntil(t, func() bool { return member.count() == 1 })
	if got := member.last(); got.EventType != "new-message" {
		t.Errorf("unexpected frame %+v", got)
	}
	if outsider.count() != 0 {
		t.Errorf("expected no frames outside the room, got %d", outsider.count())
	}
}

func TestRealtimeHandlerBroadcastGlobal(t *testing.T) {
	hub := realtime.NewHub(8, discardLogger())
	defer hub.Close()
	app := newRealtimeApp(hub)

	conns := []*recordingConn{{}, {}}
	for _, c := range conns {
		_, _ = hub.Register(c, "")
	}

	status, env := doRequest(t, app, http.MethodPost, APIPrefix+"/realtime/broadcast", `{"eventType":"maintenance"}`)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var body BroadcastResponse
	_ = json.Unmarshal(env.Data, &body)
	if body.Delivered != len(conns) {
		t.Errorf("expected %d deliveries, got %d", len(conns), body.Delivered)
	}
}

func TestRealtimeHandlerBroadcastValidation(t *testing.T) {
	hub := realtime.NewHub(8, discardLogger())
	defer hub.Close()
	app := newRealtimeApp(hub)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing event type", body: `{"room":"account:1"}`},
		{name: "bad room", body: `{"room":"lobby","eventType":"x"}`},
		{name: "not json", body: `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doRequest(t, app, http.MethodPost, APIPrefix+"/realtime/broadcast", tt.body)
			if status != fiber.StatusBadRequest {
				t.Errorf("expected 400, got %d", status)
			}
		})
	}
}

func TestRealtimeHandlerStats(t *testing.T) {
	hub := realtime.NewHub(8, discardLogger())
	defer hub.Close()
	app := newRealtimeApp(hub)

	_, _ = hub.Register(&recordingConn{}, "u-1")
	_, _ = hub.Register(&recordingConn{}, "u-1")

	status, env := doRequest(t, app, http.MethodGet, APIPrefix+"/realtime/stats", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var stats realtime.Stats
	_ = json.Unmarshal(env.Data, &stats)
	if stats.Sockets != 2 || stats.Users != 1 || stats.Rooms != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRealtimeHandlerWebSocketRequiresUpgradeAndToken(t *testing.T) {
	hub := realtime.NewHub(8, discardLogger())
	defer hub.Close()
	app := newRealtimeApp(hub)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/realtime/ws?token=good", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("expected 426 without upgrade headers, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, "/realtime/ws?token=bad", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("expected 401 for a bad token, got %d", resp.StatusCode)
	}
	if hub.Stats().Sockets != 0 {
		t.Error("rejected connection must not register a socket")
	}
}

func TestSSEHandlerRejectsBadRequests(t *testing.T) {
	hub := realtime.NewHub(8, discardLogger())
	defer hub.Close()
	app := newRealtimeApp(hub)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "missing token", path: "/realtime/sse?room=account:1", wantStatus: fiber.StatusUnauthorized},
		{name: "bad room", path: "/realtime/sse?token=good&room=lobby", wantStatus: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doRequest(t, app, http.MethodGet, tt.path, "")
			if status != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, status)
			}
		})
	}
	if hub.Stats().Sockets != 0 {
		t.Error("rejected stream must not register a socket")
	}
}

func TestSSEConnPumpWritesFramesAndHeartbeats(t *testing.T) {
	conn := newSSEConn()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	done := make(chan error, 1)
	go func() { done <- conn.pump(w, 10*time.Millisecond) }()

	if err := conn.Send([]byte(`{"eventType":"x"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	_ = conn.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after close")
	}

	out := buf.String()
	if !strings.Contains(out, "data: {\"eventType\":\"x\"}\n\n") {
		t.Errorf("expected frame in stream, got %q", out)
	}
	if !strings.Contains(out, ": ping\n\n") {
		t.Errorf("expected heartbeat in stream, got %q", out)
	}

	if err := conn.Send([]byte("late")); !errors.Is(err, errStreamClosed) {
		t.Errorf("expected errStreamClosed after close, got %v", err)
	}
}

func TestReleaseSocketWaitsForWriter(t *testing.T) {
	hub := realtime.NewHub(8, discardLogger())
	defer hub.Close()

	conn := newSSEConn()
	socket, _ := hub.Register(conn, "u-1")
	_ = hub.SendTo(socket.ID, realtime.EventConnected, nil)

	// Nobody pumps the stream, so the writer is parked in Send until the
	// connection is closed the way a finished stream closes it.
	time.AfterFunc(20*time.Millisecond, func() { _ = conn.Close() })
	releaseSocket(hub, socket)

	select {
	case <-socket.Stopped():
	default:
		t.Fatal("expected writer stopped once releaseSocket returns")
	}
	if hub.Stats().Sockets != 0 {
		t.Errorf("expected socket removed, got %d", hub.Stats().Sockets)
	}
}
