package handler

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/connexto/msgbridge/internal/realtime"
	"github.com/connexto/msgbridge/internal/response"
)

const sseHeartbeatInterval = 25 * time.Second

var errStreamClosed = errors.New("event stream closed")

// SSEHandler is a read-only transport over the same hub as the websocket
// endpoint. Rooms are chosen once, at connect time.
type SSEHandler struct {
	hub       RealtimeHub
	verifier  TokenVerifier
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewSSEHandler(hub RealtimeHub, verifier TokenVerifier, logger *slog.Logger) *SSEHandler {
	return &SSEHandler{
		hub:       hub,
		verifier:  verifier,
		heartbeat: sseHeartbeatInterval,
		logger:    logger.With("component", "sse_handler"),
	}
}

func (h *SSEHandler) Register(app *fiber.App) {
	app.Get("/realtime/sse", h.Stream)
}

// Stream godoc
// @Summary Subscribe to realtime events over SSE
// @Tags realtime
// @Produce text/event-stream
// @Param token query string true "Realtime token"
// @Param room query []string false "Rooms to join" collectionFormat(multi)
// @Success 200 {string} string "event stream"
// @Failure 401 {object} response.Envelope
// @Router /realtime/sse [get]
func (h *SSEHandler) Stream(c *fiber.Ctx) error {
	userID, err := h.verifier.Verify(realtimeToken(c))
	if err != nil {
		return response.Unauthorized(c, MsgInvalidToken)
	}

	rooms := make([]string, 0, 1)
	for _, raw := range c.Context().QueryArgs().PeekMulti("room") {
		room := string(raw)
		if _, err := realtime.ParseRoom(room); err != nil {
			return response.BadRequest(c, MsgInvalidRoom)
		}
		rooms = append(rooms, room)
	}

	conn := newSSEConn()
	socket, err := h.hub.Register(conn, userID)
	if err != nil {
		return response.InternalError(c)
	}
	for _, room := range rooms {
		if err := h.hub.Join(socket.ID, room); err != nil {
			h.hub.Unregister(socket.ID)
			return response.BadRequest(c, MsgInvalidRoom)
		}
	}
	_ = h.hub.SendTo(socket.ID, realtime.EventConnected, connectedPayload{
		SocketID: socket.ID,
		UserID:   userID,
		Rooms:    h.hub.Rooms(socket.ID),
	})

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	heartbeat := h.heartbeat
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer releaseSocket(h.hub, socket)
		if err := conn.pump(w, heartbeat); err != nil {
			h.logger.Debug("Event stream ended", "socketId", socket.ID, "error", err)
		}
	}))

	return nil
}

// sseConn hands frames from the hub's writer goroutine to the fasthttp
// stream goroutine, which owns the bufio.Writer.
type sseConn struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEConn() *sseConn {
	return &sseConn{
		frames: make(chan []byte),
		done:   make(chan struct{}),
	}
}

func (s *sseConn) Send(data []byte) error {
	select {
	case s.frames <- data:
		return nil
	case <-s.done:
		return errStreamClosed
	}
}

func (s *sseConn) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *sseConn) pump(w *bufio.Writer, heartbeat time.Duration) error {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-s.done:
			return nil
		case data := <-s.frames:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}
