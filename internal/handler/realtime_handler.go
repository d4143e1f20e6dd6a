package handler

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/connexto/msgbridge/internal/realtime"
	"github.com/connexto/msgbridge/internal/response"
)

const (
	localUserID       = "realtimeUserId"
	wsWriteTimeout    = 10 * time.Second
	wsReadLimit       = 4096
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
)

// RealtimeHub is the part of realtime.Hub the transports use.
type RealtimeHub interface {
	Register(conn realtime.Conn, userID string) (*realtime.Socket, error)
	Unregister(socketID string)
	Join(socketID, room string) error
	Leave(socketID, room string) error
	Rooms(socketID string) []string
	SendTo(socketID, eventType string, payload any) error
	Broadcast(room, eventType string, payload any) (int, error)
	BroadcastGlobal(eventType string, payload any) (int, error)
	Stats() realtime.Stats
}

type TokenVerifier interface {
	Verify(token string) (string, error)
}

type BroadcastRequest struct {
	Room      string          `json:"room"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload" swaggertype:"object"`
}

type BroadcastResponse struct {
	Room      string `json:"room,omitempty"`
	Delivered int    `json:"delivered"`
}

type connectedPayload struct {
	SocketID string   `json:"socketId"`
	UserID   string   `json:"userId"`
	Rooms    []string `json:"rooms"`
}

type roomPayload struct {
	Room string `json:"room"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type RealtimeHandler struct {
	hub      RealtimeHub
	verifier TokenVerifier
	logger   *slog.Logger
}

func NewRealtimeHandler(hub RealtimeHub, verifier TokenVerifier, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:      hub,
		verifier: verifier,
		logger:   logger.With("component", "realtime_handler"),
	}
}

func (h *RealtimeHandler) Register(app *fiber.App) {
	app.Get("/realtime/ws", h.requireTokenForWebSocket, websocket.New(h.handleSocket,
		websocket.Config{
			ReadBufferSize:  wsReadBufferSize,
			WriteBufferSize: wsWriteBufferSize,
		},
	))

	v1 := app.Group(APIPrefix)
	v1.Post("/realtime/broadcast", h.Broadcast)
	v1.Get("/realtime/stats", h.Stats)
}

func (h *RealtimeHandler) requireTokenForWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID, err := h.verifier.Verify(realtimeToken(c))
	if err != nil {
		h.logger.Debug("Rejected realtime connection", "ip", c.IP(), "error", err)
		return response.Unauthorized(c, MsgInvalidToken)
	}
	c.Locals(localUserID, userID)
	return c.Next()
}

func (h *RealtimeHandler) handleSocket(c *websocket.Conn) {
	userID, _ := c.Locals(localUserID).(string)

	socket, err := h.hub.Register(&wsConn{conn: c}, userID)
	if err != nil {
		h.logger.Warn("Failed to register socket", "userId", userID, "error", err)
		return
	}
	defer releaseSocket(h.hub, socket)

	_ = h.hub.SendTo(socket.ID, realtime.EventConnected, connectedPayload{
		SocketID: socket.ID,
		UserID:   userID,
		Rooms:    h.hub.Rooms(socket.ID),
	})

	c.SetReadLimit(wsReadLimit)
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		h.handleClientFrame(socket.ID, data)
	}
}

func (h *RealtimeHandler) handleClientFrame(socketID string, data []byte) {
	var frame realtime.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		_ = h.hub.SendTo(socketID, realtime.EventError, errorPayload{Message: MsgInvalidFrame})
		return
	}

	var (
		err error
		ack string
	)
	switch frame.Action {
	case realtime.ActionJoin:
		ack = realtime.EventJoined
		err = h.hub.Join(socketID, frame.Room)
	case realtime.ActionLeave:
		ack = realtime.EventLeft
		err = h.hub.Leave(socketID, frame.Room)
	default:
		_ = h.hub.SendTo(socketID, realtime.EventError, errorPayload{Message: MsgUnknownAction})
		return
	}

	if err != nil {
		_ = h.hub.SendTo(socketID, realtime.EventError, errorPayload{Message: MsgInvalidRoom})
		return
	}
	_ = h.hub.SendTo(socketID, ack, roomPayload{Room: frame.Room})
}

// Broadcast godoc
// @Summary Publish an event to a room
// @Description Delivers to current members of the room only. An empty room broadcasts to every connected client.
// @Tags realtime
// @Accept json
// @Produce json
// @Param request body BroadcastRequest true "Event"
// @Success 200 {object} response.Envelope{data=BroadcastResponse}
// @Failure 400 {object} response.Envelope
// @Security ApiKeyAuth
// @Router /realtime/broadcast [post]
func (h *RealtimeHandler) Broadcast(c *fiber.Ctx) error {
	var req BroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, MsgInvalidRequestBody)
	}
	req.EventType = strings.TrimSpace(req.EventType)
	if req.EventType == "" {
		return response.BadRequest(c, MsgEventTypeRequired)
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	if req.Room == "" {
		delivered, err := h.hub.BroadcastGlobal(req.EventType, payload)
		if err != nil {
			return response.BadRequest(c, MsgInvalidRequestBody)
		}
		return response.OK(c, BroadcastResponse{Delivered: delivered})
	}

	if _, err := realtime.ParseRoom(req.Room); err != nil {
		return response.BadRequest(c, MsgInvalidRoom)
	}
	delivered, err := h.hub.Broadcast(req.Room, req.EventType, payload)
	if err != nil {
		return response.BadRequest(c, MsgInvalidRequestBody)
	}
	return response.OK(c, BroadcastResponse{Room: req.Room, Delivered: delivered})
}

// Stats godoc
// @Summary Realtime gateway statistics
// @Tags realtime
// @Produce json
// @Success 200 {object} response.Envelope{data=realtime.Stats}
// @Security ApiKeyAuth
// @Router /realtime/stats [get]
func (h *RealtimeHandler) Stats(c *fiber.Ctx) error {
	return response.OK(c, h.hub.Stats())
}

// wsConn adapts a websocket connection to realtime.Conn. The hub only writes
// from the socket's writer goroutine.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Send(data []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// releaseSocket returns only after the hub writer has stopped using the
// connection. The transport may free the connection afterwards.
func releaseSocket(hub RealtimeHub, socket *realtime.Socket) {
	hub.Unregister(socket.ID)
	<-socket.Stopped()
}

func realtimeToken(c *fiber.Ctx) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	return c.Get(fiber.HeaderAuthorization)
}
