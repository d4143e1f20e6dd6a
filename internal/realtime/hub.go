package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const defaultQueueSize = 64

var (
	ErrUnknownSocket = errors.New("unknown socket")
	ErrHubClosed     = errors.New("realtime hub closed")
)

// Conn is one transport connection. Send and Close are only ever called from
// the socket's own writer goroutine, and Close is its last call.
type Conn interface {
	Send(data []byte) error
	Close() error
}

type Socket struct {
	ID     string
	UserID string

	conn       Conn
	queue      chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	rooms      map[string]struct{} // guarded by Hub.mu
}

// Done is closed once the hub has dropped the socket.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Stopped is closed once the writer has exited and closed the connection.
// No Send reaches the connection after that.
func (s *Socket) Stopped() <-chan struct{} {
	return s.writerDone
}

type Stats struct {
	Sockets int `json:"sockets"`
	Rooms   int `json:"rooms"`
	Users   int `json:"users"`
}

// Hub tracks sockets and room membership and fans frames out to them. Each
// socket has its own bounded queue and writer; a socket whose queue is full
// or whose write fails is dropped without affecting the others.
type Hub struct {
	mu        sync.RWMutex
	sockets   map[string]*Socket
	rooms     map[string]map[string]*Socket
	queueSize int
	closed    bool
	logger    *slog.Logger
}

func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		sockets:   make(map[string]*Socket),
		rooms:     make(map[string]map[string]*Socket),
		queueSize: queueSize,
		logger:    logger.With("component", "realtime_hub"),
	}
}

// Register adds a connection and starts its writer. A non-empty userID joins
// the socket to that user's personal room.
func (h *Hub) Register(conn Conn, userID string) (*Socket, error) {
	s := &Socket{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		queue:      make(chan []byte, h.queueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		rooms:      make(map[string]struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.sockets[s.ID] = s
	if userID != "" {
		h.joinLocked(s, UserRoom(userID))
	}
	h.mu.Unlock()

	go h.writeLoop(s)

	h.logger.Debug("Socket registered", "socketId", s.ID, "userId", userID)
	return s, nil
}

// Unregister drops the socket and waits for its writer to stop, so the
// caller may release the underlying connection once it returns.
func (h *Hub) Unregister(socketID string) {
	h.mu.RLock()
	s, ok := h.sockets[socketID]
	h.mu.RUnlock()

	h.drop(socketID, nil)
	if ok {
		<-s.writerDone
	}
}

func (h *Hub) Join(socketID, room string) error {
	if _, err := ParseRoom(room); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sockets[socketID]
	if !ok {
		return ErrUnknownSocket
	}
	h.joinLocked(s, room)
	return nil
}

func (h *Hub) Leave(socketID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sockets[socketID]
	if !ok {
		return ErrUnknownSocket
	}
	h.leaveLocked(s, room)
	return nil
}

// Broadcast queues a frame for every current member of room and returns how
// many sockets accepted it.
func (h *Hub) Broadcast(room, eventType string, payload any) (int, error) {
	data, err := encodeFrame(room, eventType, payload)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}

	h.mu.RLock()
	delivered, slow := enqueueAll(h.rooms[room], data)
	h.mu.RUnlock()

	h.dropSlow(slow)
	return delivered, nil
}

func (h *Hub) BroadcastGlobal(eventType string, payload any) (int, error) {
	data, err := encodeFrame("", eventType, payload)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}

	h.mu.RLock()
	delivered, slow := enqueueAll(h.sockets, data)
	h.mu.RUnlock()

	h.dropSlow(slow)
	return delivered, nil
}

// SendTo queues a frame for one socket only.
func (h *Hub) SendTo(socketID, eventType string, payload any) error {
	data, err := encodeFrame("", eventType, payload)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	h.mu.RLock()
	s, ok := h.sockets[socketID]
	accepted := ok && enqueue(s, data)
	h.mu.RUnlock()

	if !ok {
		return ErrUnknownSocket
	}
	if !accepted {
		h.drop(socketID, errQueueFull)
	}
	return nil
}

// Rooms lists the rooms a socket is in, sorted.
func (h *Hub) Rooms(socketID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sockets[socketID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make(map[string]struct{})
	for _, s := range h.sockets {
		if s.UserID != "" {
			users[s.UserID] = struct{}{}
		}
	}
	return Stats{
		Sockets: len(h.sockets),
		Rooms:   len(h.rooms),
		Users:   len(users),
	}
}

// Close drops every socket, waits for their writers and refuses new
// registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sockets := make([]*Socket, 0, len(h.sockets))
	for _, s := range h.sockets {
		sockets = append(sockets, s)
	}
	h.mu.Unlock()

	for _, s := range sockets {
		h.drop(s.ID, nil)
	}
	for _, s := range sockets {
		<-s.writerDone
	}
	h.logger.Info("Realtime hub closed", "sockets", len(sockets))
}

var errQueueFull = errors.New("send queue full")

func (h *Hub) joinLocked(s *Socket, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Socket)
		h.rooms[room] = members
	}
	members[s.ID] = s
	s.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(s *Socket, room string) {
	delete(s.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) drop(socketID string, cause error) {
	h.mu.Lock()
	s, ok := h.sockets[socketID]
	if ok {
		for room := range s.rooms {
			h.leaveLocked(s, room)
		}
		delete(h.sockets, socketID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
	if cause != nil {
		h.logger.Warn("Socket dropped", "socketId", socketID, "userId", s.UserID, "reason", cause)
	}
}

func (h *Hub) dropSlow(ids []string) {
	for _, id := range ids {
		h.drop(id, errQueueFull)
	}
}

// writeLoop owns the connection. A dropped socket stops before its next
// Send even when frames are still queued.
func (h *Hub) writeLoop(s *Socket) {
	defer close(s.writerDone)
	defer func() {
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.queue:
			if dropped(s) {
				return
			}
			if err := s.conn.Send(data); err != nil {
				h.drop(s.ID, err)
				return
			}
		}
	}
}

func dropped(s *Socket) bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func enqueueAll(members map[string]*Socket, data []byte) (int, []string) {
	delivered := 0
	var slow []string
	for id, s := range members {
		if enqueue(s, data) {
			delivered++
			continue
		}
		slow = append(slow, id)
	}
	return delivered, slow
}

func enqueue(s *Socket, data []byte) bool {
	select {
	case s.queue <- data:
		return true
	default:
		return false
	}
}
