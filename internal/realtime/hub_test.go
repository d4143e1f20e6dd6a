package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu      sync.Mutex
	frames  []Frame
	closed  bool
	block   chan struct{}
	sendErr error
}

func (c *fakeConn) Send(data []byte) error {
	if c.block != nil {
		<-c.block
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) received() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func eventually(t *testing.T, cond func() bool) {
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

func TestParseRoom(t *testing.T) {
	tests := []struct {
		name    string
		room    string
		want    Room
		wantErr bool
	}{
		{name: "account", room: "account:12", want: Room{Kind: RoomAccount, AccountID: "12"}},
		{name: "conversation", room: "conversation:12:g-77", want: Room{Kind: RoomConversation, AccountID: "12", ConversationID: "g-77"}},
		{name: "user", room: "user:5", want: Room{Kind: RoomUser, UserID: "5"}},
		{name: "empty", room: "", wantErr: true},
		{name: "unknown kind", room: "team:1", wantErr: true},
		{name: "missing id", room: "account:", wantErr: true},
		{name: "conversation missing part", room: "conversation:12", wantErr: true},
		{name: "padded id", room: "account: 12", wantErr: true},
		{name: "extra part", room: "account:1:2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRoom(tt.room)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRoom) {
					t.Fatalf("expected ErrInvalidRoom, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
			if got.String() != tt.room {
				t.Errorf("expected round trip to %q, got %q", tt.room, got.String())
			}
		})
	}
}

func TestHubBroadcastScopedToRoom(t *testing.T) {
	hub := NewHub(16, discardLogger())
	defer hub.Close()

	inRoom := &fakeConn{}
	outside := &fakeConn{}
	a, _ := hub.Register(inRoom, "")
	b, _ := hub.Register(outside, "")

	if err := hub.Join(a.ID, AccountRoom("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := hub.Join(b.ID, AccountRoom("2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	delivered, err := hub.Broadcast(AccountRoom("1"), "message", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 1 {
		t.Errorf("expected 1 delivery, got %d", delivered)
	}

	late := &fakeConn{}
	c, _ := hub.Register(late, "")
	_ = hub.Join(c.ID, AccountRoom("1"))

	eventually(t, func() bool { return len(inRoom.received()) == 1 })
	time.Sleep(20 * time.Millisecond)

	if got := inRoom.received()[0]; got.EventType != "message" || got.Room != AccountRoom("1") {
		t.Errorf("unexpected frame %+v", got)
	}
	if len(outside.received()) != 0 {
		t.Errorf("expected no frames outside the room, got %d", len(outside.received()))
	}
	if len(late.received()) != 0 {
		t.Errorf("expected late joiner to miss earlier broadcast, got %d", len(late.received()))
	}
}

func TestHubBroadcastGlobal(t *testing.T) {
	hub := NewHub(16, discardLogger())
	defer hub.Close()

	conns := []*fakeConn{{}, {}, {}}
	for _, c := range conns {
		_, _ = hub.Register(c, "")
	}

	delivered, _ := hub.BroadcastGlobal("maintenance", nil)
	if delivered != len(conns) {
		t.Errorf("expected %d deliveries, got %d", len(conns), delivered)
	}
	for _, c := range conns {
		eventually(t, func() bool { return len(c.received()) == 1 })
	}
}

func TestHubPreservesPublishOrder(t *testing.T) {
	hub := NewHub(128, discardLogger())
	defer hub.Close()

	conn := &fakeConn{}
	s, _ := hub.Register(conn, "")
	room := ConversationRoom("1", "c-9")
	_ = hub.Join(s.ID, room)

	for i := 0; i < 50; i++ {
		_, _ = hub.Broadcast(room, "message", i)
	}

	eventually(t, func() bool { return len(conn.received()) == 50 })
	for i, f := range conn.received() {
		if n, ok := f.Payload.(float64); !ok || int(n) != i {
			t.Fatalf("frame %d out of order: %+v", i, f.Payload)
		}
	}
}

func TestHubSlowSocketIsDroppedWithoutBlocking(t *testing.T) {
	hub := NewHub(2, discardLogger())
	defer hub.Close()

	slow := &fakeConn{block: make(chan struct{})}
	fast := &fakeConn{}
	s1, _ := hub.Register(slow, "")
	s2, _ := hub.Register(fast, "")
	room := AccountRoom("1")
	_ = hub.Join(s1.ID, room)
	_ = hub.Join(s2.ID, room)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_, _ = hub.Broadcast(room, "message", i)
			time.Sleep(2 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow socket")
	}

	eventually(t, func() bool { return len(fast.received()) == 10 })
	if hub.RoomSize(room) != 1 {
		t.Errorf("expected slow socket pruned from room, got %d members", hub.RoomSize(room))
	}

	close(slow.block)
	select {
	case <-s1.Stopped():
	case <-time.After(time.Second):
		t.Fatal("slow socket writer did not stop")
	}
	if !slow.isClosed() {
		t.Error("expected slow socket to be closed")
	}
}

func TestHubWriteErrorPrunesSocket(t *testing.T) {
	hub := NewHub(4, discardLogger())
	defer hub.Close()

	broken := &fakeConn{sendErr: errors.New("broken pipe")}
	s, _ := hub.Register(broken, "")
	_ = hub.Join(s.ID, AccountRoom("1"))

	_, _ = hub.Broadcast(AccountRoom("1"), "message", "x")

	eventually(t, func() bool { return hub.Stats().Sockets == 0 })
	if hub.Stats().Rooms != 0 {
		t.Errorf("expected empty room to be forgotten, got %d rooms", hub.Stats().Rooms)
	}
}

func TestHubMembership(t *testing.T) {
	hub := NewHub(4, discardLogger())
	defer hub.Close()

	s, _ := hub.Register(&fakeConn{}, "42")
	if rooms := hub.Rooms(s.ID); len(rooms) != 1 || rooms[0] != UserRoom("42") {
		t.Fatalf("expected personal room on register, got %v", rooms)
	}

	if err := hub.Join(s.ID, "bogus"); !errors.Is(err, ErrInvalidRoom) {
		t.Errorf("expected ErrInvalidRoom, got %v", err)
	}
	if err := hub.Join("missing", AccountRoom("1")); !errors.Is(err, ErrUnknownSocket) {
		t.Errorf("expected ErrUnknownSocket, got %v", err)
	}

	_ = hub.Join(s.ID, AccountRoom("1"))
	_ = hub.Leave(s.ID, AccountRoom("1"))
	if hub.RoomSize(AccountRoom("1")) != 0 {
		t.Error("expected room to be empty after leave")
	}

	stats := hub.Stats()
	if stats.Sockets != 1 || stats.Users != 1 || stats.Rooms != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	hub.Unregister(s.ID)
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("expected socket to be closed on unregister")
	}
	if hub.Stats().Rooms != 0 {
		t.Error("expected personal room forgotten after unregister")
	}
}

func TestHubClosedRejectsRegister(t *testing.T) {
	hub := NewHub(4, discardLogger())
	conn := &fakeConn{}
	_, _ = hub.Register(conn, "")
	hub.Close()

	if !conn.isClosed() {
		t.Error("expected open sockets to be closed")
	}
	if _, err := hub.Register(&fakeConn{}, ""); !errors.Is(err, ErrHubClosed) {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
}

// gatedConn blocks its first Send until released and records any call that
// arrives after Close.
type gatedConn struct {
	mu          sync.Mutex
	entered     chan struct{}
	release     chan struct{}
	sends       int
	afterClose  int
	closed      bool
	enteredOnce sync.Once
}

func newGatedConn() *gatedConn {
	return &gatedConn{entered: make(chan struct{}), release: make(chan struct{})}
}

func (c *gatedConn) Send([]byte) error {
	c.mu.Lock()
	c.sends++
	if c.closed {
		c.afterClose++
	}
	first := c.sends == 1
	c.mu.Unlock()

	if first {
		c.enteredOnce.Do(func() { close(c.entered) })
		<-c.release
	}
	return nil
}

func (c *gatedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *gatedConn) counts() (int, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends, c.afterClose, c.closed
}

func TestHubUnregisterWaitsForWriter(t *testing.T) {
	hub := NewHub(8, discardLogger())
	defer hub.Close()

	conn := newGatedConn()
	s, _ := hub.Register(conn, "")

	_ = hub.SendTo(s.ID, "message", 0)
	<-conn.entered
	for i := 1; i <= 4; i++ {
		_ = hub.SendTo(s.ID, "message", i)
	}

	returned := make(chan struct{})
	go func() {
		hub.Unregister(s.ID)
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Unregister returned while the writer was still sending")
	case <-time.After(30 * time.Millisecond):
	}

	close(conn.release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Unregister did not return after the send completed")
	}

	sends, afterClose, closed := conn.counts()
	if !closed {
		t.Error("expected connection closed by the time Unregister returns")
	}
	if sends != 1 {
		t.Errorf("expected queued frames to be discarded after unregister, got %d sends", sends)
	}
	if afterClose != 0 {
		t.Errorf("expected no sends after close, got %d", afterClose)
	}
}
