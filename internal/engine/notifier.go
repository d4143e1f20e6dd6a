package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

type Notifier interface {
	Emit(event domain.Event)
}

// ChannelNotifier buffers engine events for a single consumer. Emit never
// blocks; when the buffer is full the event is dropped and counted.
type ChannelNotifier struct {
	events  chan domain.Event
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewChannelNotifier(bufferSize int, logger *slog.Logger) *ChannelNotifier {
	return &ChannelNotifier{
		events: make(chan domain.Event, bufferSize),
		logger: logger.With("component", "notifier"),
	}
}

func (n *ChannelNotifier) Events() <-chan domain.Event {
	return n.events
}

func (n *ChannelNotifier) Emit(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	select {
	case n.events <- event:
	default:
		n.dropped.Add(1)
		n.logger.Warn("Event buffer full, dropping event", "type", event.Type, "identity", event.ExternalIdentity)
	}
}

func (n *ChannelNotifier) Dropped() int64 {
	return n.dropped.Load()
}

func (n *ChannelNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.events)
}
