package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
	"github.com/connexto/msgbridge/internal/realtime"
)

const relaySideEffectTimeout = 15 * time.Second

type RoomBroadcaster interface {
	Broadcast(room, eventType string, payload any) (int, error)
}

type EventAlerter interface {
	HandleEvent(ctx context.Context, event domain.Event) bool
}

type StatusReporter interface {
	ReportEvent(ctx context.Context, event domain.Event) error
}

// EventRelay fans session events out to the realtime rooms of every affected
// account, then hands them to alerting and the business-app callback. Room
// delivery happens inline and in event order; the outbound calls run in the
// background so a slow webhook cannot stall the stream.
type EventRelay struct {
	rooms    RoomBroadcaster
	alerts   EventAlerter
	reporter StatusReporter
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewEventRelay(rooms RoomBroadcaster, alerts EventAlerter, reporter StatusReporter, logger *slog.Logger) *EventRelay {
	return &EventRelay{
		rooms:    rooms,
		alerts:   alerts,
		reporter: reporter,
		logger:   logger.With("component", "event_relay"),
	}
}

// Run consumes events until the channel closes, then waits for pending
// outbound calls.
func (r *EventRelay) Run(events <-chan domain.Event) {
	for event := range events {
		r.Relay(event)
	}
	r.wg.Wait()
}

func (r *EventRelay) Relay(event domain.Event) {
	for _, accountID := range event.AccountIDs {
		room := realtime.AccountRoom(accountID)
		if _, err := r.rooms.Broadcast(room, string(event.Type), event); err != nil {
			r.logger.Warn("Failed to broadcast event", "room", room, "type", event.Type, "error", err)
		}
	}

	if r.alerts == nil && r.reporter == nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), relaySideEffectTimeout)
		defer cancel()

		if r.alerts != nil {
			r.alerts.HandleEvent(ctx, event)
		}
		if r.reporter != nil {
			if err := r.reporter.ReportEvent(ctx, event); err != nil {
				r.logger.Warn("Failed to report session status",
					"type", event.Type,
					"accounts", event.AccountIDs,
					"error", err,
				)
			}
		}
	}()
}

// Wait blocks until background outbound calls finish.
func (r *EventRelay) Wait() {
	r.wg.Wait()
}
