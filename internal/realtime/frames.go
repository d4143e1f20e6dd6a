package realtime

import (
	"encoding/json"
	"time"
)

const (
	ActionJoin  = "join"
	ActionLeave = "leave"

	EventConnected = "connected"
	EventJoined    = "joined"
	EventLeft      = "left"
	EventError     = "error"
)

// ClientFrame is what a websocket client sends.
type ClientFrame struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// Frame is what every subscriber receives.
type Frame struct {
	EventType string    `json:"eventType"`
	Room      string    `json:"room,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeFrame(room, eventType string, payload any) ([]byte, error) {
	return json.Marshal(Frame{
		EventType: eventType,
		Room:      room,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}
