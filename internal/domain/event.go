package domain

import "time"

type EventType string

const (
	EventLoginChallenge  EventType = "login-challenge"
	EventLoginSucceeded  EventType = "login-succeeded"
	EventLoginTimeout    EventType = "login-timeout"
	EventReconnecting    EventType = "session-reconnecting"
	EventReconnected     EventType = "session-reconnected"
	EventSessionExpired  EventType = "session-expired"
	EventReauthRequired  EventType = "reauth-required"
	EventRestartRequired EventType = "process-restart-required"
	EventSessionRemoved  EventType = "session-removed"
)

// Event is emitted by the engine and fanned out to realtime rooms, the
// business application and operator alerts. AccountIDs lists every account
// sharing the session so each account room receives it.
type Event struct {
	Type             EventType `json:"type"`
	AccountIDs       []string  `json:"accountIds,omitempty"`
	ExternalIdentity string    `json:"externalIdentity,omitempty"`
	Message          string    `json:"message,omitempty"`
	Data             any       `json:"data,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}
