package domain

import (
	"encoding/json"
	"time"
)

type AlertChannelType string

const (
	AlertChannelSlack    AlertChannelType = "slack"
	AlertChannelDiscord  AlertChannelType = "discord"
	AlertChannelTelegram AlertChannelType = "telegram"
	AlertChannelEmail    AlertChannelType = "email"
)

// AlertChannel is one operator destination. Config is the channel-specific
// JSON each sender understands.
type AlertChannel struct {
	Type   AlertChannelType `json:"type"`
	Name   string           `json:"name"`
	Config json.RawMessage  `json:"config"`
}

type AlertKind string

const (
	AlertSessionDisconnected AlertKind = "session_disconnected"
	AlertReauthRequired      AlertKind = "reauth_required"
	AlertSessionRestored     AlertKind = "session_restored"
	AlertRestartRequired     AlertKind = "restart_required"
)

type Alert struct {
	Kind             AlertKind
	AccountIDs       []string
	ExternalIdentity string
	Message          string
	Timestamp        time.Time
}

// AlertKindForEvent maps engine events onto operator alerts. Events that
// operators do not need to see report false.
func AlertKindForEvent(t EventType) (AlertKind, bool) {
	switch t {
	case EventSessionExpired:
		return AlertSessionDisconnected, true
	case EventReauthRequired:
		return AlertReauthRequired, true
	case EventReconnected:
		return AlertSessionRestored, true
	case EventRestartRequired:
		return AlertRestartRequired, true
	default:
		return "", false
	}
}
