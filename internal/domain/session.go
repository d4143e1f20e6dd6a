package domain

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusActive  SessionStatus = "active"
	SessionStatusExpired SessionStatus = "expired"
	SessionStatusInvalid SessionStatus = "invalid"
)

// Session is the in-process view of one authenticated connection to the
// external network. ExternalIdentity is the registry key.
type Session struct {
	ExternalIdentity          string
	AccountID                 string
	Credential                []byte
	DeviceFingerprint         string
	Status                    SessionStatus
	LastActivityAt            time.Time
	ConsecutiveHealthFailures int
	CreatedAt                 time.Time
	Restored                  bool
	NeedsValidation           bool
}

// Clone returns a copy that shares no memory with s.
func (s Session) Clone() Session {
	out := s
	if s.Credential != nil {
		out.Credential = make([]byte, len(s.Credential))
		copy(out.Credential, s.Credential)
	}
	return out
}

// Probeable reports whether the health monitor should probe the session.
func (s Session) Probeable() bool {
	return s.Status == SessionStatusActive || s.NeedsValidation
}

func (s Session) NetworkCredential() NetworkCredential {
	return NetworkCredential{
		ExternalIdentity:  s.ExternalIdentity,
		Blob:              s.Credential,
		DeviceFingerprint: s.DeviceFingerprint,
	}
}

type AccountAlias struct {
	AccountID        string    `json:"accountId"`
	ExternalIdentity string    `json:"externalIdentity"`
	CreatedAt        time.Time `json:"createdAt"`
}

type LoginChallenge struct {
	AccountID string    `json:"accountId"`
	Code      string    `json:"code"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Resolved  bool      `json:"resolved"`
}

func (c LoginChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
