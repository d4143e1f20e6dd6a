package domain

import "errors"

// UserState is the category shown to end users. Raw errors never leave the
// process; they are folded into one of these.
type UserState string

const (
	StateActive        UserState = "active"
	StateValidating    UserState = "validating"
	StatePendingLogin  UserState = "pending_login"
	StateLoginRequired UserState = "login_required"
	StateReconnecting  UserState = "reconnecting"
	StateRateLimited   UserState = "rate_limited"
	StateUnavailable   UserState = "unavailable"
)

func StateForSession(s Session) UserState {
	switch s.Status {
	case SessionStatusActive:
		return StateActive
	case SessionStatusPending:
		if s.NeedsValidation {
			return StateValidating
		}
		return StatePendingLogin
	case SessionStatusExpired:
		return StateReconnecting
	default:
		return StateLoginRequired
	}
}

func StateForError(err error) UserState {
	switch {
	case err == nil:
		return StateActive
	case errors.Is(err, ErrNoSession),
		errors.Is(err, ErrInvalidCredential),
		errors.Is(err, ErrIdentityNotMapped):
		return StateLoginRequired
	case errors.Is(err, ErrConcurrentLogin):
		return StatePendingLogin
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrThrottled):
		return StateRateLimited
	case errors.Is(err, ErrSessionNotReady), errors.Is(err, ErrTransientNetwork):
		return StateReconnecting
	default:
		return StateUnavailable
	}
}
