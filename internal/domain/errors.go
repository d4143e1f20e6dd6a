package domain

import "errors"

var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInternalError = errors.New("internal server error")
	ErrTimeout       = errors.New("operation timed out")

	ErrNoSession         = errors.New("no session for account: login required")
	ErrConcurrentLogin   = errors.New("login already in progress for this account")
	ErrChallengeExpired  = errors.New("login challenge expired")
	ErrLoginThrottled    = errors.New("automatic login suppressed by cooldown")
	ErrSessionNotReady   = errors.New("session is reconnecting")
	ErrInvalidCredential = errors.New("credential rejected by external network")

	// ErrThrottled is the raw throttling signal from the external network.
	// ErrRateLimited is what callers see once retries are exhausted.
	ErrThrottled         = errors.New("external network throttled the request")
	ErrRateLimited       = errors.New("rate limited, retry later")
	ErrTransientNetwork  = errors.New("transient network error")
	ErrExternalNetwork   = errors.New("external network error")
	ErrIdentityNotMapped = errors.New("account has no external identity")
	ErrRestartRequired   = errors.New("recovery attempts exceeded, process restart required")
)

// IsRetryable reports whether an external call may succeed if repeated
// without new credentials.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrTransientNetwork)
}
