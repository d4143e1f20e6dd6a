package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/connexto/msgbridge/internal/domain"
)

// SessionSharingResolver answers "which external identity does this account
// share a session with" by asking the business application. Answers are
// cached for the process lifetime, and concurrent questions about the same
// account are coalesced into one lookup.
type SessionSharingResolver struct {
	lookup  domain.IdentityLookup
	group   singleflight.Group
	known   sync.Map // accountID -> identity
	lookups atomic.Int64
	logger  *slog.Logger
}

func NewSessionSharingResolver(lookup domain.IdentityLookup, logger *slog.Logger) *SessionSharingResolver {
	return &SessionSharingResolver{
		lookup: lookup,
		logger: logger.With("component", "session_sharing_resolver"),
	}
}

func (r *SessionSharingResolver) Resolve(ctx context.Context, accountID string) (string, error) {
	if v, ok := r.known.Load(accountID); ok {
		return v.(string), nil
	}
	if r.lookup == nil {
		return "", domain.ErrIdentityNotMapped
	}

	v, err, _ := r.group.Do(accountID, func() (any, error) {
		if v, ok := r.known.Load(accountID); ok {
			return v.(string), nil
		}

		r.lookups.Add(1)
		identity, err := r.lookup.LookupIdentity(ctx, accountID)
		if err != nil {
			return "", err
		}
		identity = strings.TrimSpace(identity)
		if identity == "" {
			return "", domain.ErrIdentityNotMapped
		}

		r.known.Store(accountID, identity)
		r.logger.Debug("Resolved account identity", "accountId", accountID, "identity", identity)
		return identity, nil
	})
	if err != nil {
		return "", fmt.Errorf("lookup identity: %w", err)
	}
	return v.(string), nil
}

// Remember records a mapping learned elsewhere, e.g. from a confirmed login.
func (r *SessionSharingResolver) Remember(accountID, identity string) {
	if accountID == "" || identity == "" {
		return
	}
	r.known.Store(accountID, identity)
}

func (r *SessionSharingResolver) Forget(accountID string) {
	r.known.Delete(accountID)
}

// Lookups reports how many calls reached the business application.
func (r *SessionSharingResolver) Lookups() int64 {
	return r.lookups.Load()
}
