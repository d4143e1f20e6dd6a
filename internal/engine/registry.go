package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

const (
	accountKeyPrefix  = "account:"
	identityKeyPrefix = "identity:"
)

// AliasResolver maps an account with no alias yet to the external identity
// it shares a session with.
type AliasResolver interface {
	Resolve(ctx context.Context, accountID string) (string, error)
}

// Registry owns every Session, keyed by external identity, and the
// account-to-identity aliases. Mutations are serialized per key; lock order
// is always account key before identity key.
type Registry struct {
	keys     *KeyedMutex
	sessions sync.Map // identity -> *domain.Session, copy-on-write
	aliases  sync.Map // accountID -> domain.AccountAlias
	resolver AliasResolver
	logger   *slog.Logger
	now      func() time.Time
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		keys:   NewKeyedMutex(),
		logger: logger.With("component", "session_registry"),
		now:    time.Now,
	}
}

// SetResolver installs the lazy alias resolver. It must be called before the
// registry is shared between goroutines.
func (r *Registry) SetResolver(resolver AliasResolver) {
	r.resolver = resolver
}

// Get returns a snapshot of the session the account resolves to, creating
// the alias on first use. It returns domain.ErrNoSession when the account
// has to log in.
func (r *Registry) Get(ctx context.Context, accountID string) (domain.Session, error) {
	if accountID == "" {
		return domain.Session{}, domain.ErrInvalidInput
	}

	if s, ok := r.lookupAccount(accountID); ok {
		return s, nil
	}
	if r.resolver == nil {
		return domain.Session{}, domain.ErrNoSession
	}

	unlock := r.keys.Lock(accountKeyPrefix + accountID)
	defer unlock()

	if s, ok := r.lookupAccount(accountID); ok {
		return s, nil
	}

	identity, err := r.resolver.Resolve(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotMapped) || errors.Is(err, domain.ErrNotFound) {
			return domain.Session{}, domain.ErrNoSession
		}
		return domain.Session{}, fmt.Errorf("resolve alias for account %s: %w", accountID, err)
	}

	unlockIdentity := r.keys.Lock(identityKeyPrefix + identity)
	defer unlockIdentity()

	s, ok := r.load(identity)
	if !ok {
		return domain.Session{}, domain.ErrNoSession
	}

	r.storeAlias(accountID, identity)
	r.logger.Info("Created session alias", "accountId", accountID, "identity", identity)
	return s, nil
}

// Put stores the session under its identity, replacing any previous session
// for the same identity, and aliases its owning account to it.
func (r *Registry) Put(session domain.Session) error {
	if session.ExternalIdentity == "" {
		return fmt.Errorf("%w: session without external identity", domain.ErrInvalidInput)
	}

	if session.AccountID != "" {
		unlockAccount := r.keys.Lock(accountKeyPrefix + session.AccountID)
		defer unlockAccount()
	}
	unlock := r.keys.Lock(identityKeyPrefix + session.ExternalIdentity)
	defer unlock()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.now()
	}
	stored := session.Clone()
	r.sessions.Store(session.ExternalIdentity, &stored)

	if session.AccountID != "" {
		r.storeAlias(session.AccountID, session.ExternalIdentity)
	}
	return nil
}

// CreateAlias points accountID at an existing session.
func (r *Registry) CreateAlias(accountID, identity string) (domain.AccountAlias, error) {
	if accountID == "" || identity == "" {
		return domain.AccountAlias{}, domain.ErrInvalidInput
	}

	unlock := r.keys.Lock(accountKeyPrefix + accountID)
	defer unlock()
	unlockIdentity := r.keys.Lock(identityKeyPrefix + identity)
	defer unlockIdentity()

	if _, ok := r.load(identity); !ok {
		return domain.AccountAlias{}, domain.ErrNoSession
	}
	if existing, ok := r.alias(accountID); ok && existing.ExternalIdentity == identity {
		return existing, nil
	}
	return r.storeAlias(accountID, identity), nil
}

// Alias returns the alias for accountID without resolving.
func (r *Registry) Alias(accountID string) (domain.AccountAlias, bool) {
	return r.alias(accountID)
}

// Update applies fn to the stored session while holding its identity lock
// and returns the resulting snapshot.
func (r *Registry) Update(identity string, fn func(s *domain.Session)) (domain.Session, error) {
	unlock := r.keys.Lock(identityKeyPrefix + identity)
	defer unlock()

	v, ok := r.sessions.Load(identity)
	if !ok {
		return domain.Session{}, domain.ErrNoSession
	}
	next := v.(*domain.Session).Clone()
	fn(&next)
	next.ExternalIdentity = identity
	r.sessions.Store(identity, &next)
	return next.Clone(), nil
}

// Snapshot returns a copy of the session stored under identity.
func (r *Registry) Snapshot(identity string) (domain.Session, error) {
	s, ok := r.load(identity)
	if !ok {
		return domain.Session{}, domain.ErrNoSession
	}
	return s, nil
}

// Remove drops the session and every alias pointing at it. Aliases are only
// created under the identity lock while the session exists, so sweeping
// after the delete catches every one of them.
func (r *Registry) Remove(identity string) []string {
	unlock := r.keys.Lock(identityKeyPrefix + identity)
	r.sessions.Delete(identity)
	unlock()

	accounts := r.Accounts(identity)
	for _, accountID := range accounts {
		unlockAccount := r.keys.Lock(accountKeyPrefix + accountID)
		a, ok := r.alias(accountID)
		_, live := r.load(identity)
		if ok && a.ExternalIdentity == identity && !live {
			r.aliases.Delete(accountID)
		}
		unlockAccount()
	}

	r.logger.Info("Removed session", "identity", identity, "aliases", len(accounts))
	return accounts
}

// Accounts lists every account aliased to identity, sorted.
func (r *Registry) Accounts(identity string) []string {
	var accounts []string
	r.aliases.Range(func(key, value any) bool {
		if value.(domain.AccountAlias).ExternalIdentity == identity {
			accounts = append(accounts, key.(string))
		}
		return true
	})
	sort.Strings(accounts)
	return accounts
}

// Identity returns the identity an account is aliased to, if any.
func (r *Registry) Identity(accountID string) (string, bool) {
	a, ok := r.alias(accountID)
	if !ok {
		return "", false
	}
	return a.ExternalIdentity, true
}

// List returns snapshots of all sessions ordered by identity.
func (r *Registry) List() []domain.Session {
	var out []domain.Session
	r.sessions.Range(func(_, value any) bool {
		out = append(out, value.(*domain.Session).Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExternalIdentity < out[j].ExternalIdentity
	})
	return out
}

func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *Registry) AliasCount() int {
	n := 0
	r.aliases.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *Registry) lookupAccount(accountID string) (domain.Session, bool) {
	a, ok := r.alias(accountID)
	if !ok {
		return domain.Session{}, false
	}
	return r.load(a.ExternalIdentity)
}

func (r *Registry) alias(accountID string) (domain.AccountAlias, bool) {
	v, ok := r.aliases.Load(accountID)
	if !ok {
		return domain.AccountAlias{}, false
	}
	return v.(domain.AccountAlias), true
}

func (r *Registry) storeAlias(accountID, identity string) domain.AccountAlias {
	a := domain.AccountAlias{
		AccountID:        accountID,
		ExternalIdentity: identity,
		CreatedAt:        r.now(),
	}
	r.aliases.Store(accountID, a)
	return a
}

// load reads a session without taking its key lock. Stored sessions are
// never mutated in place; Update swaps in a fresh copy.
func (r *Registry) load(identity string) (domain.Session, bool) {
	v, ok := r.sessions.Load(identity)
	if !ok {
		return domain.Session{}, false
	}
	return v.(*domain.Session).Clone(), true
}
