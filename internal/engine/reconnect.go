package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/connexto/msgbridge/internal/domain"
)

const (
	defaultRestartThreshold = 5
	defaultRestartWindow    = 10 * time.Minute
)

type ReconnectConfig struct {
	RestartThreshold int
	RestartWindow    time.Duration
}

type autoLoginStarter interface {
	BeginAutoLogin(ctx context.Context, accountID string) (*LoginHandle, error)
}

type credentialInvalidator interface {
	MarkInvalid(ctx context.Context, identity string) error
}

// ReconnectSupervisor brings unhealthy sessions back: a reconnect on the
// existing credential first, a fresh login for the owning account when that
// cannot work. Overlapping recoveries of one identity run once.
type ReconnectSupervisor struct {
	registry  *Registry
	client    *RateLimitedClient
	logins    autoLoginStarter
	store     credentialInvalidator
	notifier  Notifier
	logger    *slog.Logger
	threshold int
	window    time.Duration
	now       func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	attempts map[string][]time.Time
	fatal    chan domain.Event
}

func NewReconnectSupervisor(
	registry *Registry,
	client *RateLimitedClient,
	logins autoLoginStarter,
	store credentialInvalidator,
	notifier Notifier,
	cfg ReconnectConfig,
	logger *slog.Logger,
) *ReconnectSupervisor {
	if cfg.RestartThreshold <= 0 {
		cfg.RestartThreshold = defaultRestartThreshold
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = defaultRestartWindow
	}
	return &ReconnectSupervisor{
		registry:  registry,
		client:    client,
		logins:    logins,
		store:     store,
		notifier:  notifier,
		logger:    logger.With("component", "reconnect_supervisor"),
		threshold: cfg.RestartThreshold,
		window:    cfg.RestartWindow,
		now:       time.Now,
		attempts:  make(map[string][]time.Time),
		fatal:     make(chan domain.Event, 1),
	}
}

// Fatal delivers the first process-restart-required escalation.
func (s *ReconnectSupervisor) Fatal() <-chan domain.Event {
	return s.fatal
}

func (s *ReconnectSupervisor) Recover(ctx context.Context, identity string) error {
	_, err, shared := s.group.Do(identity, func() (any, error) {
		return nil, s.recover(ctx, identity)
	})
	if shared {
		s.logger.Debug("Joined in-flight recovery", "identity", identity)
	}
	return err
}

// Reset forgets recovery history for identity, e.g. after a fresh login.
func (s *ReconnectSupervisor) Reset(identity string) {
	s.mu.Lock()
	delete(s.attempts, identity)
	s.mu.Unlock()
}

// Attempts returns how many failed recoveries of identity fall in the
// current window.
func (s *ReconnectSupervisor) Attempts(identity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prune(identity, s.now()))
}

func (s *ReconnectSupervisor) recover(ctx context.Context, identity string) error {
	session, err := s.registry.Snapshot(identity)
	if err != nil {
		return err
	}
	accounts := s.registry.Accounts(identity)

	if session.Status != domain.SessionStatusInvalid {
		s.notifier.Emit(domain.Event{
			Type:             domain.EventReconnecting,
			AccountIDs:       accounts,
			ExternalIdentity: identity,
		})

		err := s.client.Reconnect(ctx, session.NetworkCredential())
		if err == nil {
			return s.reconnected(identity, accounts)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("Reconnect failed, falling back to login", "identity", identity, "error", err)
		if errors.Is(err, domain.ErrInvalidCredential) {
			session, _ = s.registry.Update(identity, func(sess *domain.Session) {
				sess.Status = domain.SessionStatusInvalid
			})
		}
	}

	// Only failed recoveries count toward a restart.
	if count := s.trackFailure(identity); count > s.threshold {
		s.escalate(identity, accounts, count)
		return domain.ErrRestartRequired
	}

	return s.reauth(ctx, session, accounts)
}

func (s *ReconnectSupervisor) reconnected(identity string, accounts []string) error {
	now := s.now()
	_, err := s.registry.Update(identity, func(sess *domain.Session) {
		sess.Status = domain.SessionStatusActive
		sess.ConsecutiveHealthFailures = 0
		sess.NeedsValidation = false
		sess.LastActivityAt = now
	})
	if err != nil {
		return err
	}

	s.Reset(identity)
	s.logger.Info("Session reconnected", "identity", identity)
	s.notifier.Emit(domain.Event{
		Type:             domain.EventReconnected,
		AccountIDs:       accounts,
		ExternalIdentity: identity,
	})
	return nil
}

func (s *ReconnectSupervisor) reauth(ctx context.Context, session domain.Session, accounts []string) error {
	identity := session.ExternalIdentity

	if session.Status == domain.SessionStatusInvalid && s.store != nil {
		if err := s.store.MarkInvalid(ctx, identity); err != nil {
			s.logger.Error("Failed to mark stored credential invalid", "identity", identity, "error", err)
		}
	}

	owner := session.AccountID
	if owner == "" && len(accounts) > 0 {
		owner = accounts[0]
	}
	if owner == "" {
		s.logger.Error("Session has no owning account, cannot start login", "identity", identity)
		return fmt.Errorf("recover %s: %w", identity, domain.ErrNoSession)
	}

	event := domain.Event{
		Type:             domain.EventReauthRequired,
		AccountIDs:       accounts,
		ExternalIdentity: identity,
	}

	handle, err := s.logins.BeginAutoLogin(ctx, owner)
	switch {
	case err == nil:
		event.Data = handle.Challenge()
	case errors.Is(err, domain.ErrConcurrentLogin):
		s.logger.Info("Login already in progress", "accountId", owner, "identity", identity)
	case errors.Is(err, domain.ErrLoginThrottled):
		event.Message = "automatic login suppressed by cooldown"
	default:
		s.notifier.Emit(event)
		return fmt.Errorf("begin login for %s: %w", owner, err)
	}

	s.notifier.Emit(event)
	return nil
}

func (s *ReconnectSupervisor) trackFailure(identity string) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := append(s.prune(identity, now), now)
	s.attempts[identity] = kept
	return len(kept)
}

// prune must be called with mu held.
func (s *ReconnectSupervisor) prune(identity string, now time.Time) []time.Time {
	cutoff := now.Add(-s.window)
	kept := s.attempts[identity][:0]
	for _, t := range s.attempts[identity] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.attempts[identity] = kept
	return kept
}

func (s *ReconnectSupervisor) escalate(identity string, accounts []string, count int) {
	event := domain.Event{
		Type:             domain.EventRestartRequired,
		AccountIDs:       accounts,
		ExternalIdentity: identity,
		Message:          fmt.Sprintf("%d failed recoveries within %s", count, s.window),
	}

	s.logger.Error("Failed recoveries exceeded, restart required",
		"identity", identity,
		"attempts", count,
		"window", s.window,
	)
	s.notifier.Emit(event)

	select {
	case s.fatal <- event:
	default:
	}
}
