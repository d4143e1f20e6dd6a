package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/connexto/msgbridge/internal/config"
	"github.com/connexto/msgbridge/internal/domain"
)

// StatusReport is the answer to "what state is this account in".
type StatusReport struct {
	AccountID           string                 `json:"accountId"`
	State               domain.UserState       `json:"state"`
	ExternalIdentity    string                 `json:"externalIdentity,omitempty"`
	SessionStatus       domain.SessionStatus   `json:"sessionStatus,omitempty"`
	ConsecutiveFailures int                    `json:"consecutiveFailures"`
	SharedWith          []string               `json:"sharedWith,omitempty"`
	PendingChallenge    *domain.LoginChallenge `json:"pendingChallenge,omitempty"`
	RecoveryAttempts    int                    `json:"recoveryAttempts"`
	LastActivityAt      *time.Time             `json:"lastActivityAt,omitempty"`
}

type Engine struct {
	cfg        *config.Config
	registry   *Registry
	resolver   *SessionSharingResolver
	client     *RateLimitedClient
	logins     *LoginFlow
	monitor    *HealthMonitor
	supervisor *ReconnectSupervisor
	store      *CredentialStore
	notifier   *ChannelNotifier
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

func New(
	cfg *config.Config,
	network domain.NetworkClient,
	lookup domain.IdentityLookup,
	repo domain.CredentialRepository,
	cipher CredentialCipher,
	logger *slog.Logger,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	notifier := NewChannelNotifier(cfg.Engine.EventBuffer, logger)
	registry := NewRegistry(logger)
	resolver := NewSessionSharingResolver(lookup, logger)
	registry.SetResolver(resolver)

	client := NewRateLimitedClient(network, RetryPolicy{
		MaxAttempts:  cfg.Engine.RetryMaxAttempts,
		InitialDelay: cfg.Engine.RetryInitialDelay,
		MaxDelay:     cfg.Engine.RetryMaxDelay,
	}, logger)

	logins := NewLoginFlow(network, registry, notifier, LoginFlowConfig{
		ChallengeTTL: cfg.Engine.LoginChallengeTTL,
		Cooldown:     cfg.Engine.LoginCooldown,
	}, logger)

	store := NewCredentialStore(repo, cipher, registry, CredentialStoreConfig{
		SaveInterval:     cfg.Engine.SaveInterval,
		SaveInitialDelay: cfg.Engine.SaveInitialDelay,
	}, logger)

	supervisor := NewReconnectSupervisor(registry, client, logins, store, notifier, ReconnectConfig{
		RestartThreshold: cfg.Engine.RestartThreshold,
		RestartWindow:    cfg.Engine.RestartWindow,
	}, logger)

	monitor := NewHealthMonitor(registry, network, supervisor, notifier, HealthMonitorConfig{
		Interval:         cfg.Engine.HealthInterval,
		ProbeTimeout:     cfg.Engine.ProbeTimeout,
		FailureThreshold: cfg.Engine.FailureThreshold,
	}, logger)

	e := &Engine{
		cfg:        cfg,
		registry:   registry,
		resolver:   resolver,
		client:     client,
		logins:     logins,
		monitor:    monitor,
		supervisor: supervisor,
		store:      store,
		notifier:   notifier,
		logger:     logger.With("component", "engine"),
		ctx:        ctx,
		cancel:     cancel,
	}
	logins.OnConfirmed(e.onLoginConfirmed)

	return e
}

// Start restores persisted sessions, requests logins for accounts whose
// stored credential was rejected, then starts the monitor and saver. The
// monitor's first round validates the restored sessions.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("Starting session engine")

	report, err := e.store.RestoreAll(ctx)
	if err != nil {
		e.logger.Error("Failed to restore sessions", "error", err)
	}

	for _, accountID := range report.NeedLogin {
		if _, err := e.logins.BeginAutoLogin(e.ctx, accountID); err != nil {
			e.logger.Warn("Failed to start login for restored account", "accountId", accountID, "error", err)
		}
	}

	e.monitor.Start(e.ctx)
	e.store.Start(e.ctx)

	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info("Stopping session engine...")
	e.cancel()
	e.monitor.Stop()
	e.wg.Wait()
	e.logins.Stop()
	e.store.Stop()
	e.notifier.Close()
	e.logger.Info("Session engine stopped")
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) Events() <-chan domain.Event {
	return e.notifier.Events()
}

func (e *Engine) Fatal() <-chan domain.Event {
	return e.supervisor.Fatal()
}

func (e *Engine) Notifier() Notifier {
	return e.notifier
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) onLoginConfirmed(ctx context.Context, session domain.Session) {
	e.resolver.Remember(session.AccountID, session.ExternalIdentity)
	e.supervisor.Reset(session.ExternalIdentity)
	e.logins.ResetCooldown(session.AccountID)

	if err := e.store.Save(ctx, session); err != nil {
		e.logger.Error("Failed to save credential after login", "identity", session.ExternalIdentity, "error", err)
	}
}

// RequestLogin starts an explicit login and returns the challenge to render.
func (e *Engine) RequestLogin(ctx context.Context, accountID string) (domain.LoginChallenge, error) {
	h, err := e.logins.BeginLogin(ctx, accountID)
	if err != nil {
		return domain.LoginChallenge{}, err
	}
	return h.Challenge(), nil
}

// LoginStatus returns the open or most recent challenge for accountID.
func (e *Engine) LoginStatus(accountID string) (domain.LoginChallenge, LoginState, error) {
	h, ok := e.logins.Latest(accountID)
	if !ok {
		return domain.LoginChallenge{}, "", domain.ErrNotFound
	}
	return h.Challenge(), h.State(), nil
}

func (e *Engine) Status(ctx context.Context, accountID string) (StatusReport, error) {
	report := StatusReport{AccountID: accountID}

	if h, ok := e.logins.Pending(accountID); ok {
		c := h.Challenge()
		report.PendingChallenge = &c
	}

	session, err := e.registry.Get(ctx, accountID)
	if err != nil {
		report.State = domain.StateForError(err)
		if report.PendingChallenge != nil {
			report.State = domain.StatePendingLogin
		}
		if errors.Is(err, domain.ErrNoSession) {
			return report, nil
		}
		return report, err
	}

	report.ExternalIdentity = session.ExternalIdentity
	report.SessionStatus = session.Status
	report.State = domain.StateForSession(session)
	report.ConsecutiveFailures = session.ConsecutiveHealthFailures
	report.SharedWith = e.registry.Accounts(session.ExternalIdentity)
	report.RecoveryAttempts = e.supervisor.Attempts(session.ExternalIdentity)
	if !session.LastActivityAt.IsZero() {
		t := session.LastActivityAt.UTC()
		report.LastActivityAt = &t
	}
	if report.PendingChallenge != nil && session.Status != domain.SessionStatusActive {
		report.State = domain.StatePendingLogin
	}
	return report, nil
}

// RequestAlias points accountID at the session it shares with another
// account, asking the business application which identity that is.
func (e *Engine) RequestAlias(ctx context.Context, accountID string) (domain.AccountAlias, error) {
	if _, err := e.registry.Get(ctx, accountID); err != nil {
		return domain.AccountAlias{}, err
	}
	alias, ok := e.registry.Alias(accountID)
	if !ok {
		return domain.AccountAlias{}, domain.ErrNoSession
	}
	return alias, nil
}

// Logout removes the session the account resolves to, every alias of it and
// the stored credential.
func (e *Engine) Logout(ctx context.Context, accountID string) ([]string, error) {
	identity, ok := e.registry.Identity(accountID)
	if !ok {
		return nil, domain.ErrNoSession
	}

	accounts := e.registry.Remove(identity)
	for _, a := range accounts {
		e.resolver.Forget(a)
	}
	e.supervisor.Reset(identity)

	if err := e.store.Delete(ctx, identity); err != nil {
		return accounts, err
	}

	e.notifier.Emit(domain.Event{
		Type:             domain.EventSessionRemoved,
		AccountIDs:       accounts,
		ExternalIdentity: identity,
	})
	return accounts, nil
}

func (e *Engine) Send(ctx context.Context, accountID string, msg domain.OutboundMessage) (domain.SendReceipt, error) {
	session, err := e.readySession(ctx, accountID)
	if err != nil {
		return domain.SendReceipt{}, err
	}
	receipt, err := e.client.Send(ctx, session.NetworkCredential(), msg)
	e.afterCall(session, err)
	return receipt, err
}

func (e *Engine) Contacts(ctx context.Context, accountID string) ([]domain.Contact, error) {
	session, err := e.readySession(ctx, accountID)
	if err != nil {
		return nil, err
	}
	contacts, err := e.client.ListContacts(ctx, session.NetworkCredential())
	e.afterCall(session, err)
	return contacts, err
}

func (e *Engine) Groups(ctx context.Context, accountID string) ([]domain.Group, error) {
	session, err := e.readySession(ctx, accountID)
	if err != nil {
		return nil, err
	}
	groups, err := e.client.ListGroups(ctx, session.NetworkCredential())
	e.afterCall(session, err)
	return groups, err
}

func (e *Engine) ProbeNow(ctx context.Context, accountID string) (ProbeOutcome, error) {
	session, err := e.registry.Get(ctx, accountID)
	if err != nil {
		return ProbeSkipped, err
	}
	return e.monitor.ProbeNow(ctx, session.ExternalIdentity)
}

func (e *Engine) SaveAll(ctx context.Context) (int, error) {
	return e.store.SaveAll(ctx)
}

func (e *Engine) SessionCount() int {
	return e.registry.Len()
}

func (e *Engine) readySession(ctx context.Context, accountID string) (domain.Session, error) {
	session, err := e.registry.Get(ctx, accountID)
	if err != nil {
		return domain.Session{}, err
	}
	switch session.Status {
	case domain.SessionStatusActive:
		return session, nil
	case domain.SessionStatusInvalid:
		return domain.Session{}, fmt.Errorf("account %s: %w", accountID, domain.ErrInvalidCredential)
	default:
		return domain.Session{}, fmt.Errorf("account %s: %w", accountID, domain.ErrSessionNotReady)
	}
}

// afterCall hands a session whose credential was rejected mid-call to the
// supervisor without holding up the caller.
func (e *Engine) afterCall(session domain.Session, err error) {
	if !errors.Is(err, domain.ErrInvalidCredential) {
		return
	}

	identity := session.ExternalIdentity
	if _, uerr := e.registry.Update(identity, func(s *domain.Session) {
		s.Status = domain.SessionStatusInvalid
	}); uerr != nil {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.supervisor.Recover(e.ctx, identity); err != nil {
			e.logger.Warn("Recovery after rejected call failed", "identity", identity, "error", err)
		}
	}()
}
