package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

const (
	defaultLoginChallengeTTL = 3 * time.Minute
	defaultLoginCooldown     = 5 * time.Minute
)

type LoginState string

const (
	LoginStatePending   LoginState = "pending"
	LoginStateConfirmed LoginState = "confirmed"
	LoginStateExpired   LoginState = "expired"
)

type LoginResult struct {
	State   LoginState
	Session domain.Session
}

// LoginHandle tracks one challenge from issue to confirmation or expiry.
type LoginHandle struct {
	challenge domain.LoginChallenge
	done      chan struct{}

	mu      sync.RWMutex
	state   LoginState
	session domain.Session
}

func newLoginHandle(challenge domain.LoginChallenge) *LoginHandle {
	return &LoginHandle{
		challenge: challenge,
		done:      make(chan struct{}),
		state:     LoginStatePending,
	}
}

func (h *LoginHandle) Challenge() domain.LoginChallenge {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.challenge
}

func (h *LoginHandle) State() LoginState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *LoginHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the current outcome without blocking.
func (h *LoginHandle) Result() LoginResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return LoginResult{State: h.state, Session: h.session.Clone()}
}

// Wait blocks until the challenge resolves or ctx ends. An expired challenge
// returns domain.ErrChallengeExpired.
func (h *LoginHandle) Wait(ctx context.Context) (LoginResult, error) {
	select {
	case <-ctx.Done():
		return h.Result(), ctx.Err()
	case <-h.done:
	}
	res := h.Result()
	if res.State == LoginStateExpired {
		return res, domain.ErrChallengeExpired
	}
	return res, nil
}

func (h *LoginHandle) resolve(state LoginState, session domain.Session) {
	h.mu.Lock()
	h.state = state
	h.session = session
	h.challenge.Resolved = state == LoginStateConfirmed
	h.mu.Unlock()
	close(h.done)
}

type LoginFlowConfig struct {
	ChallengeTTL time.Duration
	Cooldown     time.Duration
}

// LoginFlow issues challenges and turns confirmations into sessions. At most
// one challenge is open per account; a second BeginLogin fails fast.
type LoginFlow struct {
	network  domain.NetworkClient
	registry *Registry
	notifier Notifier
	logger   *slog.Logger
	ttl      time.Duration
	cooldown time.Duration
	now      func() time.Time

	pending     sync.Map // accountID -> *LoginHandle
	lastHistory sync.Map // accountID -> *LoginHandle, last resolved
	lastAuto    sync.Map // accountID -> time.Time

	onConfirmed func(ctx context.Context, session domain.Session)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLoginFlow(
	network domain.NetworkClient,
	registry *Registry,
	notifier Notifier,
	cfg LoginFlowConfig,
	logger *slog.Logger,
) *LoginFlow {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = defaultLoginChallengeTTL
	}
	switch {
	case cfg.Cooldown == 0:
		cfg.Cooldown = defaultLoginCooldown
	case cfg.Cooldown < 0:
		cfg.Cooldown = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LoginFlow{
		network:  network,
		registry: registry,
		notifier: notifier,
		logger:   logger.With("component", "login_flow"),
		ttl:      cfg.ChallengeTTL,
		cooldown: cfg.Cooldown,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnConfirmed registers a hook run after a confirmed session is stored.
func (f *LoginFlow) OnConfirmed(fn func(ctx context.Context, session domain.Session)) {
	f.onConfirmed = fn
}

// BeginLogin issues a challenge for accountID. It fails with
// domain.ErrConcurrentLogin while another challenge is open.
func (f *LoginFlow) BeginLogin(ctx context.Context, accountID string) (*LoginHandle, error) {
	if accountID == "" {
		return nil, domain.ErrInvalidInput
	}

	reservation := newLoginHandle(domain.LoginChallenge{AccountID: accountID})
	if _, loaded := f.pending.LoadOrStore(accountID, reservation); loaded {
		return nil, domain.ErrConcurrentLogin
	}

	challenge, err := f.network.Login(ctx, accountID)
	if err != nil {
		f.pending.Delete(accountID)
		return nil, fmt.Errorf("request login challenge: %w", err)
	}

	issuedAt := f.now()
	expiresAt := issuedAt.Add(f.ttl)
	if !challenge.ExpiresAt.IsZero() && challenge.ExpiresAt.Before(expiresAt) {
		expiresAt = challenge.ExpiresAt
	}

	reservation.mu.Lock()
	reservation.challenge = domain.LoginChallenge{
		AccountID: accountID,
		Code:      challenge.Code,
		ImageURL:  challenge.ImageURL,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
	reservation.mu.Unlock()

	f.logger.Info("Login challenge issued", "accountId", accountID, "expiresAt", expiresAt)
	f.notifier.Emit(domain.Event{
		Type:       domain.EventLoginChallenge,
		AccountIDs: []string{accountID},
		Data:       reservation.Challenge(),
	})

	f.wg.Add(1)
	go f.await(reservation, challenge)

	return reservation, nil
}

// BeginAutoLogin is BeginLogin for recovery paths. It is suppressed with
// domain.ErrLoginThrottled if the account had an automatic login within the
// cooldown.
func (f *LoginFlow) BeginAutoLogin(ctx context.Context, accountID string) (*LoginHandle, error) {
	now := f.now()
	if v, ok := f.lastAuto.Load(accountID); ok && f.cooldown > 0 {
		if now.Sub(v.(time.Time)) < f.cooldown {
			f.logger.Info("Automatic login suppressed by cooldown", "accountId", accountID)
			return nil, domain.ErrLoginThrottled
		}
	}

	h, err := f.BeginLogin(ctx, accountID)
	if err != nil {
		return nil, err
	}
	f.lastAuto.Store(accountID, now)
	return h, nil
}

// Pending returns the open challenge for accountID, if any.
func (f *LoginFlow) Pending(accountID string) (*LoginHandle, bool) {
	v, ok := f.pending.Load(accountID)
	if !ok {
		return nil, false
	}
	h := v.(*LoginHandle)
	if h.Challenge().Code == "" {
		return nil, false
	}
	return h, true
}

// Latest returns the open challenge, or the most recently resolved one.
func (f *LoginFlow) Latest(accountID string) (*LoginHandle, bool) {
	if h, ok := f.Pending(accountID); ok {
		return h, true
	}
	v, ok := f.lastHistory.Load(accountID)
	if !ok {
		return nil, false
	}
	return v.(*LoginHandle), true
}

// ResetCooldown forgets the last automatic login for accountID.
func (f *LoginFlow) ResetCooldown(accountID string) {
	f.lastAuto.Delete(accountID)
}

func (f *LoginFlow) await(h *LoginHandle, challenge domain.Challenge) {
	defer f.wg.Done()

	accountID := h.challenge.AccountID
	ctx, cancel := context.WithDeadline(f.ctx, h.Challenge().ExpiresAt)
	defer cancel()

	conf, err := f.network.AwaitConfirmation(ctx, accountID, challenge)
	if err == nil && conf.ExternalIdentity == "" {
		err = fmt.Errorf("%w: confirmation without identity", domain.ErrExternalNetwork)
	}
	if err != nil {
		f.expire(h, err)
		return
	}

	f.confirm(h, conf)
}

func (f *LoginFlow) confirm(h *LoginHandle, conf domain.Confirmation) {
	accountID := h.challenge.AccountID
	now := f.now()
	session := domain.Session{
		ExternalIdentity:  conf.ExternalIdentity,
		AccountID:         accountID,
		Credential:        conf.Credential,
		DeviceFingerprint: conf.DeviceFingerprint,
		Status:            domain.SessionStatusActive,
		LastActivityAt:    now,
		CreatedAt:         now,
	}

	if err := f.registry.Put(session); err != nil {
		f.logger.Error("Failed to store confirmed session", "accountId", accountID, "error", err)
		f.expire(h, err)
		return
	}

	f.logger.Info("Login confirmed", "accountId", accountID, "identity", conf.ExternalIdentity)

	if f.onConfirmed != nil {
		f.onConfirmed(f.ctx, session)
	}

	f.notifier.Emit(domain.Event{
		Type:             domain.EventLoginSucceeded,
		AccountIDs:       f.registry.Accounts(conf.ExternalIdentity),
		ExternalIdentity: conf.ExternalIdentity,
		Data: map[string]string{
			"displayName": conf.DisplayName,
		},
	})

	f.finish(accountID, h, LoginStateConfirmed, session)
}

func (f *LoginFlow) expire(h *LoginHandle, cause error) {
	accountID := h.challenge.AccountID
	f.finish(accountID, h, LoginStateExpired, domain.Session{})

	if errors.Is(f.ctx.Err(), context.Canceled) {
		return
	}

	f.logger.Info("Login challenge expired", "accountId", accountID, "reason", cause)
	f.notifier.Emit(domain.Event{
		Type:       domain.EventLoginTimeout,
		AccountIDs: []string{accountID},
		Message:    "login challenge expired",
	})
}

func (f *LoginFlow) finish(accountID string, h *LoginHandle, state LoginState, session domain.Session) {
	f.pending.CompareAndDelete(accountID, h)
	f.lastHistory.Store(accountID, h)
	h.resolve(state, session)
}

// Stop cancels every open challenge and waits for their goroutines.
func (f *LoginFlow) Stop() {
	f.cancel()
	f.wg.Wait()
}
