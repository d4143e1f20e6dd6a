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
	defaultSaveInterval     = time.Hour
	defaultSaveInitialDelay = time.Minute
	finalFlushTimeout       = 30 * time.Second
)

// CredentialCipher seals credential blobs before they reach a repository.
type CredentialCipher interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

type CredentialStoreConfig struct {
	SaveInterval     time.Duration
	SaveInitialDelay time.Duration
}

type RestoreReport struct {
	Sessions  []domain.Session
	NeedLogin []string
	Failed    int
}

type CredentialStore struct {
	repo         domain.CredentialRepository
	cipher       CredentialCipher
	registry     *Registry
	logger       *slog.Logger
	interval     time.Duration
	initialDelay time.Duration
	now          func() time.Time
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewCredentialStore(
	repo domain.CredentialRepository,
	cipher CredentialCipher,
	registry *Registry,
	cfg CredentialStoreConfig,
	logger *slog.Logger,
) *CredentialStore {
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = defaultSaveInterval
	}
	if cfg.SaveInitialDelay <= 0 {
		cfg.SaveInitialDelay = defaultSaveInitialDelay
	}
	return &CredentialStore{
		repo:         repo,
		cipher:       cipher,
		registry:     registry,
		logger:       logger.With("component", "credential_store"),
		interval:     cfg.SaveInterval,
		initialDelay: cfg.SaveInitialDelay,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

func (c *CredentialStore) Save(ctx context.Context, session domain.Session) error {
	if session.ExternalIdentity == "" {
		return fmt.Errorf("%w: session without external identity", domain.ErrInvalidInput)
	}

	sealed, err := c.cipher.Seal(session.Credential)
	if err != nil {
		return fmt.Errorf("seal credential for %s: %w", session.ExternalIdentity, err)
	}

	record := domain.CredentialRecord{
		ExternalIdentity:  session.ExternalIdentity,
		AccountID:         session.AccountID,
		SealedCredential:  sealed,
		DeviceFingerprint: session.DeviceFingerprint,
		SavedAt:           c.now().UTC(),
		Invalid:           session.Status == domain.SessionStatusInvalid,
	}
	if err := c.repo.Upsert(ctx, record); err != nil {
		return fmt.Errorf("save credential for %s: %w", session.ExternalIdentity, err)
	}
	return nil
}

// SaveAll persists every active session and returns how many were written.
func (c *CredentialStore) SaveAll(ctx context.Context) (int, error) {
	var (
		saved int
		errs  []error
	)
	for _, s := range c.registry.List() {
		if s.Status != domain.SessionStatusActive {
			continue
		}
		if err := c.Save(ctx, s); err != nil {
			errs = append(errs, err)
			continue
		}
		saved++
	}

	if len(errs) > 0 {
		c.logger.Error("Credential save finished with errors", "saved", saved, "failed", len(errs))
		return saved, errors.Join(errs...)
	}
	c.logger.Info("Credentials saved", "count", saved)
	return saved, nil
}

// RestoreAll loads every persisted credential into the registry as a pending
// session awaiting its first probe. Accounts whose stored credential was
// already rejected are returned in NeedLogin.
func (c *CredentialStore) RestoreAll(ctx context.Context) (RestoreReport, error) {
	records, err := c.repo.FindAll(ctx)
	if err != nil {
		return RestoreReport{}, fmt.Errorf("load credentials: %w", err)
	}

	var report RestoreReport
	for _, rec := range records {
		if rec.Invalid {
			if rec.AccountID != "" {
				report.NeedLogin = append(report.NeedLogin, rec.AccountID)
			}
			continue
		}

		blob, err := c.cipher.Open(rec.SealedCredential)
		if err != nil {
			c.logger.Warn("Skipping unreadable credential", "identity", rec.ExternalIdentity, "error", err)
			report.Failed++
			if rec.AccountID != "" {
				report.NeedLogin = append(report.NeedLogin, rec.AccountID)
			}
			continue
		}

		session := domain.Session{
			ExternalIdentity:  rec.ExternalIdentity,
			AccountID:         rec.AccountID,
			Credential:        blob,
			DeviceFingerprint: rec.DeviceFingerprint,
			Status:            domain.SessionStatusPending,
			LastActivityAt:    rec.SavedAt,
			Restored:          true,
			NeedsValidation:   true,
		}
		if err := c.registry.Put(session); err != nil {
			c.logger.Warn("Skipping credential", "identity", rec.ExternalIdentity, "error", err)
			report.Failed++
			continue
		}
		report.Sessions = append(report.Sessions, session)
	}

	c.logger.Info("Credentials restored",
		"restored", len(report.Sessions),
		"needLogin", len(report.NeedLogin),
		"failed", report.Failed,
	)
	return report, nil
}

func (c *CredentialStore) MarkInvalid(ctx context.Context, identity string) error {
	if err := c.repo.MarkInvalid(ctx, identity); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("mark credential invalid for %s: %w", identity, err)
	}
	return nil
}

func (c *CredentialStore) Delete(ctx context.Context, identity string) error {
	if err := c.repo.Delete(ctx, identity); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete credential for %s: %w", identity, err)
	}
	return nil
}

func (c *CredentialStore) Start(ctx context.Context) {
	c.logger.Info("Starting credential saver", "interval", c.interval, "initialDelay", c.initialDelay)

	c.wg.Add(1)
	go c.run(ctx)
}

// Stop ends the periodic saver and flushes all active sessions once.
func (c *CredentialStore) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if _, err := c.SaveAll(ctx); err != nil {
		c.logger.Error("Final credential flush failed", "error", err)
	}
}

func (c *CredentialStore) run(ctx context.Context) {
	defer c.wg.Done()

	timer := time.NewTimer(c.initialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-c.stopCh:
		return
	case <-timer.C:
		c.saveQuietly(ctx)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.saveQuietly(ctx)
		}
	}
}

func (c *CredentialStore) saveQuietly(ctx context.Context) {
	if _, err := c.SaveAll(ctx); err != nil {
		c.logger.Warn("Periodic credential save failed", "error", err)
	}
}
