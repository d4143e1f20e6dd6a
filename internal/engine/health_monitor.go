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
	defaultHealthInterval   = 60 * time.Second
	defaultProbeTimeout     = 10 * time.Second
	defaultFailureThreshold = 3
)

// Recoverer is what the monitor hands a failed session to.
type Recoverer interface {
	Recover(ctx context.Context, identity string) error
}

type HealthMonitorConfig struct {
	Interval         time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int
}

type ProbeOutcome string

const (
	ProbeHealthy      ProbeOutcome = "healthy"
	ProbeFailed       ProbeOutcome = "failed"
	ProbeExpired      ProbeOutcome = "expired"
	ProbeInvalid      ProbeOutcome = "invalid"
	ProbeInconclusive ProbeOutcome = "inconclusive"
	ProbeSkipped      ProbeOutcome = "skipped"
)

type HealthMonitor struct {
	registry  *Registry
	network   domain.NetworkClient
	recoverer Recoverer
	notifier  Notifier
	logger    *slog.Logger
	interval  time.Duration
	timeout   time.Duration
	threshold int
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewHealthMonitor(
	registry *Registry,
	network domain.NetworkClient,
	recoverer Recoverer,
	notifier Notifier,
	cfg HealthMonitorConfig,
	logger *slog.Logger,
) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	return &HealthMonitor{
		registry:  registry,
		network:   network,
		recoverer: recoverer,
		notifier:  notifier,
		logger:    logger.With("component", "health_monitor"),
		interval:  cfg.Interval,
		timeout:   cfg.ProbeTimeout,
		threshold: cfg.FailureThreshold,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

func (m *HealthMonitor) Start(ctx context.Context) {
	m.logger.Info("Starting health monitor", "interval", m.interval, "threshold", m.threshold)

	m.wg.Add(1)
	go m.run(ctx)
}

func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping health monitor")
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every eligible session concurrently and returns once all
// probes, and any recovery they triggered, have finished.
func (m *HealthMonitor) CheckAll(ctx context.Context) {
	sessions := m.registry.List()

	var wg sync.WaitGroup
	for _, s := range sessions {
		if !s.Probeable() {
			continue
		}
		wg.Add(1)
		go func(identity string) {
			defer wg.Done()
			m.ProbeNow(ctx, identity)
		}(s.ExternalIdentity)
	}
	wg.Wait()
}

// ProbeNow probes one session and applies the result.
func (m *HealthMonitor) ProbeNow(ctx context.Context, identity string) (ProbeOutcome, error) {
	s, err := m.registry.Snapshot(identity)
	if err != nil {
		return ProbeSkipped, err
	}
	if !s.Probeable() {
		return ProbeSkipped, nil
	}

	probeErr := m.probe(ctx, s.NetworkCredential())
	if ctx.Err() != nil {
		return ProbeSkipped, ctx.Err()
	}
	return m.apply(ctx, identity, probeErr)
}

// probe bounds one call; a hung call counts as a single transient failure.
func (m *HealthMonitor) probe(ctx context.Context, cred domain.NetworkCredential) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- m.network.Probe(ctx, cred)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: probe timed out after %s", domain.ErrTransientNetwork, m.timeout)
	}
}

func (m *HealthMonitor) apply(ctx context.Context, identity string, probeErr error) (ProbeOutcome, error) {
	outcome := ProbeSkipped
	now := m.now()

	updated, err := m.registry.Update(identity, func(s *domain.Session) {
		switch {
		case probeErr == nil:
			s.ConsecutiveHealthFailures = 0
			s.Status = domain.SessionStatusActive
			s.LastActivityAt = now
			s.NeedsValidation = false
			outcome = ProbeHealthy
		case errors.Is(probeErr, domain.ErrThrottled):
			outcome = ProbeInconclusive
		case errors.Is(probeErr, domain.ErrInvalidCredential):
			s.Status = domain.SessionStatusInvalid
			s.NeedsValidation = false
			outcome = ProbeInvalid
		case s.NeedsValidation:
			s.ConsecutiveHealthFailures++
			s.Status = domain.SessionStatusInvalid
			s.NeedsValidation = false
			outcome = ProbeInvalid
		case s.Status != domain.SessionStatusActive:
			outcome = ProbeSkipped
		default:
			s.ConsecutiveHealthFailures++
			outcome = ProbeFailed
			if s.ConsecutiveHealthFailures >= m.threshold {
				s.Status = domain.SessionStatusExpired
				outcome = ProbeExpired
			}
		}
	})
	if err != nil {
		return ProbeSkipped, err
	}

	switch outcome {
	case ProbeFailed:
		m.logger.Warn("Session probe failed",
			"identity", identity,
			"failures", updated.ConsecutiveHealthFailures,
			"threshold", m.threshold,
			"error", probeErr,
		)
	case ProbeInconclusive:
		m.logger.Debug("Session probe throttled", "identity", identity)
	case ProbeExpired, ProbeInvalid:
		m.logger.Warn("Session unhealthy, starting recovery",
			"identity", identity,
			"status", updated.Status,
			"restored", updated.Restored,
			"error", probeErr,
		)
		m.notifier.Emit(domain.Event{
			Type:             domain.EventSessionExpired,
			AccountIDs:       m.registry.Accounts(identity),
			ExternalIdentity: identity,
			Message:          string(updated.Status),
		})
		if err := m.recoverer.Recover(ctx, identity); err != nil {
			m.logger.Error("Session recovery failed", "identity", identity, "error", err)
		}
	}

	return outcome, nil
}
