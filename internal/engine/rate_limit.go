package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/connexto/msgbridge/internal/domain"
)

const (
	defaultRetryMaxAttempts  = 5
	defaultRetryInitialDelay = 500 * time.Millisecond
	defaultRetryMaxDelay     = 30 * time.Second
)

type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultRetryMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultRetryInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultRetryMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// RateLimitedClient wraps outbound network calls. Throttled and transient
// failures are retried with a doubling delay up to MaxAttempts calls in
// total; any other error is returned after the first call.
type RateLimitedClient struct {
	network domain.NetworkClient
	policy  RetryPolicy
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

func NewRateLimitedClient(network domain.NetworkClient, policy RetryPolicy, logger *slog.Logger) *RateLimitedClient {
	return &RateLimitedClient{
		network: network,
		policy:  policy.withDefaults(),
		sleep:   sleepContext,
		logger:  logger.With("component", "rate_limited_client"),
	}
}

// Do runs fn under the retry policy. Exhausted throttling surfaces as
// domain.ErrRateLimited; exhausted transient failures keep their
// domain.ErrTransientNetwork classification.
func (c *RateLimitedClient) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.policy.InitialDelay
	b.MaxInterval = c.policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !domain.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == c.policy.MaxAttempts {
			break
		}

		delay := b.NextBackOff()
		c.logger.Debug("Retrying external call",
			"op", op,
			"attempt", attempt,
			"maxAttempts", c.policy.MaxAttempts,
			"delay", delay,
			"error", lastErr,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", op, errors.Join(err, lastErr))
		}
	}

	if errors.Is(lastErr, domain.ErrThrottled) {
		c.logger.Warn("External call rate limited after retries", "op", op, "attempts", c.policy.MaxAttempts)
		return fmt.Errorf("%s: %w", op, domain.ErrRateLimited)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func (c *RateLimitedClient) Reconnect(ctx context.Context, cred domain.NetworkCredential) error {
	return c.Do(ctx, "reconnect", func(ctx context.Context) error {
		return c.network.Reconnect(ctx, cred)
	})
}

func (c *RateLimitedClient) Send(ctx context.Context, cred domain.NetworkCredential, msg domain.OutboundMessage) (domain.SendReceipt, error) {
	var receipt domain.SendReceipt
	err := c.Do(ctx, "send", func(ctx context.Context) error {
		var err error
		receipt, err = c.network.Send(ctx, cred, msg)
		return err
	})
	return receipt, err
}

func (c *RateLimitedClient) ListContacts(ctx context.Context, cred domain.NetworkCredential) ([]domain.Contact, error) {
	var contacts []domain.Contact
	err := c.Do(ctx, "list contacts", func(ctx context.Context) error {
		var err error
		contacts, err = c.network.ListContacts(ctx, cred)
		return err
	})
	return contacts, err
}

func (c *RateLimitedClient) ListGroups(ctx context.Context, cred domain.NetworkCredential) ([]domain.Group, error) {
	var groups []domain.Group
	err := c.Do(ctx, "list groups", func(ctx context.Context) error {
		var err error
		groups, err = c.network.ListGroups(ctx, cred)
		return err
	})
	return groups, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
