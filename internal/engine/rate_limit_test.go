package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

func newTestRateLimitedClient(network *mockNetwork, policy RetryPolicy) (*RateLimitedClient, *[]time.Duration) {
	client := NewRateLimitedClient(network, policy, discardLogger())
	var delays []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return client, &delays
}

func TestRateLimitedClientRetriesUntilSuccess(t *testing.T) {
	tests := []struct {
		name        string
		failures    int
		maxAttempts int
		wantCalls   int
		wantErr     error
	}{
		{name: "first call succeeds", failures: 0, maxAttempts: 5, wantCalls: 1},
		{name: "succeeds on third call", failures: 2, maxAttempts: 5, wantCalls: 3},
		{name: "succeeds on last call", failures: 4, maxAttempts: 5, wantCalls: 5},
		{name: "exhausted", failures: 10, maxAttempts: 5, wantCalls: 5, wantErr: domain.ErrRateLimited},
		{name: "single attempt", failures: 1, maxAttempts: 1, wantCalls: 1, wantErr: domain.ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			network := &mockNetwork{
				reconnectFunc: func(ctx context.Context, cred domain.NetworkCredential) error {
					calls++
					if calls <= tt.failures {
						return domain.ErrThrottled
					}
					return nil
				},
			}
			client, delays := newTestRateLimitedClient(network, RetryPolicy{
				MaxAttempts:  tt.maxAttempts,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     time.Second,
			})

			err := client.Reconnect(context.Background(), domain.NetworkCredential{})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
			if len(*delays) != tt.wantCalls-1 {
				t.Errorf("expected %d sleeps, got %d", tt.wantCalls-1, len(*delays))
			}
			for i := 1; i < len(*delays); i++ {
				if (*delays)[i] < (*delays)[i-1] {
					t.Errorf("delays decreased: %v", *delays)
				}
			}
		})
	}
}

func TestRateLimitedClientDelaysDoubleAndCap(t *testing.T) {
	network := &mockNetwork{
		reconnectFunc: func(ctx context.Context, cred domain.NetworkCredential) error {
			return domain.ErrThrottled
		},
	}
	client, delays := newTestRateLimitedClient(network, RetryPolicy{
		MaxAttempts:  6,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
	})

	_ = client.Reconnect(context.Background(), domain.NetworkCredential{})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), *delays)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay %d: expected %s, got %s", i, want[i], (*delays)[i])
		}
	}
}

func TestRateLimitedClientNonRetryableErrorPropagates(t *testing.T) {
	calls := 0
	network := &mockNetwork{
		sendFunc: func(ctx context.Context, cred domain.NetworkCredential, msg domain.OutboundMessage) (domain.SendReceipt, error) {
			calls++
			return domain.SendReceipt{}, domain.ErrInvalidCredential
		},
	}
	client, delays := newTestRateLimitedClient(network, RetryPolicy{})

	_, err := client.Send(context.Background(), domain.NetworkCredential{}, domain.OutboundMessage{Text: "hi"})
	if !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if calls != 1 || len(*delays) != 0 {
		t.Errorf("expected a single unretried call, got %d calls and %d sleeps", calls, len(*delays))
	}
}

func TestRateLimitedClientTransientExhaustion(t *testing.T) {
	network := &mockNetwork{
		listGroupsFunc: func(ctx context.Context, cred domain.NetworkCredential) ([]domain.Group, error) {
			return nil, domain.ErrTransientNetwork
		},
	}
	client, _ := newTestRateLimitedClient(network, RetryPolicy{MaxAttempts: 3})

	_, err := client.ListGroups(context.Background(), domain.NetworkCredential{})
	if !errors.Is(err, domain.ErrTransientNetwork) {
		t.Fatalf("expected ErrTransientNetwork, got %v", err)
	}
	if errors.Is(err, domain.ErrRateLimited) {
		t.Error("transient exhaustion must not be reported as rate limited")
	}
}

func TestRateLimitedClientHonoursCancellation(t *testing.T) {
	network := &mockNetwork{
		listContactsFunc: func(ctx context.Context, cred domain.NetworkCredential) ([]domain.Contact, error) {
			return nil, domain.ErrThrottled
		},
	}
	client := NewRateLimitedClient(network, RetryPolicy{InitialDelay: time.Hour, MaxDelay: time.Hour}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.ListContacts(ctx, domain.NetworkCredential{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("expected sleep to stop on cancellation")
	}
}
