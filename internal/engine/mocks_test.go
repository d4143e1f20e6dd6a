package engine

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockNetwork struct {
	loginFunc             func(ctx context.Context, accountID string) (domain.Challenge, error)
	awaitConfirmationFunc func(ctx context.Context, accountID string, challenge domain.Challenge) (domain.Confirmation, error)
	reconnectFunc         func(ctx context.Context, cred domain.NetworkCredential) error
	probeFunc             func(ctx context.Context, cred domain.NetworkCredential) error
	sendFunc              func(ctx context.Context, cred domain.NetworkCredential, msg domain.OutboundMessage) (domain.SendReceipt, error)
	listContactsFunc      func(ctx context.Context, cred domain.NetworkCredential) ([]domain.Contact, error)
	listGroupsFunc        func(ctx context.Context, cred domain.NetworkCredential) ([]domain.Group, error)

	mu     sync.Mutex
	logins []string
}

func (m *mockNetwork) Login(ctx context.Context, accountID string) (domain.Challenge, error) {
	m.mu.Lock()
	m.logins = append(m.logins, accountID)
	m.mu.Unlock()
	if m.loginFunc != nil {
		return m.loginFunc(ctx, accountID)
	}
	return domain.Challenge{Code: "qr-" + accountID}, nil
}

// AwaitConfirmation blocks until ctx ends unless overridden, so challenges
// stay open.
func (m *mockNetwork) AwaitConfirmation(ctx context.Context, accountID string, challenge domain.Challenge) (domain.Confirmation, error) {
	if m.awaitConfirmationFunc != nil {
		return m.awaitConfirmationFunc(ctx, accountID, challenge)
	}
	<-ctx.Done()
	return domain.Confirmation{}, ctx.Err()
}

func (m *mockNetwork) Reconnect(ctx context.Context, cred domain.NetworkCredential) error {
	if m.reconnectFunc != nil {
		return m.reconnectFunc(ctx, cred)
	}
	return nil
}

func (m *mockNetwork) Probe(ctx context.Context, cred domain.NetworkCredential) error {
	if m.probeFunc != nil {
		return m.probeFunc(ctx, cred)
	}
	return nil
}

func (m *mockNetwork) Send(ctx context.Context, cred domain.NetworkCredential, msg domain.OutboundMessage) (domain.SendReceipt, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, cred, msg)
	}
	return domain.SendReceipt{MessageID: "msg-1", SentAt: time.Now()}, nil
}

func (m *mockNetwork) ListContacts(ctx context.Context, cred domain.NetworkCredential) ([]domain.Contact, error) {
	if m.listContactsFunc != nil {
		return m.listContactsFunc(ctx, cred)
	}
	return []domain.Contact{}, nil
}

func (m *mockNetwork) ListGroups(ctx context.Context, cred domain.NetworkCredential) ([]domain.Group, error) {
	if m.listGroupsFunc != nil {
		return m.listGroupsFunc(ctx, cred)
	}
	return []domain.Group{}, nil
}

func (m *mockNetwork) loginCalls(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.logins {
		if a == accountID {
			n++
		}
	}
	return n
}

type mockLookup struct {
	lookupFunc func(ctx context.Context, accountID string) (string, error)
}

func (m *mockLookup) LookupIdentity(ctx context.Context, accountID string) (string, error) {
	if m.lookupFunc != nil {
		return m.lookupFunc(ctx, accountID)
	}
	return "", domain.ErrNotFound
}

type memRepository struct {
	mu      sync.Mutex
	records map[string]domain.CredentialRecord
}

func newMemRepository() *memRepository {
	return &memRepository{records: make(map[string]domain.CredentialRecord)}
}

func (r *memRepository) Upsert(_ context.Context, record domain.CredentialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ExternalIdentity] = record
	return nil
}

func (r *memRepository) FindAll(_ context.Context) ([]domain.CredentialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CredentialRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExternalIdentity < out[j].ExternalIdentity
	})
	return out, nil
}

func (r *memRepository) MarkInvalid(_ context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[identity]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Invalid = true
	r.records[identity] = rec
	return nil
}

func (r *memRepository) Delete(_ context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[identity]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, identity)
	return nil
}

func (r *memRepository) get(identity string) (domain.CredentialRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[identity]
	return rec, ok
}

type base64Cipher struct{}

func (base64Cipher) Seal(plaintext []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

func (base64Cipher) Open(sealed string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(sealed)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Emit(event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(t domain.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == t {
			c++
		}
	}
	return c
}

type mockRecoverer struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockRecoverer) Recover(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, identity)
	return nil
}

func (m *mockRecoverer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func activeSession(identity, accountID string) domain.Session {
	return domain.Session{
		ExternalIdentity: identity,
		AccountID:        accountID,
		Credential:       []byte("cred-" + identity),
		Status:           domain.SessionStatusActive,
		LastActivityAt:   time.Now(),
	}
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
