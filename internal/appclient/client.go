package appclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

const (
	defaultTimeout = 5 * time.Second
	apiKeyHeader   = "X-API-Key"
)

// Client talks to the business application: it resolves which external
// identity an account logged in with and receives session status changes.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

var _ domain.IdentityLookup = (*Client)(nil)

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger.With("component", "app_client"),
	}
}

func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

type identityResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ZaloID           json.RawMessage `json:"zalo_id"`
		ExternalIdentity string          `json:"externalIdentity"`
	} `json:"data"`
}

// LookupIdentity returns domain.ErrIdentityNotMapped when the business app
// knows no identity for the account.
func (c *Client) LookupIdentity(ctx context.Context, accountID string) (string, error) {
	if !c.Enabled() {
		return "", domain.ErrIdentityNotMapped
	}

	endpoint := fmt.Sprintf("%s/api/zalo/accounts/%s/zalo-id", c.baseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup identity %s: %w: %w", accountID, domain.ErrExternalNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", domain.ErrIdentityNotMapped
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("lookup identity %s: %w: unexpected status %d: %s",
			accountID, domain.ErrExternalNetwork, resp.StatusCode, string(respBody))
	}

	var body identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("lookup identity %s: %w: decode response: %w", accountID, domain.ErrExternalNetwork, err)
	}

	identity := body.Data.ExternalIdentity
	if identity == "" {
		identity = rawScalar(body.Data.ZaloID)
	}
	if !body.Success || identity == "" {
		return "", domain.ErrIdentityNotMapped
	}
	return identity, nil
}

// rawScalar reads a JSON string or number as a string. The business app sends
// numeric ids in some versions.
func rawScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

type SessionStatus string

const (
	StatusConnected     SessionStatus = "connected"
	StatusDisconnected  SessionStatus = "disconnected"
	StatusReconnecting  SessionStatus = "reconnecting"
	StatusLoginRequired SessionStatus = "login_required"
)

type StatusReport struct {
	AccountID        string        `json:"account_id"`
	Status           SessionStatus `json:"status"`
	ExternalIdentity string        `json:"zalo_id,omitempty"`
	Message          string        `json:"message,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// StatusForEvent maps engine events onto the status callback vocabulary.
func StatusForEvent(t domain.EventType) (SessionStatus, bool) {
	switch t {
	case domain.EventLoginSucceeded, domain.EventReconnected:
		return StatusConnected, true
	case domain.EventReconnecting, domain.EventSessionExpired:
		return StatusReconnecting, true
	case domain.EventReauthRequired:
		return StatusLoginRequired, true
	case domain.EventSessionRemoved:
		return StatusDisconnected, true
	default:
		return "", false
	}
}

// ReportEvent posts one status callback per account affected by event.
func (c *Client) ReportEvent(ctx context.Context, event domain.Event) error {
	status, ok := StatusForEvent(event.Type)
	if !ok || !c.Enabled() {
		return nil
	}

	var firstErr error
	for _, accountID := range event.AccountIDs {
		err := c.ReportStatus(ctx, StatusReport{
			AccountID:        accountID,
			Status:           status,
			ExternalIdentity: event.ExternalIdentity,
			Message:          event.Message,
			Timestamp:        event.Timestamp,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) ReportStatus(ctx context.Context, report StatusReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/zalo/session-status", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("report status %s: %w", report.AccountID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("report status %s: unexpected status %d", report.AccountID, resp.StatusCode)
	}
	c.logger.Debug("Reported session status", "accountId", report.AccountID, "status", report.Status)
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
}
