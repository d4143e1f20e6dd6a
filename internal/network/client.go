package network

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
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 4 << 20
	apiKeyHeader     = "X-API-Key"
	confirmPollDelay = time.Second
)

// HTTPClient implements domain.NetworkClient against the network sidecar's
// JSON API. Status codes are classified here into the domain's sentinel
// errors.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pollDelay  time.Duration
	logger     *slog.Logger
}

var _ domain.NetworkClient = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		pollDelay:  confirmPollDelay,
		logger:     logger.With("component", "network_client"),
	}
}

func (c *HTTPClient) Login(ctx context.Context, accountID string) (domain.Challenge, error) {
	var w wireChallenge
	if err := c.call(ctx, http.MethodPost, "/login", loginRequest{AccountID: accountID}, &w); err != nil {
		return domain.Challenge{}, fmt.Errorf("login %s: %w", accountID, err)
	}
	challenge, err := normalizeChallenge(w)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("login %s: %w: %w", accountID, domain.ErrExternalNetwork, err)
	}
	return challenge, nil
}

// AwaitConfirmation long-polls the sidecar until the challenge is scanned, it
// expires, or ctx ends. The sidecar answers 204 while still pending.
func (c *HTTPClient) AwaitConfirmation(ctx context.Context, accountID string, challenge domain.Challenge) (domain.Confirmation, error) {
	path := fmt.Sprintf("/login/%s/confirmation?code=%s", url.PathEscape(accountID), url.QueryEscape(challenge.Code))

	for {
		var w wireConfirmation
		pending, err := c.poll(ctx, path, &w)
		switch {
		case err != nil:
			return domain.Confirmation{}, fmt.Errorf("await confirmation %s: %w", accountID, err)
		case !pending:
			confirmation, err := normalizeConfirmation(accountID, w)
			if err != nil {
				return domain.Confirmation{}, fmt.Errorf("await confirmation %s: %w: %w", accountID, domain.ErrExternalNetwork, err)
			}
			return confirmation, nil
		}

		select {
		case <-ctx.Done():
			return domain.Confirmation{}, ctx.Err()
		case <-time.After(c.pollDelay):
		}
	}
}

func (c *HTTPClient) Reconnect(ctx context.Context, cred domain.NetworkCredential) error {
	if err := c.call(ctx, http.MethodPost, "/session/reconnect", toCredentialBody(cred), nil); err != nil {
		return fmt.Errorf("reconnect %s: %w", cred.ExternalIdentity, err)
	}
	return nil
}

func (c *HTTPClient) Probe(ctx context.Context, cred domain.NetworkCredential) error {
	if err := c.call(ctx, http.MethodPost, "/session/probe", toCredentialBody(cred), nil); err != nil {
		return fmt.Errorf("probe %s: %w", cred.ExternalIdentity, err)
	}
	return nil
}

func (c *HTTPClient) Send(ctx context.Context, cred domain.NetworkCredential, msg domain.OutboundMessage) (domain.SendReceipt, error) {
	req := sendRequest{
		credentialBody: toCredentialBody(cred),
		ConversationID: msg.ConversationID,
		Text:           msg.Text,
		IsGroup:        msg.IsGroup,
	}

	var w wireReceipt
	if err := c.call(ctx, http.MethodPost, "/messages", req, &w); err != nil {
		return domain.SendReceipt{}, fmt.Errorf("send to %s: %w", msg.ConversationID, err)
	}
	return normalizeReceipt(w), nil
}

func (c *HTTPClient) ListContacts(ctx context.Context, cred domain.NetworkCredential) ([]domain.Contact, error) {
	body, err := c.callRaw(ctx, http.MethodPost, "/contacts", toCredentialBody(cred))
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	raw, err := decodeList[wireContact](body)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w: %w", domain.ErrExternalNetwork, err)
	}
	return normalizeContacts(raw), nil
}

func (c *HTTPClient) ListGroups(ctx context.Context, cred domain.NetworkCredential) ([]domain.Group, error) {
	body, err := c.callRaw(ctx, http.MethodPost, "/groups", toCredentialBody(cred))
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	raw, err := decodeList[wireGroup](body)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w: %w", domain.ErrExternalNetwork, err)
	}
	return normalizeGroups(raw), nil
}

func toCredentialBody(cred domain.NetworkCredential) credentialBody {
	return credentialBody{
		Identity:          cred.ExternalIdentity,
		Credential:        cred.Blob,
		DeviceFingerprint: cred.DeviceFingerprint,
	}
}

func (c *HTTPClient) call(ctx context.Context, method, path string, in, out any) error {
	body, err := c.callRaw(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrExternalNetwork, err)
	}
	return nil
}

func (c *HTTPClient) callRaw(ctx context.Context, method, path string, in any) ([]byte, error) {
	resp, body, err := c.do(ctx, method, path, in)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

// poll reports pending=true for 204 No Content.
func (c *HTTPClient) poll(ctx context.Context, path string, out any) (bool, error) {
	resp, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return true, nil
	case resp.StatusCode == http.StatusGone:
		return false, domain.ErrChallengeExpired
	case resp.StatusCode >= 300:
		return false, classifyStatus(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("%w: decode response: %w", domain.ErrExternalNetwork, err)
	}
	return false, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in any) (*http.Response, []byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read response: %w", domain.ErrTransientNetwork, err)
	}
	return resp, body, nil
}

// classifyStatus maps a non-2xx answer onto the sentinel errors the engine
// reacts to. The sidecar may refine a 4xx with an error code in the body.
func classifyStatus(status int, body []byte) error {
	var we wireError
	_ = json.Unmarshal(body, &we)
	code := strings.ToUpper(we.Error.Code)

	var kind error
	switch {
	case status == http.StatusTooManyRequests || code == "RATE_LIMITED" || code == "THROTTLED":
		kind = domain.ErrThrottled
	case status == http.StatusUnauthorized || status == http.StatusForbidden || code == "INVALID_CREDENTIAL":
		kind = domain.ErrInvalidCredential
	case status >= 500 || status == http.StatusRequestTimeout:
		kind = domain.ErrTransientNetwork
	default:
		kind = domain.ErrExternalNetwork
	}

	if we.Error.Message != "" {
		return fmt.Errorf("%w: status %d: %s", kind, status, we.Error.Message)
	}
	return fmt.Errorf("%w: status %d", kind, status)
}
