package appclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

func newTestAppClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "app-key", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLookupIdentity(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "string id", status: http.StatusOK, body: `{"success":true,"data":{"zalo_id":"84123"}}`, want: "84123"},
		{name: "numeric id", status: http.StatusOK, body: `{"success":true,"data":{"zalo_id":84123456789012}}`, want: "84123456789012"},
		{name: "explicit identity field", status: http.StatusOK, body: `{"success":true,"data":{"externalIdentity":"zid-9"}}`, want: "zid-9"},
		{name: "null id", status: http.StatusOK, body: `{"success":true,"data":{"zalo_id":null}}`, wantErr: domain.ErrIdentityNotMapped},
		{name: "unsuccessful", status: http.StatusOK, body: `{"success":false,"data":{"zalo_id":"1"}}`, wantErr: domain.ErrIdentityNotMapped},
		{name: "not found", status: http.StatusNotFound, body: `{}`, wantErr: domain.ErrIdentityNotMapped},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantErr: domain.ErrExternalNetwork},
		{name: "bad json", status: http.StatusOK, body: `nope`, wantErr: domain.ErrExternalNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestAppClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/zalo/accounts/7/zalo-id" || r.Header.Get(apiKeyHeader) != "app-key" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			got, err := c.LookupIdentity(context.Background(), "7")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLookupIdentityDisabled(t *testing.T) {
	c := NewClient("", "", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := c.LookupIdentity(context.Background(), "7"); !errors.Is(err, domain.ErrIdentityNotMapped) {
		t.Errorf("expected ErrIdentityNotMapped, got %v", err)
	}
	if err := c.ReportEvent(context.Background(), domain.Event{Type: domain.EventLoginSucceeded, AccountIDs: []string{"7"}}); err != nil {
		t.Errorf("expected disabled client to skip reports, got %v", err)
	}
}

func TestReportEvent(t *testing.T) {
	var mu sync.Mutex
	var reports []StatusReport
	c := newTestAppClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/zalo/session-status" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var report StatusReport
		_ = json.NewDecoder(r.Body).Decode(&report)
		mu.Lock()
		reports = append(reports, report)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	err := c.ReportEvent(context.Background(), domain.Event{
		Type:             domain.EventReauthRequired,
		AccountIDs:       []string{"7", "9"},
		ExternalIdentity: "zid-1",
		Timestamp:        time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(reports) != 2 {
		t.Fatalf("expected one report per account, got %d", len(reports))
	}
	for _, r := range reports {
		if r.Status != StatusLoginRequired || r.ExternalIdentity != "zid-1" {
			t.Errorf("unexpected report %+v", r)
		}
	}

	if err := c.ReportEvent(context.Background(), domain.Event{Type: domain.EventLoginChallenge, AccountIDs: []string{"7"}}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(reports) != 2 {
		t.Error("login challenges should not be reported")
	}
}

func TestReportStatusFailure(t *testing.T) {
	c := newTestAppClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := c.ReportEvent(context.Background(), domain.Event{Type: domain.EventLoginSucceeded, AccountIDs: []string{"7"}})
	if err == nil {
		t.Error("expected error for rejected callback")
	}
}
