package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://bridge@localhost/bridge")
	t.Setenv("CREDENTIAL_PASSPHRASE", "passphrase")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Engine.LoginChallengeTTL != 3*time.Minute {
		t.Errorf("expected 3m challenge ttl, got %v", cfg.Engine.LoginChallengeTTL)
	}
	if cfg.Engine.LoginCooldown != 5*time.Minute {
		t.Errorf("expected 5m login cooldown, got %v", cfg.Engine.LoginCooldown)
	}
	if cfg.Engine.HealthInterval != time.Minute || cfg.Engine.FailureThreshold != 3 {
		t.Errorf("unexpected health defaults %v/%d", cfg.Engine.HealthInterval, cfg.Engine.FailureThreshold)
	}
	if cfg.Engine.SaveInterval != time.Hour {
		t.Errorf("expected 1h save interval, got %v", cfg.Engine.SaveInterval)
	}
	if cfg.Alerts.Cooldown != 10*time.Minute {
		t.Errorf("expected 10m alert cooldown, got %v", cfg.Alerts.Cooldown)
	}
	if cfg.Store.Backend != StoreBackendPostgres {
		t.Errorf("expected postgres backend, got %s", cfg.Store.Backend)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development by default")
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("unexpected addr %s", cfg.Addr())
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("HEALTH_FAILURE_THRESHOLD", "5")
	t.Setenv("LOGIN_CHALLENGE_TTL", "90s")
	t.Setenv("CREDENTIAL_STORE", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.IsDevelopment() {
		t.Error("expected production")
	}
	if cfg.Server.Port != 9090 || cfg.Engine.FailureThreshold != 5 || cfg.Engine.LoginChallengeTTL != 90*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Store.Backend != StoreBackendSQLite {
		t.Errorf("expected sqlite backend, got %s", cfg.Store.Backend)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing key material", env: map[string]string{"CREDENTIAL_PASSPHRASE": ""}, wantErr: "CREDENTIAL_ENCRYPTION_KEY"},
		{name: "postgres without url", env: map[string]string{"DATABASE_URL": ""}, wantErr: "DATABASE_URL"},
		{name: "unknown backend", env: map[string]string{"CREDENTIAL_STORE": "redis"}, wantErr: "CREDENTIAL_STORE"},
		{name: "zero threshold", env: map[string]string{"HEALTH_FAILURE_THRESHOLD": "0"}, wantErr: "HEALTH_FAILURE_THRESHOLD"},
		{name: "probe longer than interval", env: map[string]string{"PROBE_TIMEOUT": "2m"}, wantErr: "PROBE_TIMEOUT"},
		{name: "inverted retry delays", env: map[string]string{"RETRY_MAX_DELAY": "100ms"}, wantErr: "RETRY_MAX_DELAY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HEALTH_INTERVAL", "soon")

	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}
}
