package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendSQLite   = "sqlite"

	EnvDevelopment = "development"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Store       StoreConfig
	Network     NetworkConfig
	BusinessApp BusinessAppConfig
	Engine      EngineConfig
	Realtime    RealtimeConfig
	Alerts      AlertsConfig
}

type ServerConfig struct {
	Env             string        `env:"APP_ENV" envDefault:"development"`
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	APIKey          string        `env:"BRIDGE_API_KEY"`
	CORSOrigins     string        `env:"CORS_ORIGINS" envDefault:"*"`
	RateLimitMax    int           `env:"HTTP_RATE_LIMIT_MAX" envDefault:"120"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type DatabaseConfig struct {
	URL            string `env:"DATABASE_URL"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`
}

type StoreConfig struct {
	Backend       string `env:"CREDENTIAL_STORE" envDefault:"postgres"`
	SQLitePath    string `env:"CREDENTIAL_SQLITE_PATH" envDefault:"data/credentials.db"`
	EncryptionKey string `env:"CREDENTIAL_ENCRYPTION_KEY"`
	Passphrase    string `env:"CREDENTIAL_PASSPHRASE"`
}

type NetworkConfig struct {
	URL     string        `env:"NETWORK_URL" envDefault:"http://localhost:3100"`
	APIKey  string        `env:"NETWORK_API_KEY"`
	Timeout time.Duration `env:"NETWORK_TIMEOUT" envDefault:"30s"`
}

type BusinessAppConfig struct {
	URL     string        `env:"BUSINESS_APP_URL"`
	APIKey  string        `env:"BUSINESS_APP_API_KEY"`
	Timeout time.Duration `env:"BUSINESS_APP_TIMEOUT" envDefault:"5s"`
}

type EngineConfig struct {
	LoginChallengeTTL time.Duration `env:"LOGIN_CHALLENGE_TTL" envDefault:"3m"`
	LoginCooldown     time.Duration `env:"LOGIN_COOLDOWN" envDefault:"5m"`
	HealthInterval    time.Duration `env:"HEALTH_INTERVAL" envDefault:"60s"`
	ProbeTimeout      time.Duration `env:"PROBE_TIMEOUT" envDefault:"10s"`
	FailureThreshold  int           `env:"HEALTH_FAILURE_THRESHOLD" envDefault:"3"`
	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"500ms"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	RestartThreshold  int           `env:"RESTART_THRESHOLD" envDefault:"5"`
	RestartWindow     time.Duration `env:"RESTART_WINDOW" envDefault:"10m"`
	SaveInterval      time.Duration `env:"SAVE_INTERVAL" envDefault:"1h"`
	SaveInitialDelay  time.Duration `env:"SAVE_INITIAL_DELAY" envDefault:"1m"`
	EventBuffer       int           `env:"EVENT_BUFFER" envDefault:"1000"`
}

type RealtimeConfig struct {
	JWTSecret     string `env:"REALTIME_JWT_SECRET"`
	SendQueueSize int    `env:"REALTIME_SEND_QUEUE" envDefault:"64"`
}

type AlertsConfig struct {
	Cooldown          time.Duration `env:"ALERT_COOLDOWN" envDefault:"10m"`
	SlackWebhookURL   string        `env:"ALERT_SLACK_WEBHOOK_URL"`
	DiscordWebhookURL string        `env:"ALERT_DISCORD_WEBHOOK_URL"`
	TelegramBotToken  string        `env:"ALERT_TELEGRAM_BOT_TOKEN"`
	TelegramChatID    string        `env:"ALERT_TELEGRAM_CHAT_ID"`
	SMTPHost          string        `env:"ALERT_SMTP_HOST"`
	SMTPPort          int           `env:"ALERT_SMTP_PORT" envDefault:"587"`
	SMTPUsername      string        `env:"ALERT_SMTP_USERNAME"`
	SMTPPassword      string        `env:"ALERT_SMTP_PASSWORD"`
	EmailFrom         string        `env:"ALERT_EMAIL_FROM"`
	EmailTo           string        `env:"ALERT_EMAIL_TO"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case StoreBackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when CREDENTIAL_STORE=postgres"))
		}
	case StoreBackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("CREDENTIAL_SQLITE_PATH is required when CREDENTIAL_STORE=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("CREDENTIAL_STORE must be %q or %q, got %q",
			StoreBackendPostgres, StoreBackendSQLite, c.Store.Backend))
	}

	if c.Store.EncryptionKey == "" && c.Store.Passphrase == "" {
		errs = append(errs, errors.New("one of CREDENTIAL_ENCRYPTION_KEY or CREDENTIAL_PASSPHRASE is required"))
	}
	if c.Engine.FailureThreshold < 1 {
		errs = append(errs, errors.New("HEALTH_FAILURE_THRESHOLD must be at least 1"))
	}
	if c.Engine.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Engine.RetryMaxDelay < c.Engine.RetryInitialDelay {
		errs = append(errs, errors.New("RETRY_MAX_DELAY must not be below RETRY_INITIAL_DELAY"))
	}
	if c.Engine.ProbeTimeout >= c.Engine.HealthInterval {
		errs = append(errs, errors.New("PROBE_TIMEOUT must be shorter than HEALTH_INTERVAL"))
	}
	if c.Realtime.SendQueueSize < 1 {
		errs = append(errs, errors.New("REALTIME_SEND_QUEUE must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Env, EnvDevelopment)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
