package di

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/wire"
	"github.com/lmittmann/tint"

	"github.com/connexto/msgbridge/internal/appclient"
	"github.com/connexto/msgbridge/internal/config"
	"github.com/connexto/msgbridge/internal/crypto"
	"github.com/connexto/msgbridge/internal/database"
	"github.com/connexto/msgbridge/internal/domain"
	"github.com/connexto/msgbridge/internal/engine"
	"github.com/connexto/msgbridge/internal/handler"
	"github.com/connexto/msgbridge/internal/network"
	"github.com/connexto/msgbridge/internal/realtime"
	"github.com/connexto/msgbridge/internal/repository"
	"github.com/connexto/msgbridge/internal/server"
	"github.com/connexto/msgbridge/internal/service"
)

var ConfigSet = wire.NewSet(
	config.Load,
)

var LoggerSet = wire.NewSet(
	ProvideLogger,
)

var StoreSet = wire.NewSet(
	ProvideCipher,
	wire.Bind(new(engine.CredentialCipher), new(*crypto.CredentialCipher)),
	ProvideCredentialRepository,
)

var ClientSet = wire.NewSet(
	ProvideNetworkClient,
	wire.Bind(new(domain.NetworkClient), new(*network.HTTPClient)),
	ProvideAppClient,
	wire.Bind(new(domain.IdentityLookup), new(*appclient.Client)),
)

var EngineSet = wire.NewSet(
	engine.New,
)

var RealtimeSet = wire.NewSet(
	ProvideHub,
	ProvideTokenVerifier,
	wire.Bind(new(handler.RealtimeHub), new(*realtime.Hub)),
	wire.Bind(new(handler.TokenVerifier), new(*realtime.TokenVerifier)),
)

var ServiceSet = wire.NewSet(
	ProvideAlertService,
	ProvideEventRelay,
)

var HandlerSet = wire.NewSet(
	ProvideHealthHandler,
	wire.Bind(new(handler.SessionEngine), new(*engine.Engine)),
	handler.NewSessionHandler,
	handler.NewRealtimeHandler,
	handler.NewSSEHandler,
	handler.NewSwaggerHandler,
)

var ServerSet = wire.NewSet(
	ProvideServerConfig,
	server.New,
)

var AppSet = wire.NewSet(
	ConfigSet,
	LoggerSet,
	StoreSet,
	ClientSet,
	EngineSet,
	RealtimeSet,
	ServiceSet,
	HandlerSet,
	ServerSet,
	wire.Struct(new(Application), "*"),
)

const Version = "0.1.0"

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProvideLogger logs colored text in development and JSON elsewhere.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)

	if cfg.IsDevelopment() {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		}))
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

func ProvideCipher(cfg *config.Config) (*crypto.CredentialCipher, error) {
	cipher, err := crypto.NewCredentialCipherFromConfig(cfg.Store.EncryptionKey, cfg.Store.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to build credential cipher: %w", err)
	}
	return cipher, nil
}

// ProvideCredentialRepository opens the configured credential backend. The
// Postgres backend is migrated before use; SQLite applies its own schema.
func ProvideCredentialRepository(cfg *config.Config, logger *slog.Logger) (domain.CredentialRepository, func(), error) {
	ctx := context.Background()

	var (
		db   *sql.DB
		repo domain.CredentialRepository
		err  error
	)

	switch cfg.Store.Backend {
	case config.StoreBackendSQLite:
		db, err = repository.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		repo = repository.NewSQLiteCredentialRepository(db)
		logger.Info("Using SQLite credential store", "path", cfg.Store.SQLitePath)
	default:
		db, err = database.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(db, resolveMigrationsPath(cfg.Database.MigrationsPath), logger); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		repo = repository.NewPostgresCredentialRepository(db)
		logger.Info("Using Postgres credential store")
	}

	cleanup := func() {
		_ = db.Close()
	}

	return repo, cleanup, nil
}

// resolveMigrationsPath tries the configured path as given, then relative to
// the executable.
func resolveMigrationsPath(configured string) string {
	if filepath.IsAbs(configured) {
		return configured
	}

	candidates := []string{configured}
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		candidates = append(candidates,
			filepath.Join(execDir, configured),
			filepath.Join(execDir, "..", "..", configured),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return configured
}

func ProvideNetworkClient(cfg *config.Config, logger *slog.Logger) *network.HTTPClient {
	return network.NewHTTPClient(cfg.Network.URL, cfg.Network.APIKey, cfg.Network.Timeout, logger)
}

func ProvideAppClient(cfg *config.Config, logger *slog.Logger) *appclient.Client {
	return appclient.NewClient(cfg.BusinessApp.URL, cfg.BusinessApp.APIKey, cfg.BusinessApp.Timeout, logger)
}

func ProvideHub(cfg *config.Config, logger *slog.Logger) (*realtime.Hub, func()) {
	hub := realtime.NewHub(cfg.Realtime.SendQueueSize, logger)
	return hub, hub.Close
}

func ProvideTokenVerifier(cfg *config.Config) *realtime.TokenVerifier {
	return realtime.NewTokenVerifier(cfg.Realtime.JWTSecret)
}

func ProvideAlertService(cfg *config.Config, logger *slog.Logger) *service.AlertService {
	return service.NewAlertService(service.ChannelsFromConfig(cfg.Alerts), cfg.Alerts.Cooldown, logger)
}

func ProvideEventRelay(
	hub *realtime.Hub,
	alerts *service.AlertService,
	appClient *appclient.Client,
	logger *slog.Logger,
) *service.EventRelay {
	return service.NewEventRelay(hub, alerts, appClient, logger)
}

func ProvideHealthHandler(eng *engine.Engine) *handler.HealthHandler {
	return handler.NewHealthHandler(Version, eng)
}

func ProvideServerConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		CorsOrigins:  cfg.Server.CORSOrigins,
		APIKey:       cfg.Server.APIKey,
		RateLimitMax: cfg.Server.RateLimitMax,
	}
}

type Application struct {
	Config          *config.Config
	Logger          *slog.Logger
	Engine          *engine.Engine
	Hub             *realtime.Hub
	AppClient       *appclient.Client
	Alerts          *service.AlertService
	Relay           *service.EventRelay
	Server          *server.Server
	HealthHandler   *handler.HealthHandler
	SessionHandler  *handler.SessionHandler
	RealtimeHandler *handler.RealtimeHandler
	SSEHandler      *handler.SSEHandler
	SwaggerHandler  *handler.SwaggerHandler
}
