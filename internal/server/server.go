package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/connexto/msgbridge/internal/middleware"
	"github.com/connexto/msgbridge/internal/response"
)

const (
	defaultRateLimitMax = 120
	rateLimitWindow     = 1 * time.Minute
	apiPrefix           = "/bridge/v1"
)

type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CorsOrigins  string
	APIKey       string
	RateLimitMax int
}

// Registrar is implemented by every handler.
type Registrar interface {
	Register(app *fiber.App)
}

type Server struct {
	app    *fiber.App
	config Config
	logger *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Messaging Bridge",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(log),
	})

	s := &Server{
		app:    app,
		config: cfg,
		logger: log.With("component", "server"),
	}

	s.setupMiddlewares()

	return s
}

// isStreamPath reports paths that hold a connection open. They are neither
// access-logged per frame nor rate limited.
func isStreamPath(path string) bool {
	return strings.HasPrefix(path, "/realtime/")
}

func (s *Server) setupMiddlewares() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(middleware.TraceID())

	s.app.Use(securityHeaders)

	corsOrigins := s.config.CorsOrigins
	if corsOrigins == "*" || corsOrigins == "" {
		s.logger.Warn("CORS_ORIGINS is wildcard or empty; in production, set explicit origins")
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:  corsOrigins,
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Content-Type,Authorization,X-Trace-ID,X-API-Key",
		ExposeHeaders: "X-Trace-ID",
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | trace=${locals:traceId}\n",
		TimeFormat: "2006-01-02 15:04:05",
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || isStreamPath(c.Path())
		},
	}))

	rateLimitMax := s.config.RateLimitMax
	if rateLimitMax <= 0 {
		rateLimitMax = defaultRateLimitMax
	}
	s.app.Use(limiter.New(limiter.Config{
		Max:        rateLimitMax,
		Expiration: rateLimitWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return response.RateLimited(c, "too many requests")
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || isStreamPath(c.Path())
		},
	}))

	s.app.Use(apiPrefix, middleware.APIKey(middleware.APIKeyConfig{
		Key:          s.config.APIKey,
		Logger:       s.logger,
		SkipPrefixes: []string{apiPrefix + "/health", apiPrefix + "/swagger"},
	}))
}

func securityHeaders(c *fiber.Ctx) error {
	c.Set("X-Content-Type-Options", "nosniff")
	c.Set("X-Frame-Options", "DENY")
	c.Set("Referrer-Policy", "no-referrer")
	if c.Protocol() == "https" {
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
	return c.Next()
}

func (s *Server) Register(handlers ...Registrar) {
	for _, h := range handlers {
		h.Register(s.app)
	}
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("Server listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("Shutting down server...")
	return s.app.ShutdownWithTimeout(timeout)
}

func customErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		errCode := response.ErrCodeInternal
		message := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message

			switch code {
			case fiber.StatusBadRequest:
				errCode = response.ErrCodeInvalidPayload
			case fiber.StatusUnauthorized:
				errCode = response.ErrCodeUnauthorized
			case fiber.StatusNotFound:
				errCode = response.ErrCodeNotFound
			case fiber.StatusConflict:
				errCode = response.ErrCodeConflict
			case fiber.StatusTooManyRequests:
				errCode = response.ErrCodeRateLimited
			}
		}

		traceID := middleware.GetTraceID(c)

		if code >= fiber.StatusInternalServerError {
			middleware.RequestLogger(c, log).Error("Request error",
				"path", c.Path(),
				"method", c.Method(),
				"error", err.Error(),
				"status", code,
			)
		}

		return c.Status(code).JSON(response.Envelope{
			Success: false,
			Error: &response.ErrorInfo{
				Code:    errCode,
				Message: message,
			},
			Meta: response.Meta{
				TraceID: traceID,
			},
		})
	}
}
