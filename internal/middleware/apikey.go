package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/connexto/msgbridge/internal/response"
)

const APIKeyHeader = "X-API-Key"

type APIKeyConfig struct {
	Key    string
	Logger *slog.Logger
	// SkipPrefixes lists path prefixes served without a key.
	SkipPrefixes []string
}

// APIKey guards the control surface used by the business application. An
// empty key rejects every guarded request.
func APIKey(cfg APIKeyConfig) fiber.Handler {
	expected := []byte(cfg.Key)
	logger := cfg.Logger.With("component", "api_key")

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, prefix := range cfg.SkipPrefixes {
			if strings.HasPrefix(path, prefix) {
				return c.Next()
			}
		}

		provided := c.Get(APIKeyHeader)
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			logger.Debug("Rejected request", "path", path, "ip", c.IP(), "keyPresent", provided != "")
			return response.Unauthorized(c, "invalid or missing API key")
		}
		return c.Next()
	}
}
