package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	TraceIDHeader = "X-Trace-ID"
	TraceIDKey    = "traceId"

	maxTraceIDLength = 64
)

// TraceID tags every request with a trace id. A caller-supplied id is kept
// when it is short and made of URL-safe characters; anything else is
// replaced so it can't smuggle text into logs or response headers.
func TraceID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		traceID := c.Get(TraceIDHeader)
		if !validTraceID(traceID) {
			traceID = uuid.NewString()
		}

		c.Locals(TraceIDKey, traceID)
		c.Set(TraceIDHeader, traceID)

		return c.Next()
	}
}

func GetTraceID(c *fiber.Ctx) string {
	if id, ok := c.Locals(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestLogger returns base annotated with the request's trace id.
func RequestLogger(c *fiber.Ctx, base *slog.Logger) *slog.Logger {
	if id := GetTraceID(c); id != "" {
		return base.With(TraceIDKey, id)
	}
	return base
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.':
		default:
			return false
		}
	}
	return true
}
