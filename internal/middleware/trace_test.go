package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func TestTraceIDRejectsUnsafeHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "spaces", header: "trace 123"},
		{name: "log injection", header: "abc\" level=ERROR msg=\"forged"},
		{name: "too long", header: strings.Repeat("a", maxTraceIDLength+1)},
		{name: "non ascii", header: "trace-é"},
	}

	app := fiber.New()
	app.Use(TraceID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetTraceID(c)) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(TraceIDHeader, tt.header)
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}

			got := resp.Header.Get(TraceIDHeader)
			if got == tt.header {
				t.Fatalf("expected unsafe trace id to be replaced, got %q", got)
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("expected a generated uuid, got %q", got)
			}
		})
	}
}

func TestTraceIDKeepsMaxLengthHeader(t *testing.T) {
	app := fiber.New()
	app.Use(TraceID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	id := strings.Repeat("a", maxTraceIDLength-4) + "_.-9"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, id)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := resp.Header.Get(TraceIDHeader); got != id {
		t.Errorf("expected %q to be kept, got %q", id, got)
	}
}

func TestRequestLoggerCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	app := fiber.New()
	app.Use(TraceID())
	app.Get("/", func(c *fiber.Ctx) error {
		RequestLogger(c, base).Info("handled")
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, "trace-456")
	if _, err := app.Test(req, -1); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if !strings.Contains(buf.String(), "traceId=trace-456") {
		t.Errorf("expected log line to carry the trace id, got %q", buf.String())
	}
}

func TestRequestLoggerWithoutTraceID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		RequestLogger(c, base).Info("handled")
		return c.SendStatus(fiber.StatusOK)
	})

	if _, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if strings.Contains(buf.String(), "traceId") {
		t.Errorf("expected no trace attr outside the middleware, got %q", buf.String())
	}
}
