package response

import (
	"github.com/gofiber/fiber/v2"
)

type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Error   *ErrorInfo  `json:"error"`
	Meta    Meta        `json:"meta"`
}

type ErrorInfo struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type Meta struct {
	TraceID string `json:"traceId,omitempty"`
}

type ErrorCode string

const (
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	ErrCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeRateLimited    ErrorCode = "RATE_LIMITED"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeLoginRequired  ErrorCode = "LOGIN_REQUIRED"
	ErrCodeLoginPending   ErrorCode = "LOGIN_IN_PROGRESS"
	ErrCodeNotReady       ErrorCode = "SESSION_NOT_READY"
	ErrCodeGone           ErrorCode = "GONE"
	ErrCodeUpstream       ErrorCode = "UPSTREAM_ERROR"
)

func OK(c *fiber.Ctx, data interface{}) error {
	return send(c, fiber.StatusOK, data, nil)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return send(c, fiber.StatusCreated, data, nil)
}

func BadRequest(c *fiber.Ctx, message string) error {
	return sendError(c, fiber.StatusBadRequest, ErrCodeInvalidPayload, message, nil)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return sendError(c, fiber.StatusUnauthorized, ErrCodeUnauthorized, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return sendError(c, fiber.StatusNotFound, ErrCodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx, message string) error {
	return sendError(c, fiber.StatusTooManyRequests, ErrCodeRateLimited, message, nil)
}

func Gone(c *fiber.Ctx, message string) error {
	return sendError(c, fiber.StatusGone, ErrCodeGone, message, nil)
}

func UpstreamError(c *fiber.Ctx, message string, details interface{}) error {
	return sendError(c, fiber.StatusBadGateway, ErrCodeUpstream, message, details)
}

func ErrorWithCode(c *fiber.Ctx, status int, code ErrorCode, message string, details interface{}) error {
	return sendError(c, status, code, message, details)
}

func InternalError(c *fiber.Ctx) error {
	return sendError(c, fiber.StatusInternalServerError, ErrCodeInternal, "internal server error", nil)
}

func send(c *fiber.Ctx, status int, data interface{}, errInfo *ErrorInfo) error {
	envelope := Envelope{
		Success: errInfo == nil,
		Data:    data,
		Error:   errInfo,
		Meta: Meta{
			TraceID: getTraceID(c),
		},
	}

	return c.Status(status).JSON(envelope)
}

func sendError(c *fiber.Ctx, status int, code ErrorCode, message string, details interface{}) error {
	errInfo := &ErrorInfo{
		Code:    code,
		Message: message,
		Details: details,
	}
	return send(c, status, nil, errInfo)
}

// traceIDLocal matches the key the trace middleware stores the id under.
const traceIDLocal = "traceId"

func getTraceID(c *fiber.Ctx) string {
	if id, ok := c.Locals(traceIDLocal).(string); ok {
		return id
	}
	return ""
}
