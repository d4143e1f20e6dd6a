package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/connexto/msgbridge/internal/domain"
	"github.com/connexto/msgbridge/internal/response"
)

type errorDetails struct {
	State domain.UserState `json:"state"`
}

// HandleDomainError maps engine errors onto the response envelope. Raw error
// text is never returned; callers get a fixed message and the user state.
func HandleDomainError(c *fiber.Ctx, err error) error {
	details := errorDetails{State: domain.StateForError(err)}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return response.BadRequest(c, MsgInvalidRequestBody)
	case errors.Is(err, domain.ErrNoSession),
		errors.Is(err, domain.ErrInvalidCredential),
		errors.Is(err, domain.ErrIdentityNotMapped):
		return response.ErrorWithCode(c, fiber.StatusNotFound, response.ErrCodeLoginRequired, MsgLoginRequired, details)
	case errors.Is(err, domain.ErrNotFound):
		return response.NotFound(c, MsgChallengeNotFound)
	case errors.Is(err, domain.ErrConcurrentLogin):
		return response.ErrorWithCode(c, fiber.StatusConflict, response.ErrCodeLoginPending, MsgLoginInProgress, details)
	case errors.Is(err, domain.ErrSessionNotReady):
		return response.ErrorWithCode(c, fiber.StatusConflict, response.ErrCodeNotReady, MsgSessionNotReady, details)
	case errors.Is(err, domain.ErrChallengeExpired):
		return response.Gone(c, MsgChallengeExpired)
	case errors.Is(err, domain.ErrLoginThrottled):
		return response.RateLimited(c, MsgLoginThrottled)
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrThrottled):
		return response.RateLimited(c, MsgRateLimited)
	case errors.Is(err, domain.ErrTransientNetwork),
		errors.Is(err, domain.ErrExternalNetwork),
		errors.Is(err, domain.ErrTimeout):
		return response.UpstreamError(c, MsgUpstreamUnavailable, details)
	default:
		return response.InternalError(c)
	}
}

func accountParam(c *fiber.Ctx) (string, bool) {
	accountID := c.Params(ParamAccountID)
	return accountID, accountID != ""
}
