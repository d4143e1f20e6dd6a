package handler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/connexto/msgbridge/internal/domain"
	"github.com/connexto/msgbridge/internal/engine"
	"github.com/connexto/msgbridge/internal/middleware"
	"github.com/connexto/msgbridge/internal/response"
)

type SessionEngine interface {
	RequestLogin(ctx context.Context, accountID string) (domain.LoginChallenge, error)
	LoginStatus(accountID string) (domain.LoginChallenge, engine.LoginState, error)
	Status(ctx context.Context, accountID string) (engine.StatusReport, error)
	RequestAlias(ctx context.Context, accountID string) (domain.AccountAlias, error)
	Logout(ctx context.Context, accountID string) ([]string, error)
	Send(ctx context.Context, accountID string, msg domain.OutboundMessage) (domain.SendReceipt, error)
	Contacts(ctx context.Context, accountID string) ([]domain.Contact, error)
	Groups(ctx context.Context, accountID string) ([]domain.Group, error)
	ProbeNow(ctx context.Context, accountID string) (engine.ProbeOutcome, error)
	SaveAll(ctx context.Context) (int, error)
}

type LoginStatusResponse struct {
	State     engine.LoginState     `json:"state"`
	Challenge domain.LoginChallenge `json:"challenge"`
}

type LogoutResponse struct {
	Message  string   `json:"message"`
	Accounts []string `json:"accounts"`
}

type ProbeResponse struct {
	Outcome engine.ProbeOutcome `json:"outcome"`
}

type SaveResponse struct {
	Saved int `json:"saved"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	IsGroup        bool   `json:"isGroup"`
}

type SessionHandler struct {
	engine SessionEngine
	logger *slog.Logger
}

func NewSessionHandler(engine SessionEngine, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		engine: engine,
		logger: logger.With("component", "session_handler"),
	}
}

func (h *SessionHandler) Register(app *fiber.App) {
	v1 := app.Group(APIPrefix)

	v1.Post("/sessions/save", h.SaveAll)
	v1.Post("/sessions/:accountId/login", h.BeginLogin)
	v1.Get("/sessions/:accountId/login", h.LoginStatus)
	v1.Get("/sessions/:accountId/status", h.Status)
	v1.Post("/sessions/:accountId/alias", h.RequestAlias)
	v1.Delete("/sessions/:accountId", h.Logout)
	v1.Post("/sessions/:accountId/messages", h.SendMessage)
	v1.Get("/sessions/:accountId/contacts", h.Contacts)
	v1.Get("/sessions/:accountId/groups", h.Groups)
	v1.Post("/sessions/:accountId/probe", h.Probe)
}

// BeginLogin godoc
// @Summary Start a login for an account
// @Description Issues a login challenge to render as a QR code. Fails with 409 while another challenge is open.
// @Tags sessions
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 201 {object} response.Envelope{data=domain.LoginChallenge}
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Security ApiKeyAuth
// @Router /sessions/{accountId}/login [post]
func (h *SessionHandler) BeginLogin(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return response.BadRequest(c, MsgAccountIDRequired)
	}

	challenge, err := h.engine.RequestLogin(c.UserContext(), accountID)
	if err != nil {
		middleware.RequestLogger(c, h.logger).Warn("Failed to start login", "accountId", accountID, "error", err)
		return HandleDomainError(c, err)
	}
	return response.Created(c, challenge)
}

// LoginStatus godoc
// @Summary Poll the latest login challenge
// @Tags sessions
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} response.Envelope{data=LoginStatusResponse}
// @Failure 404 {object} response.Envelope
// @Security ApiKeyAuth
// @Router /sessions/{accountId}/login [get]
func (h *SessionHandler) LoginStatus(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return response.BadRequest(c, MsgAccountIDRequired)
	}

	challenge, state, err := h.engine.LoginStatus(accountID)
	if err != nil {
		return HandleDomainError(c, err)
	}
	return response.OK(c, LoginStatusResponse{State: state, Challenge: challenge})
}

// Status godoc
// @Summary Get the session state of an account
// @Tags sessions
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} response.Envelope{data=engine.StatusReport}
// @Security ApiKeyAuth
// @Router /sessions/{accountId}/status [get]
func (h *SessionHandler) Status(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return response.BadRequest(c, MsgAccountIDRequired)
	}

	// A failed identity lookup still has a reportable state.
	report, err := h.engine.Status(c.UserContext(), accountID)
	if err != nil {
		middleware.RequestLogger(c, h.logger).Warn("Session status degraded", "accountId", accountID, "error", err)
	}
	return response.OK(c, report)
}

// RequestAlias godoc
// @Summary Share an existing session with an account
// @Description Asks the business application which external identity the account uses and points the account at that session.
// @Tags sessions
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} response.Envelope{data=domain.AccountAlias}
// @Failure 404 {object} response.Envelope
// @Security ApiKeyAuth
// @Router /sessions/{accountId}/alias [post]
func (h *SessionHandler) RequestAlias(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return response.BadRequest(c, MsgAccountIDRequired)
	}

	alias, err := h.engine.RequestAlias(c.UserContext(), accountID)
	if err != nil {
		return HandleDomainError(c, err)
	}
	return response.OK(c, alias)
}

// Logout godoc
// @Summary Remove the session an account resolves to
// @Tags sessions
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} response.Envelope{data=LogoutResponse}
// @Failure 404 {object} response.Envelope
// @Security ApiKeyAuth
// @Router /sessions/{accountId} [delete]
func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return response.BadRequest(c, MsgAccountIDRequired)
	}

	accounts, err := h.engine.Logout(c.UserContext(), accountID)
	if err != nil {
		return HandleDomainError(c, err)
	}
	h.logger.Info("Session removed", "accountId", accountID, "accounts", accounts)
	return response.OK(c, LogoutResponse{Message: MsgSessionRemoved, Accounts: accounts})
}

// SendMessage godoc
// @Summary Send a text message
// @Tags messages
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param request body SendMessageRequest true "Message"
// @Success 200 {object} response.Envelope{data=domain.SendReceipt}
// @Failure 404 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Security ApiKeyAuth
// @Router /sessions/{accountId}/messages [post]
func (h *SessionHandler) SendMessage(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return response.BadRequest(c, MsgAccountIDRequired)
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, MsgInvalidRequestBody)
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" || strings.TrimSpace(req.Text) == "" {
		return response.BadRequest(c, MsgTextRequired)
	}

	receipt, err := h.engine.Send(c.UserContext(), accountID, domain.OutboundMessage{
		ConversationID: req.ConversationID,
		Text:           req.Text,
		IsGroup:        req.IsGroup,
	})
	if err != nil {
		middleware.RequestLogger(c, h.logger).Warn("Failed to send message", "accountId", accountID, "error", err)
		return HandleDomainError(c, err)
	}
	return response.OK(c, receipt)
}

// Contacts godoc
// @Summary List contacts of the account's session
// @Tags messages
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} response.Envelope{data=[]domain.Contact}
// @Security ApiKeyAuth
// @Router /sessions/{accountId}/contacts [get]
func (h *SessionHandler) Contacts(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return response.BadRequest(c, MsgAccountIDRequired)
	}

	contacts, err := h.engine.Contacts(c.UserContext(), accountID)
	if err != nil {
		return HandleDomainError(c, err)
	}
	return response.OK(c, contacts)
}

// Groups godoc
// @Summary List groups of the account's session
// @Tags messages
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} response.Envelope{data=[]domain.Group}
// @Security ApiKeyAuth
// @Router /sessions/{accountId}/groups [get]
func (h *SessionHandler) Groups(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return response.BadRequest(c, MsgAccountIDRequired)
	}

	groups, err := h.engine.Groups(c.UserContext(), accountID)
	if err != nil {
		return HandleDomainError(c, err)
	}
	return response.OK(c, groups)
}

// Probe godoc
// @Summary Force one health probe
// @Tags sessions
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} response.Envelope{data=ProbeResponse}
// @Security ApiKeyAuth
// @Router /sessions/{accountId}/probe [post]
func (h *SessionHandler) Probe(c *fiber.Ctx) error {
	accountID, ok := accountParam(c)
	if !ok {
		return response.BadRequest(c, MsgAccountIDRequired)
	}

	outcome, err := h.engine.ProbeNow(c.UserContext(), accountID)
	if err != nil {
		return HandleDomainError(c, err)
	}
	return response.OK(c, ProbeResponse{Outcome: outcome})
}

// SaveAll godoc
// @Summary Persist all active sessions now
// @Tags sessions
// @Produce json
// @Success 200 {object} response.Envelope{data=SaveResponse}
// @Security ApiKeyAuth
// @Router /sessions/save [post]
func (h *SessionHandler) SaveAll(c *fiber.Ctx) error {
	saved, err := h.engine.SaveAll(c.UserContext())
	if err != nil {
		middleware.RequestLogger(c, h.logger).Error("Forced save failed", "saved", saved, "error", err)
		return response.InternalError(c)
	}
	return response.OK(c, SaveResponse{Saved: saved})
}
