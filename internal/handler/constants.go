package handler

const (
	APIPrefix = "/bridge/v1"

	ParamAccountID = "accountId"

	MsgInvalidRequestBody  = "invalid request body"
	MsgAccountIDRequired   = "accountId is required"
	MsgTextRequired        = "conversationId and text are required"
	MsgEventTypeRequired   = "eventType is required"
	MsgLoginRequired       = "login required for this account"
	MsgLoginInProgress     = "a login is already in progress for this account"
	MsgLoginThrottled      = "automatic login suppressed, try again later"
	MsgChallengeExpired    = "login challenge expired"
	MsgChallengeNotFound   = "no login challenge for this account"
	MsgSessionNotReady     = "session is reconnecting, try again shortly"
	MsgRateLimited         = "rate limited by the messaging network, try again later"
	MsgUpstreamUnavailable = "messaging network unavailable"
	MsgSessionRemoved      = "session removed"
	MsgInvalidToken        = "invalid or missing realtime token"
	MsgInvalidFrame        = "frame must be a JSON object with action and room"
	MsgUnknownAction       = "action must be join or leave"
	MsgInvalidRoom         = "invalid room name"
)
