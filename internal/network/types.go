package network

import (
	"encoding/json"
	"time"
)

// The sidecar's payloads have drifted across versions. Every accepted shape is
// listed here and folded into domain types by the normalize functions; nothing
// outside this package sees wire types.

type credentialBody struct {
	Identity          string `json:"identity"`
	Credential        []byte `json:"credential"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
}

type loginRequest struct {
	AccountID string `json:"accountId"`
}

type wireChallenge struct {
	Code      string    `json:"code"`
	QRCode    string    `json:"qrCode"`
	ImageURL  string    `json:"imageUrl"`
	Image     string    `json:"image"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type wireConfirmation struct {
	ExternalIdentity  string          `json:"externalIdentity"`
	UID               string          `json:"uid"`
	UserID            string          `json:"userId"`
	Credential        []byte          `json:"credential"`
	Cookie            json.RawMessage `json:"cookie"`
	DeviceFingerprint string          `json:"deviceFingerprint"`
	IMEI              string          `json:"imei"`
	DisplayName       string          `json:"displayName"`
	Name              string          `json:"name"`
}

type sendRequest struct {
	credentialBody
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	IsGroup        bool   `json:"isGroup"`
}

type wireReceipt struct {
	MessageID string    `json:"messageId"`
	MsgID     string    `json:"msgId"`
	SentAt    time.Time `json:"sentAt"`
}

type wireContact struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	ZaloName    string `json:"zaloName"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatarUrl"`
	Avatar      string `json:"avatar"`
}

type wireGroup struct {
	ID          string `json:"id"`
	GroupID     string `json:"groupId"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
	TotalMember int    `json:"totalMember"`
}

type wireError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// listEnvelopeKeys are the object keys a list response may be wrapped in.
var listEnvelopeKeys = []string{"data", "items", "friends", "profiles", "groups"}
