package domain

import (
	"context"
	"time"
)

type NetworkCredential struct {
	ExternalIdentity  string
	Blob              []byte
	DeviceFingerprint string
}

// Challenge is a renderable login challenge issued by the external network.
type Challenge struct {
	Code      string
	ImageURL  string
	ExpiresAt time.Time
}

// Confirmation is delivered once the external network accepts a challenge.
type Confirmation struct {
	AccountID         string
	ExternalIdentity  string
	Credential        []byte
	DeviceFingerprint string
	DisplayName       string
}

type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"memberCount"`
}

type OutboundMessage struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	IsGroup        bool   `json:"isGroup"`
}

type SendReceipt struct {
	MessageID string    `json:"messageId"`
	SentAt    time.Time `json:"sentAt"`
}

// NetworkClient is the stable capability the bridge needs from the external
// messaging network. Adapters map wire shapes and error codes onto these
// types and the sentinel errors in this package.
type NetworkClient interface {
	Login(ctx context.Context, accountID string) (Challenge, error)
	AwaitConfirmation(ctx context.Context, accountID string, challenge Challenge) (Confirmation, error)
	Reconnect(ctx context.Context, cred NetworkCredential) error
	Probe(ctx context.Context, cred NetworkCredential) error
	Send(ctx context.Context, cred NetworkCredential, msg OutboundMessage) (SendReceipt, error)
	ListContacts(ctx context.Context, cred NetworkCredential) ([]Contact, error)
	ListGroups(ctx context.Context, cred NetworkCredential) ([]Group, error)
}

// IdentityLookup resolves an internal account to the external identity it
// logged in with. Implemented by the business application.
type IdentityLookup interface {
	LookupIdentity(ctx context.Context, accountID string) (string, error)
}
