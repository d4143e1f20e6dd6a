package domain

import (
	"context"
	"time"
)

// CredentialRecord is the persisted form of a session. SealedCredential is
// already encrypted when it reaches a repository.
type CredentialRecord struct {
	ExternalIdentity  string
	AccountID         string
	SealedCredential  string
	DeviceFingerprint string
	SavedAt           time.Time
	Invalid           bool
}

type CredentialRepository interface {
	Upsert(ctx context.Context, record CredentialRecord) error
	FindAll(ctx context.Context) ([]CredentialRecord, error)
	MarkInvalid(ctx context.Context, externalIdentity string) error
	Delete(ctx context.Context, externalIdentity string) error
}
