package network

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

var errUnrecognizedShape = errors.New("unrecognized response shape")

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeChallenge(w wireChallenge) (domain.Challenge, error) {
	code := firstNonEmpty(w.Code, w.QRCode)
	if code == "" {
		return domain.Challenge{}, fmt.Errorf("challenge: %w", errUnrecognizedShape)
	}
	return domain.Challenge{
		Code:      code,
		ImageURL:  firstNonEmpty(w.ImageURL, w.Image),
		ExpiresAt: w.ExpiresAt,
	}, nil
}

func normalizeConfirmation(accountID string, w wireConfirmation) (domain.Confirmation, error) {
	identity := firstNonEmpty(w.ExternalIdentity, w.UID, w.UserID)
	if identity == "" {
		return domain.Confirmation{}, fmt.Errorf("confirmation: %w", errUnrecognizedShape)
	}

	credential := w.Credential
	if len(credential) == 0 && len(w.Cookie) > 0 && !bytes.Equal(w.Cookie, []byte("null")) {
		credential = []byte(w.Cookie)
	}
	if len(credential) == 0 {
		return domain.Confirmation{}, fmt.Errorf("confirmation without credential: %w", errUnrecognizedShape)
	}

	return domain.Confirmation{
		AccountID:         accountID,
		ExternalIdentity:  identity,
		Credential:        credential,
		DeviceFingerprint: firstNonEmpty(w.DeviceFingerprint, w.IMEI),
		DisplayName:       firstNonEmpty(w.DisplayName, w.Name),
	}, nil
}

func normalizeReceipt(w wireReceipt) domain.SendReceipt {
	sentAt := w.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	return domain.SendReceipt{
		MessageID: firstNonEmpty(w.MessageID, w.MsgID),
		SentAt:    sentAt,
	}
}

func normalizeContacts(raw []wireContact) []domain.Contact {
	contacts := make([]domain.Contact, 0, len(raw))
	for _, c := range raw {
		id := firstNonEmpty(c.ID, c.UserID)
		if id == "" {
			continue
		}
		contacts = append(contacts, domain.Contact{
			ID:          id,
			DisplayName: firstNonEmpty(c.DisplayName, c.ZaloName, c.Name),
			AvatarURL:   firstNonEmpty(c.AvatarURL, c.Avatar),
		})
	}
	return contacts
}

func normalizeGroups(raw []wireGroup) []domain.Group {
	groups := make([]domain.Group, 0, len(raw))
	for _, g := range raw {
		id := firstNonEmpty(g.ID, g.GroupID)
		if id == "" {
			continue
		}
		count := g.MemberCount
		if count == 0 {
			count = g.TotalMember
		}
		groups = append(groups, domain.Group{ID: id, Name: g.Name, MemberCount: count})
	}
	return groups
}

// decodeList accepts a bare JSON array or an object wrapping the array under
// one of listEnvelopeKeys, possibly nested one level (e.g. {"data":{"friends":[...]}}).
func decodeList[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty list: %w", errUnrecognizedShape)
	}

	if body[0] == '[' {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	return decodeEnvelope[T](body, 2)
}

func decodeEnvelope[T any](body []byte, depth int) ([]T, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("list: %w", errUnrecognizedShape)
	}

	for _, key := range listEnvelopeKeys {
		inner, ok := obj[key]
		if !ok {
			continue
		}
		inner = bytes.TrimSpace(inner)
		if len(inner) > 0 && inner[0] == '[' {
			var items []T
			if err := json.Unmarshal(inner, &items); err != nil {
				return nil, err
			}
			return items, nil
		}
		if depth > 1 && len(inner) > 0 && inner[0] == '{' {
			if items, err := decodeEnvelope[T](inner, depth-1); err == nil {
				return items, nil
			}
		}
	}
	return nil, fmt.Errorf("list: %w", errUnrecognizedShape)
}
