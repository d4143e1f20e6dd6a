package realtime

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRoom = errors.New("invalid room name")

type RoomKind string

const (
	RoomAccount      RoomKind = "account"
	RoomConversation RoomKind = "conversation"
	RoomUser         RoomKind = "user"
)

type Room struct {
	Kind           RoomKind
	AccountID      string
	ConversationID string
	UserID         string
}

func (r Room) String() string {
	switch r.Kind {
	case RoomAccount:
		return AccountRoom(r.AccountID)
	case RoomConversation:
		return ConversationRoom(r.AccountID, r.ConversationID)
	case RoomUser:
		return UserRoom(r.UserID)
	default:
		return ""
	}
}

func AccountRoom(accountID string) string {
	return string(RoomAccount) + ":" + accountID
}

func ConversationRoom(accountID, conversationID string) string {
	return string(RoomConversation) + ":" + accountID + ":" + conversationID
}

func UserRoom(userID string) string {
	return string(RoomUser) + ":" + userID
}

// ParseRoom validates a room name. Accepted forms are account:{id},
// conversation:{accountId}:{conversationId} and user:{id}.
func ParseRoom(name string) (Room, error) {
	parts := strings.Split(name, ":")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" || p != strings.TrimSpace(p) {
			return Room{}, fmt.Errorf("%w: %q", ErrInvalidRoom, name)
		}
	}

	switch {
	case len(parts) == 2 && parts[0] == string(RoomAccount):
		return Room{Kind: RoomAccount, AccountID: parts[1]}, nil
	case len(parts) == 3 && parts[0] == string(RoomConversation):
		return Room{Kind: RoomConversation, AccountID: parts[1], ConversationID: parts[2]}, nil
	case len(parts) == 2 && parts[0] == string(RoomUser):
		return Room{Kind: RoomUser, UserID: parts[1]}, nil
	default:
		return Room{}, fmt.Errorf("%w: %q", ErrInvalidRoom, name)
	}
}
