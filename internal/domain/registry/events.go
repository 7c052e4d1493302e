package registry

import "github.com/causalchat/chat-delivery-service/internal/domain/clock"

// Bus topics for hub-emitted events.
const (
	TopicMessageStamped = "chat.message.stamped"
	TopicMembership     = "chat.room.membership"
)

// Publisher is the hub's send-only view of the event bus. Publishing is best
// effort; a bus failure is logged and never affects delivery.
type Publisher interface {
	Publish(topic string, payload any) error
}

// MessageStampedEvent is emitted after a chat frame has been stamped and
// appended to the room history.
type MessageStampedEvent struct {
	MessageID string       `json:"message_id"`
	RoomID    string       `json:"room_id"`
	SenderID  string       `json:"sender_id"`
	Clock     clock.Vector `json:"clock"`
	SentAt    int64        `json:"sent_at"`
	Delayed   bool         `json:"delayed,omitempty"`
}

// MembershipEvent is emitted on join and leave.
type MembershipEvent struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Action   string `json:"action"` // "joined" or "left"
	At       int64  `json:"at"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) error { return nil }
