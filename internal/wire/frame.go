// Package wire implements the frame codec spoken between hub and clients.
//
// Frames are self-describing JSON records carrying a type field. The decoder
// rejects frames lacking a type and tolerates unknown extra fields for
// forward compatibility. Vector clocks travel as ordered [id, count] pairs
// and timestamps as integer milliseconds since epoch.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/causalchat/chat-delivery-service/internal/domain/model"
)

// Kind discriminates the frame taxonomy.
type Kind string

// Inbound frames (client to hub).
const (
	KindJoin           Kind = "join"
	KindChat           Kind = "chat"
	KindTyping         Kind = "typing"
	KindRequestHistory Kind = "request_history"
	KindGetUsers       Kind = "get_users"
	KindPing           Kind = "ping"
)

// Outbound frames (hub to client).
const (
	KindInit             Kind = "init"
	KindJoinSuccess      Kind = "join_success"
	KindUserList         Kind = "user_list"
	KindChatOut          Kind = "chat" // same record, hub-stamped
	KindSystem           Kind = "system"
	KindHistory          Kind = "history"
	KindUserTyping       Kind = "user_typing"
	KindMessageDelivered Kind = "message_delivered"
	KindPong             Kind = "pong"
)

// ErrMissingType is returned for frames without a type field; such frames
// are dropped at the protocol layer and never reach the hub dispatch.
var ErrMissingType = errors.New("wire: frame missing type")

// UnknownKindError reports a type the decoder does not recognize.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("wire: unknown frame type %q", e.Kind)
}

// Frame is implemented by every record of the taxonomy.
type Frame interface {
	FrameKind() Kind
}

type Join struct {
	Type     Kind   `json:"type"`
	Username string `json:"username"`
	RoomID   string `json:"room_id,omitempty"`
}

type Chat struct {
	Type Kind   `json:"type"`
	Text string `json:"text"`
	// Clock is the sender's view at send time. The hub stamps messages
	// with its own session clock and treats this field as advisory.
	Clock ClockPairs      `json:"vector_clock,omitempty"`
	Meta  *model.Metadata `json:"metadata,omitempty"`
}

type Typing struct {
	Type     Kind `json:"type"`
	IsTyping bool `json:"is_typing"`
}

type RequestHistory struct {
	Type Kind `json:"type"`
}

type GetUsers struct {
	Type Kind `json:"type"`
}

type Ping struct {
	Type Kind `json:"type"`
}

type Init struct {
	Type        Kind   `json:"type"`
	ClientID    string `json:"client_id"`
	ServerTime  int64  `json:"server_time"`
	DefaultRoom string `json:"default_room"`
}

type User struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	JoinedAt int64      `json:"joined_at"`
	Clock    ClockPairs `json:"vector_clock"`
}

type JoinSuccess struct {
	Type         Kind           `json:"type"`
	Room         model.RoomInfo `json:"room"`
	Users        []User         `json:"users"`
	MessageCount int            `json:"message_count"`
}

type UserList struct {
	Type      Kind   `json:"type"`
	Users     []User `json:"users"`
	Timestamp int64  `json:"timestamp"`
}

type ChatOut struct {
	Type      Kind            `json:"type"`
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	Text      string          `json:"text"`
	Clock     ClockPairs      `json:"vector_clock"`
	Timestamp int64           `json:"timestamp"`
	RoomID    string          `json:"room_id"`
	Meta      *model.Metadata `json:"metadata,omitempty"`
}

type System struct {
	Type      Kind   `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
}

type History struct {
	Type     Kind       `json:"type"`
	Messages []*ChatOut `json:"messages"`
	Total    int        `json:"total"`
}

type UserTyping struct {
	Type     Kind   `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type MessageDelivered struct {
	Type      Kind   `json:"type"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

type Pong struct {
	Type Kind `json:"type"`
}

func (f *Join) FrameKind() Kind             { return KindJoin }
func (f *Chat) FrameKind() Kind             { return KindChat }
func (f *Typing) FrameKind() Kind           { return KindTyping }
func (f *RequestHistory) FrameKind() Kind   { return KindRequestHistory }
func (f *GetUsers) FrameKind() Kind         { return KindGetUsers }
func (f *Ping) FrameKind() Kind             { return KindPing }
func (f *Init) FrameKind() Kind             { return KindInit }
func (f *JoinSuccess) FrameKind() Kind      { return KindJoinSuccess }
func (f *UserList) FrameKind() Kind         { return KindUserList }
func (f *ChatOut) FrameKind() Kind          { return KindChatOut }
func (f *System) FrameKind() Kind           { return KindSystem }
func (f *History) FrameKind() Kind          { return KindHistory }
func (f *UserTyping) FrameKind() Kind       { return KindUserTyping }
func (f *MessageDelivered) FrameKind() Kind { return KindMessageDelivered }
func (f *Pong) FrameKind() Kind             { return KindPong }

// ChatFromMessage converts a hub-stamped message to its wire record.
func ChatFromMessage(m *model.Message) *ChatOut {
	f := &ChatOut{
		Type:      KindChatOut,
		ID:        m.ID,
		UserID:    m.SenderID,
		Username:  m.SenderName,
		Text:      m.Text,
		Clock:     PairsFromVector(m.Clock),
		Timestamp: m.SentAt,
		RoomID:    m.RoomID,
	}
	if m.Meta != (model.Metadata{}) {
		meta := m.Meta
		f.Meta = &meta
	}
	return f
}

// Message converts a received chat record into the domain message fed to
// the causal delivery engine.
func (f *ChatOut) Message() *model.Message {
	m := &model.Message{
		ID:         f.ID,
		SenderID:   f.UserID,
		SenderName: f.Username,
		Text:       f.Text,
		Clock:      f.Clock.Vector(),
		SentAt:     f.Timestamp,
		RoomID:     f.RoomID,
	}
	if f.Meta != nil {
		m.Meta = *f.Meta
	}
	return m
}

// Encode serializes a frame, stamping the type field so a half-built record
// cannot reach the wire without its discriminator.
func Encode(f Frame) ([]byte, error) {
	stampType(f)
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s frame: %w", f.FrameKind(), err)
	}
	return data, nil
}

func stampType(f Frame) {
	switch t := f.(type) {
	case *Join:
		t.Type = KindJoin
	case *Chat:
		t.Type = KindChat
	case *Typing:
		t.Type = KindTyping
	case *RequestHistory:
		t.Type = KindRequestHistory
	case *GetUsers:
		t.Type = KindGetUsers
	case *Ping:
		t.Type = KindPing
	case *Init:
		t.Type = KindInit
	case *JoinSuccess:
		t.Type = KindJoinSuccess
	case *UserList:
		t.Type = KindUserList
	case *ChatOut:
		t.Type = KindChatOut
	case *System:
		t.Type = KindSystem
	case *History:
		t.Type = KindHistory
	case *UserTyping:
		t.Type = KindUserTyping
	case *MessageDelivered:
		t.Type = KindMessageDelivered
	case *Pong:
		t.Type = KindPong
	}
}

// Decode parses one frame. A record without a type field is rejected;
// unknown extra fields inside a known frame are ignored.
//
// The chat kind appears on both sides of the taxonomy. Decode returns the
// inbound *Chat form when the record has no hub stamp (no id), and the
// stamped *ChatOut otherwise, so hub and client can share one decoder.
func Decode(data []byte) (Frame, error) {
	var head struct {
		Type Kind   `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}
	if head.Type == "" {
		return nil, ErrMissingType
	}

	var f Frame
	switch head.Type {
	case KindJoin:
		f = &Join{}
	case KindChat:
		if head.ID != "" {
			f = &ChatOut{}
		} else {
			f = &Chat{}
		}
	case KindTyping:
		f = &Typing{}
	case KindRequestHistory:
		f = &RequestHistory{}
	case KindGetUsers:
		f = &GetUsers{}
	case KindPing:
		f = &Ping{}
	case KindInit:
		f = &Init{}
	case KindJoinSuccess:
		f = &JoinSuccess{}
	case KindUserList:
		f = &UserList{}
	case KindSystem:
		f = &System{}
	case KindHistory:
		f = &History{}
	case KindUserTyping:
		f = &UserTyping{}
	case KindMessageDelivered:
		f = &MessageDelivered{}
	case KindPong:
		f = &Pong{}
	default:
		return nil, &UnknownKindError{Kind: head.Type}
	}

	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("wire: decode %s frame: %w", head.Type, err)
	}
	return f, nil
}
