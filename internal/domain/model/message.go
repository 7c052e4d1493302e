package model

import "github.com/causalchat/chat-delivery-service/internal/domain/clock"

// Metadata carries per-message simulation hints. A broadcast may be deferred
// by DelayMS milliseconds to exercise causal reordering end to end; the clock
// increment, history append and sender acknowledgement are never deferred.
type Metadata struct {
	SimulateDelay bool `json:"simulate_delay,omitempty"`
	DelayMS       int  `json:"delay_ms,omitempty"`
}

// Message is the core chat entity. It is constructed by the hub when a chat
// frame arrives, appended to the room's history window and fanned out to
// every other member of the room.
type Message struct {
	ID         string
	SenderID   string
	SenderName string
	Text       string
	// Clock is the sender's vector clock after it was incremented for
	// this send.
	Clock  clock.Vector
	SentAt int64 // unix milliseconds
	RoomID string
	Meta   Metadata
}
