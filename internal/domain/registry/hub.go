/*
Package registry implements the broadcast hub and the participant sessions
it owns.

The hub tracks connected sessions and rooms, classifies inbound frames,
stamps chat messages with the sender's incremented vector clock and fans
them out to every other member of the room. Sessions never reference each
other; all cross-session traffic goes through the hub's room lookup onto the
target session's bounded outbound queue. A queue that stays saturated marks
a slow consumer, and the whole session is closed rather than any frame
dropped: losing a frame would break causal safety at the recipient.
*/
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"

	"github.com/causalchat/chat-delivery-service/infra/telemetry"
	"github.com/causalchat/chat-delivery-service/internal/domain/clock"
	"github.com/causalchat/chat-delivery-service/internal/domain/model"
	"github.com/causalchat/chat-delivery-service/internal/domain/room"
	"github.com/causalchat/chat-delivery-service/internal/wire"
)

type hubConfig struct {
	defaultRoom   string
	historyLimit  int
	sessionBuffer int
	sendTimeout   time.Duration
	settleDelay   time.Duration
}

// Hub is the owning entity for rooms and sessions. Tests instantiate as many
// independent hubs as they need; nothing here is process-global.
type Hub struct {
	cfg       hubConfig
	logger    *slog.Logger
	publisher Publisher
	metrics   *telemetry.Metrics
	startedAt time.Time

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	rooms    map[string]*room.Room
}

func NewHub(logger *slog.Logger, publisher Publisher, metrics *telemetry.Metrics, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	h := &Hub{
		cfg: hubConfig{
			defaultRoom:   "main",
			historyLimit:  room.DefaultHistoryLimit,
			sessionBuffer: 256,
			sendTimeout:   500 * time.Millisecond,
			settleDelay:   100 * time.Millisecond,
		},
		logger:    logger,
		publisher: publisher,
		metrics:   metrics,
		startedAt: time.Now(),
		sessions:  make(map[uuid.UUID]*Session),
		rooms:     make(map[string]*room.Room),
	}
	for _, opt := range opts {
		opt(h)
	}
	// The default room exists from hub start; others are created lazily.
	h.rooms[h.cfg.defaultRoom] = room.New(h.cfg.defaultRoom, h.cfg.defaultRoom, h.cfg.historyLimit)
	return h
}

// Connect allocates a fresh participant identity, registers the session and
// greets it with an init frame. The session is Connected-Anonymous until a
// join frame arrives.
func (h *Hub) Connect(ctx context.Context) *Session {
	s := newSession(ctx, h.cfg.sessionBuffer)

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	h.sendFrame(s, &wire.Init{
		ClientID:    s.ClientID(),
		ServerTime:  time.Now().UnixMilli(),
		DefaultRoom: h.cfg.defaultRoom,
	})

	h.metrics.SessionOpened(context.Background())
	h.logger.Info("session connected", "client_id", s.ClientID())
	return s
}

// Disconnect runs the leave protocol and tears the session down. It is safe
// to call more than once; only the first call has any effect.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.id]; !ok {
		h.mu.Unlock()
		s.Close()
		return
	}
	delete(h.sessions, s.id)
	h.mu.Unlock()

	if rm := h.roomOf(s); rm != nil {
		username := s.Username()
		rm.Remove(s.id)
		s.clearRoom()

		h.broadcastFrame(rm, &wire.System{
			Message:   username + " left the room",
			Timestamp: time.Now().UnixMilli(),
			UserID:    s.ClientID(),
		}, uuid.Nil)

		// Let the leave notice land before the refreshed roster.
		time.AfterFunc(h.cfg.settleDelay, func() {
			h.broadcastFrame(rm, h.userListFrame(rm), uuid.Nil)
		})

		h.publish(TopicMembership, MembershipEvent{
			RoomID:   rm.ID(),
			UserID:   s.ClientID(),
			Username: username,
			Action:   "left",
			At:       time.Now().UnixMilli(),
		})
	}

	s.Close()
	h.metrics.SessionClosed(context.Background())
	h.logger.Info("session disconnected", "client_id", s.ClientID())
}

// Dispatch classifies one inbound frame and applies it. Protocol errors are
// logged and dropped; the session stays open.
func (h *Hub) Dispatch(s *Session, data []byte) {
	f, err := wire.Decode(data)
	if err != nil {
		h.metrics.FrameRejected(context.Background(), "malformed")
		h.logger.Warn("dropping malformed frame", "client_id", s.ClientID(), "err", err)
		return
	}
	s.touch()

	switch f := f.(type) {
	case *wire.Join:
		h.handleJoin(s, f)
	case *wire.Chat:
		h.handleChat(s, f.Text, f.Meta)
	case *wire.ChatOut:
		// A stamped record on the inbound path is still just a chat;
		// the hub re-stamps with its own session clock.
		h.handleChat(s, f.Text, f.Meta)
	case *wire.Typing:
		h.handleTyping(s, f)
	case *wire.RequestHistory:
		h.handleHistory(s)
	case *wire.GetUsers:
		h.handleGetUsers(s)
	case *wire.Ping:
		h.sendFrame(s, &wire.Pong{})
	default:
		h.metrics.FrameRejected(context.Background(), "unexpected")
		h.logger.Warn("dropping unexpected frame", "client_id", s.ClientID(), "kind", f.FrameKind())
	}
}

func (h *Hub) handleJoin(s *Session, f *wire.Join) {
	username := strings.TrimSpace(f.Username)
	if username == "" {
		h.stateError(s, "a username is required to join")
		return
	}
	if s.Joined() {
		h.stateError(s, "already joined a room")
		return
	}

	roomID := f.RoomID
	if roomID == "" {
		roomID = h.cfg.defaultRoom
	}

	rm := h.getOrCreateRoom(roomID)

	// Seed the newcomer's clock with each member's own counter, so every
	// message stamped before this join reads as already observed.
	seed := make(clock.Vector)
	for _, peer := range h.roomSessions(rm, uuid.Nil) {
		seed[peer.ClientID()] = peer.Clock().OwnCount()
	}
	s.Clock().Merge(seed)

	now := time.Now()
	rm.Add(room.Member{ID: s.id, Username: username, JoinedAt: now})
	s.setJoined(username, roomID, now)

	h.broadcastFrame(rm, h.userListFrame(rm), uuid.Nil)
	h.broadcastFrame(rm, &wire.System{
		Message:   username + " joined the room",
		Timestamp: now.UnixMilli(),
		UserID:    s.ClientID(),
	}, uuid.Nil)
	h.sendFrame(s, &wire.JoinSuccess{
		Room:         rm.Info(),
		Users:        h.roomUsers(rm),
		MessageCount: rm.MessageCount(),
	})

	h.publish(TopicMembership, MembershipEvent{
		RoomID:   rm.ID(),
		UserID:   s.ClientID(),
		Username: username,
		Action:   "joined",
		At:       now.UnixMilli(),
	})
	h.logger.Info("participant joined", "client_id", s.ClientID(), "username", username, "room", roomID)
}

func (h *Hub) handleChat(s *Session, text string, meta *model.Metadata) {
	if !s.Joined() {
		h.stateError(s, "join a room before sending messages")
		return
	}
	rm := h.roomOf(s)
	if rm == nil {
		h.stateError(s, "room no longer exists")
		return
	}

	msg := &model.Message{
		ID:         shortuuid.New(),
		SenderID:   s.ClientID(),
		SenderName: s.Username(),
		Text:       text,
		Clock:      s.Clock().Tick(),
		SentAt:     time.Now().UnixMilli(),
		RoomID:     rm.ID(),
	}
	if meta != nil {
		msg.Meta = *meta
	}

	rm.Append(msg)

	// The ack and the history append are immediate even when the
	// broadcast itself is deferred.
	h.sendFrame(s, &wire.MessageDelivered{
		MessageID: msg.ID,
		Timestamp: msg.SentAt,
	})

	h.metrics.MessageStamped(context.Background(), rm.ID())
	h.publish(TopicMessageStamped, MessageStampedEvent{
		MessageID: msg.ID,
		RoomID:    rm.ID(),
		SenderID:  msg.SenderID,
		Clock:     msg.Clock,
		SentAt:    msg.SentAt,
		Delayed:   msg.Meta.SimulateDelay,
	})

	sender := s.id
	if msg.Meta.SimulateDelay && msg.Meta.DelayMS > 0 {
		// Each delayed broadcast gets its own timer, so two delayed
		// messages are independently schedulable and may cross.
		time.AfterFunc(time.Duration(msg.Meta.DelayMS)*time.Millisecond, func() {
			h.broadcastChat(rm, msg, sender)
		})
		return
	}
	h.broadcastChat(rm, msg, sender)
}

func (h *Hub) broadcastChat(rm *room.Room, msg *model.Message, exclude uuid.UUID) {
	targets := h.roomSessions(rm, exclude)
	h.broadcastTo(targets, wire.ChatFromMessage(msg))
	h.metrics.ChatBroadcast(context.Background(), len(targets))
}

func (h *Hub) handleTyping(s *Session, f *wire.Typing) {
	if !s.Joined() {
		return
	}
	rm := h.roomOf(s)
	if rm == nil {
		return
	}
	h.broadcastFrame(rm, &wire.UserTyping{
		UserID:   s.ClientID(),
		Username: s.Username(),
		IsTyping: f.IsTyping,
	}, s.id)
}

func (h *Hub) handleHistory(s *Session) {
	if !s.Joined() {
		h.stateError(s, "join a room before requesting history")
		return
	}
	rm := h.roomOf(s)
	if rm == nil {
		return
	}
	msgs := rm.History(h.cfg.historyLimit)
	frames := make([]*wire.ChatOut, len(msgs))
	for i, m := range msgs {
		frames[i] = wire.ChatFromMessage(m)
	}
	h.sendFrame(s, &wire.History{Messages: frames, Total: len(frames)})
}

func (h *Hub) handleGetUsers(s *Session) {
	if !s.Joined() {
		h.stateError(s, "join a room before listing users")
		return
	}
	rm := h.roomOf(s)
	if rm == nil {
		return
	}
	h.sendFrame(s, h.userListFrame(rm))
}

// stateError replies with a system notice and mutates nothing.
func (h *Hub) stateError(s *Session, msg string) {
	h.metrics.FrameRejected(context.Background(), "state")
	h.logger.Warn("state error", "client_id", s.ClientID(), "msg", msg)
	h.sendFrame(s, &wire.System{Message: msg, Timestamp: time.Now().UnixMilli()})
}

// sendFrame encodes and enqueues a frame for one session, applying the
// drop-session policy on a saturated queue.
func (h *Hub) sendFrame(s *Session, f wire.Frame) {
	data, err := wire.Encode(f)
	if err != nil {
		h.logger.Error("encode frame", "kind", f.FrameKind(), "err", err)
		return
	}
	h.deliver(s, data)
}

// broadcastFrame encodes once and fans the frame out to the room.
func (h *Hub) broadcastFrame(rm *room.Room, f wire.Frame, exclude uuid.UUID) {
	h.broadcastTo(h.roomSessions(rm, exclude), f)
}

func (h *Hub) broadcastTo(targets []*Session, f wire.Frame) {
	data, err := wire.Encode(f)
	if err != nil {
		h.logger.Error("encode frame", "kind", f.FrameKind(), "err", err)
		return
	}
	for _, t := range targets {
		h.deliver(t, data)
	}
}

func (h *Hub) deliver(s *Session, data []byte) {
	if s.Send(data, h.cfg.sendTimeout) {
		return
	}
	if s.closed() {
		return
	}
	// Saturated outbound queue: close the whole session instead of
	// dropping the frame.
	h.logger.Warn("closing slow consumer", "client_id", s.ClientID())
	h.Disconnect(s)
}

// roomSessions resolves the room's members to live sessions, skipping
// exclude (usually the sender).
func (h *Hub) roomSessions(rm *room.Room, exclude uuid.UUID) []*Session {
	members := rm.Members()

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(members))
	for _, m := range members {
		if m.ID == exclude {
			continue
		}
		if s, ok := h.sessions[m.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (h *Hub) userListFrame(rm *room.Room) *wire.UserList {
	return &wire.UserList{
		Users:     h.roomUsers(rm),
		Timestamp: time.Now().UnixMilli(),
	}
}

func (h *Hub) roomUsers(rm *room.Room) []wire.User {
	members := rm.Members()

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]wire.User, 0, len(members))
	for _, m := range members {
		u := wire.User{
			ID:       m.ID.String(),
			Username: m.Username,
			JoinedAt: m.JoinedAt.UnixMilli(),
		}
		if s, ok := h.sessions[m.ID]; ok {
			u.Clock = wire.PairsFromVector(s.Clock().Snapshot())
		}
		out = append(out, u)
	}
	return out
}

func (h *Hub) getOrCreateRoom(id string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rm, ok := h.rooms[id]; ok {
		return rm
	}
	rm := room.New(id, id, h.cfg.historyLimit)
	h.rooms[id] = rm
	return rm
}

// Room looks up a room without creating it.
func (h *Hub) Room(id string) (*room.Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm, ok := h.rooms[id]
	return rm, ok
}

func (h *Hub) roomOf(s *Session) *room.Room {
	id := s.RoomID()
	if id == "" {
		return nil
	}
	rm, _ := h.Room(id)
	return rm
}

func (h *Hub) publish(topic string, payload any) {
	if err := h.publisher.Publish(topic, payload); err != nil {
		h.logger.Warn("event publish failed", "topic", topic, "err", err)
	}
}

// Stats snapshots hub-wide counters for the stats endpoint.
func (h *Hub) Stats() model.HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := model.HubStats{
		TotalSessions: len(h.sessions),
		TotalRooms:    len(h.rooms),
		Uptime:        time.Since(h.startedAt),
	}
	for _, rm := range h.rooms {
		st.Rooms = append(st.Rooms, model.RoomStats{
			RoomID:       rm.ID(),
			Members:      rm.MemberCount(),
			HistoryDepth: rm.MessageCount(),
		})
	}
	return st
}

// Shutdown closes every session. Room and clock state is not persisted.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[uuid.UUID]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	h.logger.Info("hub shut down", "sessions_closed", len(sessions))
}
