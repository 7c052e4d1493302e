// Package room holds per-room state: the member set and the bounded
// in-memory history window. A Room is shared by every session in it, so all
// access goes through its mutex; the lock is held only for set mutation or
// snapshot copies, never across I/O.
package room

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/causalchat/chat-delivery-service/internal/domain/model"
)

// DefaultHistoryLimit bounds the history window when no limit is configured.
const DefaultHistoryLimit = 50

// Member is one current participant of the room.
type Member struct {
	ID       uuid.UUID
	Username string
	JoinedAt time.Time
}

// Room is a broadcast domain. Every chat message is scoped to exactly one
// room; a participant is a member of at most one room at a time (enforced by
// the hub, which owns the session-to-room assignment).
type Room struct {
	id        string
	name      string
	createdAt time.Time
	limit     int

	mu      sync.RWMutex
	members map[uuid.UUID]Member
	history []*model.Message
}

func New(id, name string, historyLimit int) *Room {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Room{
		id:        id,
		name:      name,
		createdAt: time.Now(),
		limit:     historyLimit,
		members:   make(map[uuid.UUID]Member),
	}
}

func (r *Room) ID() string           { return r.id }
func (r *Room) Name() string         { return r.name }
func (r *Room) CreatedAt() time.Time { return r.createdAt }

func (r *Room) Info() model.RoomInfo {
	return model.RoomInfo{ID: r.id, Name: r.name, CreatedAt: r.createdAt.UnixMilli()}
}

// Add registers a member; re-adding the same ID replaces the record.
func (r *Room) Add(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID] = m
}

// Remove deletes the member and reports whether it was present. The
// departed participant's entries in peer clocks are deliberately retained.
func (r *Room) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

func (r *Room) Has(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

// Members returns a snapshot ordered by join time, then ID, so user lists
// are deterministic.
func (r *Room) Members() []Member {
	r.mu.RLock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Append adds a stamped message to the history window, dropping the oldest
// entry once the window is full.
func (r *Room) Append(msg *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, msg)
	if len(r.history) > r.limit {
		r.history = r.history[len(r.history)-r.limit:]
	}
}

// History returns up to max of the most recent messages, oldest first.
// max <= 0 returns the whole window.
func (r *Room) History(max int) []*model.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.history)
	if max > 0 && max < n {
		n = max
	}
	out := make([]*model.Message, n)
	copy(out, r.history[len(r.history)-n:])
	return out
}

func (r *Room) MessageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.history)
}
