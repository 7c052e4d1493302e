package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/causalchat/chat-delivery-service/internal/domain/clock"
)

// Session is the hub-side representation of one connected participant: a
// fresh identity, the server-side vector clock, and a single-writer bounded
// outbound queue. Peers never hold a Session directly; all cross-session
// traffic goes through the hub's room lookup and lands on this queue.
type Session struct {
	id        uuid.UUID
	createdAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	// out carries pre-encoded frames to the transport write pump. Frames
	// for a broadcast are encoded once and shared across recipients.
	out chan []byte

	clk *clock.Clock

	mu       sync.Mutex
	username string
	roomID   string
	joinedAt time.Time

	closeOnce      sync.Once
	lastActivityAt atomic.Int64
}

func newSession(ctx context.Context, bufferSize int) *Session {
	id := uuid.New()
	childCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        id,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		out:       make(chan []byte, bufferSize),
		clk:       clock.New(id.String()),
	}
	s.lastActivityAt.Store(time.Now().UnixNano())
	return s
}

func (s *Session) ID() uuid.UUID       { return s.id }
func (s *Session) ClientID() string    { return s.id.String() }
func (s *Session) Clock() *clock.Clock { return s.clk }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Username returns the display name chosen at join time, empty before join.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// RoomID returns the current room, empty while Connected-Anonymous.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Joined reports whether the session has completed the join handshake.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID != ""
}

func (s *Session) JoinedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedAt
}

func (s *Session) setJoined(username, roomID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.roomID = roomID
	s.joinedAt = at
}

func (s *Session) clearRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = ""
}

// Send enqueues an encoded frame, waiting up to timeout for queue space.
// It returns false once the session is closed or when the queue stays
// saturated for the whole window; the hub then applies the drop-session
// policy, since dropping a single frame would break causal safety at the
// recipient.
func (s *Session) Send(data []byte, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case s.out <- data:
		s.touch()
		return true
	case <-timer.C:
		return false
	}
}

// Recv exposes the outbound queue to the transport write pump.
func (s *Session) Recv() <-chan []byte { return s.out }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Close cancels the session exactly once. The outbound channel is left open
// for the garbage collector: concurrent broadcasters race with teardown, and
// the context gate in Send already turns them away.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancelFn()
	})
}

func (s *Session) closed() bool {
	return s.ctx.Err() != nil
}

func (s *Session) touch() {
	s.lastActivityAt.Store(time.Now().UnixNano())
}

// IdleFor reports how long the session has been silent.
func (s *Session) IdleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActivityAt.Load()))
}
