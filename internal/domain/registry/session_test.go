package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSendAfterCloseFails(t *testing.T) {
	s := newSession(context.Background(), 1)

	require.True(t, s.Send([]byte("a"), 10*time.Millisecond))
	s.Close()
	assert.False(t, s.Send([]byte("b"), 10*time.Millisecond))

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not signalled after Close")
	}
}

func TestSessionSendTimesOutWhenSaturated(t *testing.T) {
	s := newSession(context.Background(), 1)

	require.True(t, s.Send([]byte("a"), 10*time.Millisecond))
	start := time.Now()
	assert.False(t, s.Send([]byte("b"), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := newSession(context.Background(), 1)
	s.Close()
	s.Close()
	assert.True(t, s.closed())
}

func TestSessionInheritsParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(ctx, 1)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not observe parent cancellation")
	}
}

func TestSessionJoinState(t *testing.T) {
	s := newSession(context.Background(), 1)
	assert.False(t, s.Joined())
	assert.Empty(t, s.Username())

	now := time.Now()
	s.setJoined("alice", "main", now)
	assert.True(t, s.Joined())
	assert.Equal(t, "alice", s.Username())
	assert.Equal(t, "main", s.RoomID())
	assert.Equal(t, now, s.JoinedAt())

	s.clearRoom()
	assert.False(t, s.Joined())
	assert.Equal(t, "alice", s.Username(), "username survives leaving the room")
}
