package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causalchat/chat-delivery-service/internal/domain/clock"
	"github.com/causalchat/chat-delivery-service/internal/domain/registry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishReachesSubscriber(t *testing.T) {
	d := NewEventDispatcher(quietLogger())
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := d.Subscriber().Subscribe(ctx, registry.TopicMessageStamped)
	require.NoError(t, err)

	event := registry.MessageStampedEvent{
		MessageID: "m1",
		RoomID:    "main",
		SenderID:  "u1",
		Clock:     clock.Vector{"u1": 1},
		SentAt:    1000,
	}
	require.NoError(t, d.Publish(registry.TopicMessageStamped, event))

	select {
	case msg := <-msgs:
		var got registry.MessageStampedEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, event, got)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the subscriber")
	}
}

func TestPublishRejectsNilPayload(t *testing.T) {
	d := NewEventDispatcher(quietLogger())
	defer d.Close()

	assert.Error(t, d.Publish("topic", nil))
}

func TestAuditorConsumesUntilStopped(t *testing.T) {
	d := NewEventDispatcher(quietLogger())
	defer d.Close()

	a := NewAuditor(d, quietLogger())
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, d.Publish(registry.TopicMembership, registry.MembershipEvent{
		RoomID: "main", UserID: "u1", Username: "alice", Action: "joined",
	}))

	// Stop blocks until the consumer goroutine exits.
	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("auditor did not stop")
	}
}
