package causal

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causalchat/chat-delivery-service/internal/domain/clock"
	"github.com/causalchat/chat-delivery-service/internal/domain/model"
)

func msg(id, sender string, v clock.Vector) *model.Message {
	return &model.Message{
		ID:       id,
		SenderID: sender,
		Text:     "m:" + id,
		Clock:    v,
		SentAt:   time.Now().UnixMilli(),
	}
}

func TestOfferDeliversInOrderMessage(t *testing.T) {
	e := NewEngine(clock.New("carol"))

	res := e.Offer(msg("m1", "alice", clock.Vector{"alice": 1}))

	assert.True(t, res.Delivered)
	assert.Equal(t, uint64(1), e.Clock().Snapshot().Get("alice"))
	assert.Empty(t, e.Drain())
}

func TestConcurrentSendersDeliverInEitherOrder(t *testing.T) {
	// Two concurrent messages are both immediately ready regardless of
	// arrival order, and the recipient ends with the merged clock.
	for _, order := range [][]*model.Message{
		{msg("m1", "alice", clock.Vector{"alice": 1}), msg("m2", "bob", clock.Vector{"bob": 1})},
		{msg("m2", "bob", clock.Vector{"bob": 1}), msg("m1", "alice", clock.Vector{"alice": 1})},
	} {
		e := NewEngine(clock.New("carol"))
		for _, m := range order {
			require.True(t, e.Offer(m).Delivered)
			require.Empty(t, e.Drain())
		}
		snap := e.Clock().Snapshot()
		assert.Equal(t, uint64(1), snap.Get("alice"))
		assert.Equal(t, uint64(1), snap.Get("bob"))
	}
}

func TestFIFOPerSenderReordering(t *testing.T) {
	// Bob's second message overtakes his first on the wire.
	e := NewEngine(clock.New("carol"))

	res := e.Offer(msg("m2", "bob", clock.Vector{"bob": 2}))
	require.False(t, res.Delivered)
	assert.Equal(t, ReasonWaiting, res.Reason)

	res = e.Offer(msg("m1", "bob", clock.Vector{"bob": 1}))
	require.True(t, res.Delivered)

	released := e.Drain()
	require.Len(t, released, 1)
	assert.Equal(t, "m2", released[0].ID)
	assert.Empty(t, e.Buffered())
}

func TestReplyBeforeOriginal(t *testing.T) {
	// Alice sends m1; Bob replies m2 having seen m1. Carol receives the
	// reply first and must not surface it until the original lands.
	e := NewEngine(clock.New("carol"))

	reply := msg("m2", "bob", clock.Vector{"alice": 1, "bob": 1})
	res := e.Offer(reply)
	require.False(t, res.Delivered)
	assert.Equal(t, ReasonWaiting, res.Reason)

	original := msg("m1", "alice", clock.Vector{"alice": 1})
	res = e.Offer(original)
	require.True(t, res.Delivered)

	released := e.Drain()
	require.Len(t, released, 1)
	assert.Equal(t, "m2", released[0].ID)
	assert.Equal(t, uint64(1), e.Clock().Snapshot().Get("bob"))
}

func TestDrainCascades(t *testing.T) {
	// A chain of three from the same sender, offered in reverse: one
	// arrival unlocks the rest in a single drain.
	e := NewEngine(clock.New("me"))

	require.Equal(t, ReasonWaiting, e.Offer(msg("m3", "a", clock.Vector{"a": 3})).Reason)
	require.Equal(t, ReasonWaiting, e.Offer(msg("m2", "a", clock.Vector{"a": 2})).Reason)
	require.True(t, e.Offer(msg("m1", "a", clock.Vector{"a": 1})).Delivered)

	released := e.Drain()
	require.Len(t, released, 2)
	assert.Equal(t, "m2", released[0].ID)
	assert.Equal(t, "m3", released[1].ID)
	assert.Empty(t, e.Drain(), "drain is a fixpoint")
}

func TestDuplicateSuppression(t *testing.T) {
	e := NewEngine(clock.New("me"))

	m := msg("m1", "a", clock.Vector{"a": 1})
	require.True(t, e.Offer(m).Delivered)

	// Same id again.
	res := e.Offer(m)
	assert.False(t, res.Delivered)
	assert.Equal(t, ReasonDuplicate, res.Reason)

	// Fresh id but a sender counter we have already observed.
	res = e.Offer(msg("m1-retry", "a", clock.Vector{"a": 1}))
	assert.Equal(t, ReasonDuplicate, res.Reason)

	// Duplicate of a message still in the buffer.
	buffered := msg("m9", "a", clock.Vector{"a": 9})
	require.Equal(t, ReasonWaiting, e.Offer(buffered).Reason)
	assert.Equal(t, ReasonDuplicate, e.Offer(buffered).Reason)
}

func TestBufferOverflow(t *testing.T) {
	e := NewEngine(clock.New("me"), WithCapacity(2))

	require.Equal(t, ReasonWaiting, e.Offer(msg("m5", "a", clock.Vector{"a": 5})).Reason)
	require.Equal(t, ReasonWaiting, e.Offer(msg("m6", "a", clock.Vector{"a": 6})).Reason)

	res := e.Offer(msg("m7", "a", clock.Vector{"a": 7}))
	assert.Equal(t, ReasonBufferOverflow, res.Reason)

	// A ready message still goes through at capacity.
	assert.True(t, e.Offer(msg("m1", "a", clock.Vector{"a": 1})).Delivered)
}

func TestDrainOrdersCausalPredecessorsFirst(t *testing.T) {
	// Both buffered messages become ready after the unlock; the causally
	// earlier one must come out first regardless of arrival order.
	e := NewEngine(clock.New("carol"))

	later := msg("z-later", "bob", clock.Vector{"alice": 2, "bob": 1})
	earlier := msg("a-earlier", "alice", clock.Vector{"alice": 2})

	require.Equal(t, ReasonWaiting, e.Offer(later).Reason)
	require.Equal(t, ReasonWaiting, e.Offer(earlier).Reason)

	require.True(t, e.Offer(msg("m1", "alice", clock.Vector{"alice": 1})).Delivered)

	released := e.Drain()
	require.Len(t, released, 2)
	assert.Equal(t, "a-earlier", released[0].ID)
	assert.Equal(t, "z-later", released[1].ID)
}

func TestDrainTieBreakIsDeterministicForConcurrentMessages(t *testing.T) {
	// Two concurrent messages ready at once and received in the same
	// instant tie-break on message id.
	for i := 0; i < 5; i++ {
		e := NewEngine(clock.New("me"))

		require.Equal(t, ReasonWaiting, e.Offer(msg("bbb", "b", clock.Vector{"a": 1, "b": 1})).Reason)
		require.Equal(t, ReasonWaiting, e.Offer(msg("ccc", "c", clock.Vector{"a": 1, "c": 1})).Reason)
		require.True(t, e.Offer(msg("aaa", "a", clock.Vector{"a": 1})).Delivered)

		released := e.Drain()
		require.Len(t, released, 2)
		// Arrival times differ here, so the earlier arrival wins.
		assert.Equal(t, "bbb", released[0].ID)
		assert.Equal(t, "ccc", released[1].ID)
	}
}

func TestBufferedReporting(t *testing.T) {
	e := NewEngine(clock.New("me"))

	require.Equal(t, ReasonWaiting, e.Offer(msg("m3", "a", clock.Vector{"a": 3})).Reason)
	require.Equal(t, ReasonWaiting, e.Offer(msg("m5", "a", clock.Vector{"a": 5})).Reason)

	e.Drain() // nothing ready; bumps attempts

	entries := e.Buffered()
	require.Len(t, entries, 2)
	assert.Equal(t, "m3", entries[0].MessageID)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.GreaterOrEqual(t, entries[0].WaitTime, time.Duration(0))
}

func TestStats(t *testing.T) {
	e := NewEngine(clock.New("me"))

	require.True(t, e.Offer(msg("m1", "a", clock.Vector{"a": 1})).Delivered)
	require.Equal(t, ReasonWaiting, e.Offer(msg("m3", "a", clock.Vector{"a": 3})).Reason)
	require.True(t, e.Offer(msg("m2", "a", clock.Vector{"a": 2})).Delivered)
	require.Len(t, e.Drain(), 1)

	s := e.Stats()
	assert.Equal(t, 3, s.TotalOffered)
	assert.Equal(t, 2, s.DeliveredImmediately)
	assert.Equal(t, 1, s.BufferedTotal)
	assert.Equal(t, 1, s.MaxBufferSize)
	assert.Equal(t, 0, s.CurrentBufferSize)
	assert.Equal(t, 3, s.TotalDelivered)
}

func TestResetKeepsClock(t *testing.T) {
	e := NewEngine(clock.New("me"))
	require.True(t, e.Offer(msg("m1", "a", clock.Vector{"a": 1})).Delivered)
	require.Equal(t, ReasonWaiting, e.Offer(msg("m9", "a", clock.Vector{"a": 9})).Reason)

	e.Reset()

	assert.Equal(t, Stats{}, e.Stats())
	assert.Empty(t, e.Buffered())
	// Logical time never rewinds, so a replay of m1 stays suppressed by
	// the sender-counter check even though the id cache was purged.
	assert.Equal(t, uint64(1), e.Clock().Snapshot().Get("a"))
	assert.Equal(t, ReasonDuplicate, e.Offer(msg("m1", "a", clock.Vector{"a": 1})).Reason)
}

func TestReplayBypassesSeededClock(t *testing.T) {
	// A late joiner's clock already dominates every pre-join message, so
	// Offer would refuse them; Replay still surfaces the snapshot.
	seeded := clock.New("me")
	seeded.Merge(clock.Vector{"a": 2})
	e := NewEngine(seeded)

	m1 := msg("m1", "a", clock.Vector{"a": 1})
	m2 := msg("m2", "a", clock.Vector{"a": 2})
	require.Equal(t, ReasonDuplicate, e.Offer(m1).Reason)

	assert.True(t, e.Replay(m1))
	assert.True(t, e.Replay(m2))
	assert.False(t, e.Replay(m1), "second snapshot does not re-surface")
}

func TestReplaySkipsLiveDeliveriesAndUnblocksBuffer(t *testing.T) {
	e := NewEngine(clock.New("me"))

	m1 := msg("m1", "a", clock.Vector{"a": 1})
	require.True(t, e.Offer(m1).Delivered)
	assert.False(t, e.Replay(m1), "already delivered live")

	// m3 buffered live; the snapshot carries m2, whose merge makes m3
	// ready on the next drain.
	m3 := msg("m3", "a", clock.Vector{"a": 3})
	require.Equal(t, ReasonWaiting, e.Offer(m3).Reason)
	assert.True(t, e.Replay(msg("m2", "a", clock.Vector{"a": 2})))

	released := e.Drain()
	require.Len(t, released, 1)
	assert.Equal(t, "m3", released[0].ID)
}

func TestDeliveredCacheEviction(t *testing.T) {
	e := NewEngine(clock.New("me"), WithDeliveredCacheSize(2))

	for i := 1; i <= 4; i++ {
		m := msg(fmt.Sprintf("m%d", i), "a", clock.Vector{"a": uint64(i)})
		require.True(t, e.Offer(m).Delivered)
	}

	// m1 was evicted from the id cache, but the sender-counter check
	// still refuses the replay.
	res := e.Offer(msg("m1", "a", clock.Vector{"a": 1}))
	assert.Equal(t, ReasonDuplicate, res.Reason)
}
