package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsAtZero(t *testing.T) {
	c := New("alice")

	assert.Equal(t, "alice", c.Self())
	assert.Equal(t, uint64(0), c.OwnCount())
	assert.Equal(t, Vector{"alice": 0}, c.Snapshot())
}

func TestTickReturnsPostIncrementSnapshot(t *testing.T) {
	c := New("alice")

	first := c.Tick()
	second := c.Tick()

	assert.Equal(t, uint64(1), first.Get("alice"))
	assert.Equal(t, uint64(2), second.Get("alice"))
	// Snapshots are value copies; later ticks never mutate them.
	assert.Equal(t, uint64(1), first.Get("alice"))
	assert.Equal(t, uint64(2), c.OwnCount())
}

func TestAddPeerIsIdempotentAndNeverRegresses(t *testing.T) {
	c := New("alice")
	c.Merge(Vector{"bob": 5})

	c.AddPeer("bob")
	c.AddPeer("carol")
	c.AddPeer("carol")

	snap := c.Snapshot()
	assert.Equal(t, uint64(5), snap.Get("bob"))
	assert.Equal(t, uint64(0), snap.Get("carol"))
	assert.Contains(t, snap, "carol")
}

func TestMergeKeepsComponentwiseMax(t *testing.T) {
	c := New("alice")
	c.Tick()
	c.Tick()

	c.Merge(Vector{"alice": 1, "bob": 3})

	snap := c.Snapshot()
	assert.Equal(t, uint64(2), snap.Get("alice"), "own entry must not regress")
	assert.Equal(t, uint64(3), snap.Get("bob"))
}

func TestVectorGetMissingIsZero(t *testing.T) {
	v := Vector{"alice": 1}
	assert.Equal(t, uint64(0), v.Get("nobody"))
}

func TestVectorClone(t *testing.T) {
	v := Vector{"alice": 1}
	cp := v.Clone()
	cp["alice"] = 9

	assert.Equal(t, uint64(1), v.Get("alice"))
}

func TestHappensBefore(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want bool
	}{
		{"strictly smaller", Vector{"a": 1}, Vector{"a": 2}, true},
		{"smaller with extra entry", Vector{"a": 1}, Vector{"a": 1, "b": 1}, true},
		{"equal", Vector{"a": 1, "b": 2}, Vector{"a": 1, "b": 2}, false},
		{"concurrent", Vector{"a": 2, "b": 1}, Vector{"a": 1, "b": 2}, false},
		{"larger", Vector{"a": 3}, Vector{"a": 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.HappensBefore(tt.b))
		})
	}
}

func TestDeliverable(t *testing.T) {
	tests := []struct {
		name   string
		local  Vector
		sender string
		msg    Vector
		want   bool
	}{
		{
			name:   "next tick from sender, nothing else seen",
			local:  Vector{"a": 0},
			sender: "a",
			msg:    Vector{"a": 1},
			want:   true,
		},
		{
			name:   "sender gap",
			local:  Vector{"a": 0},
			sender: "a",
			msg:    Vector{"a": 3},
			want:   false,
		},
		{
			name:   "already seen from sender",
			local:  Vector{"a": 2},
			sender: "a",
			msg:    Vector{"a": 2},
			want:   false,
		},
		{
			name:   "depends on unseen third party",
			local:  Vector{"a": 0, "b": 0},
			sender: "a",
			msg:    Vector{"a": 1, "b": 2},
			want:   false,
		},
		{
			name:   "third party dependency satisfied",
			local:  Vector{"a": 0, "b": 2},
			sender: "a",
			msg:    Vector{"a": 1, "b": 2},
			want:   true,
		},
		{
			name:   "sender entry absent from message",
			local:  Vector{"a": 0},
			sender: "a",
			msg:    Vector{"b": 1},
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Deliverable(tt.local, tt.sender, tt.msg))
		})
	}
}

func TestClockDeliverableMatchesPredicate(t *testing.T) {
	c := New("me")
	c.Merge(Vector{"peer": 1})

	assert.True(t, c.Deliverable("peer", Vector{"peer": 2}))
	assert.False(t, c.Deliverable("peer", Vector{"peer": 4}))
}

func TestTickMergeConcurrent(t *testing.T) {
	c := New("me")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Tick()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Merge(Vector{"peer": uint64(j)})
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(800), c.OwnCount())
	assert.Equal(t, uint64(99), c.Snapshot().Get("peer"))
}
