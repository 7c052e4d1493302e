// Package clock implements the vector clocks that order chat messages.
//
// Every participant owns one Clock keyed by opaque participant identifiers.
// Snapshots taken from a Clock are value copies and never observe later
// mutation, which makes them safe to stamp onto wire frames.
package clock

import "sync"

// Vector is an immutable-by-convention snapshot of a clock: participant
// identifier to a non-negative event counter. Identifiers absent from the
// map are read as zero when comparing.
type Vector map[string]uint64

// Get reads the counter for id, treating a missing entry as zero.
func (v Vector) Get(id string) uint64 {
	return v[id]
}

// Clone returns an independent copy of the snapshot.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for id, n := range v {
		out[id] = n
	}
	return out
}

// LE reports whether v is componentwise less than or equal to other.
func (v Vector) LE(other Vector) bool {
	for id, n := range v {
		if n > other[id] {
			return false
		}
	}
	return true
}

// HappensBefore reports whether an event stamped v causally precedes an
// event stamped other: v <= other componentwise with at least one strict
// inequality. Vectors that are neither ordered are concurrent.
func (v Vector) HappensBefore(other Vector) bool {
	return v.LE(other) && !other.LE(v)
}

// Deliverable is the causal readiness predicate. A message stamped msg by
// senderID is deliverable at a recipient whose current clock is local iff
// the sender's entry is the immediate next tick and every other entry has
// already been observed by the recipient.
//
// Condition one gives FIFO per sender; condition two ensures every event the
// sender had seen before sending is visible at the recipient.
func Deliverable(local Vector, senderID string, msg Vector) bool {
	if msg.Get(senderID) != local.Get(senderID)+1 {
		return false
	}
	for id, n := range msg {
		if id == senderID {
			continue
		}
		if n > local.Get(id) {
			return false
		}
	}
	return true
}

// Clock is one participant's logical time. It is internally synchronized:
// the owning session mutates it from its reader goroutine, while peers
// joining the room read it when seeding their own clocks.
type Clock struct {
	mu      sync.Mutex
	self    string
	entries Vector
}

// New returns a clock born with the single entry {self: 0}.
func New(self string) *Clock {
	return &Clock{
		self:    self,
		entries: Vector{self: 0},
	}
}

// Self returns the owning participant's identifier.
func (c *Clock) Self() string { return c.self }

// AddPeer ensures id is tracked, inserting a zero entry when absent.
// Entries are never removed, even after the peer leaves.
func (c *Clock) AddPeer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		c.entries[id] = 0
	}
}

// Tick increments the owner's entry and returns a snapshot of the clock
// after the increment. The snapshot is the value stamped onto the message.
func (c *Clock) Tick() Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.self]++
	return c.entries.Clone()
}

// Merge folds a snapshot into the clock, keeping the componentwise maximum.
// Identifiers unknown to the clock are implicitly added.
func (c *Clock) Merge(snapshot Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, n := range snapshot {
		if n > c.entries[id] {
			c.entries[id] = n
		}
	}
}

// Snapshot returns a value copy of the current entries.
func (c *Clock) Snapshot() Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Clone()
}

// OwnCount reads the owner's current counter.
func (c *Clock) OwnCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[c.self]
}

// Deliverable evaluates the readiness predicate against the clock's
// current state.
func (c *Clock) Deliverable(senderID string, msg Vector) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Deliverable(c.entries, senderID, msg)
}
