// Package causal implements per-participant causal delivery of chat
// messages.
//
// The engine wraps the participant's vector clock. Messages whose causal
// predecessors have not been observed yet are withheld in a buffer keyed by
// message id; whenever the clock advances, the buffer is re-scanned and every
// newly ready message is released, one commit at a time, until a fixpoint.
package causal

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/causalchat/chat-delivery-service/internal/domain/clock"
	"github.com/causalchat/chat-delivery-service/internal/domain/model"
)

// Reason explains a non-delivery outcome of Offer.
type Reason string

const (
	// ReasonWaiting marks a message buffered until its causal
	// dependencies arrive.
	ReasonWaiting Reason = "waiting_for_causal_dependencies"
	// ReasonDuplicate marks a message already buffered or delivered.
	ReasonDuplicate Reason = "duplicate"
	// ReasonBufferOverflow is reported when the buffer cap is reached;
	// the message is refused rather than silently dropped.
	ReasonBufferOverflow Reason = "buffer_overflow"
)

// Result is the outcome of offering one message.
type Result struct {
	Delivered bool
	Reason    Reason
}

// Stats counts engine activity since the last Reset.
type Stats struct {
	TotalOffered         int `json:"total_offered"`
	DeliveredImmediately int `json:"delivered_immediately"`
	BufferedTotal        int `json:"buffered_total"`
	MaxBufferSize        int `json:"max_buffer_size"`
	CurrentBufferSize    int `json:"current_buffer_size"`
	TotalDelivered       int `json:"total_delivered"`
}

// BufferedEntry describes one withheld message for observability.
type BufferedEntry struct {
	MessageID  string        `json:"message_id"`
	ReceivedAt time.Time     `json:"received_at"`
	Attempts   int           `json:"attempts"`
	WaitTime   time.Duration `json:"wait_time"`
}

type pendingEntry struct {
	msg        *model.Message
	receivedAt time.Time
	attempts   int
}

const defaultDeliveredCacheSize = 4096

// Option configures an Engine.
type Option func(*Engine)

// WithCapacity caps the buffer; offers beyond the cap return
// ReasonBufferOverflow. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(e *Engine) { e.capacity = n }
}

// WithDeliveredCacheSize sizes the delivered-id cache backing duplicate
// suppression.
func WithDeliveredCacheSize(n int) Option {
	return func(e *Engine) { e.deliveredSize = n }
}

// Engine is one participant's causal delivery engine. It is safe for
// concurrent use, though recipients are expected to feed it from a single
// event loop.
type Engine struct {
	mu            sync.Mutex
	clk           *clock.Clock
	pending       map[string]*pendingEntry
	delivered     *lru.Cache[string, struct{}]
	capacity      int
	deliveredSize int
	stats         Stats
}

// NewEngine wraps the participant's clock. The engine merges message clocks
// internally: a delivered message's clock is folded in before any buffered
// entry is re-evaluated and before the message is handed downstream.
func NewEngine(clk *clock.Clock, opts ...Option) *Engine {
	e := &Engine{
		clk:           clk,
		pending:       make(map[string]*pendingEntry),
		deliveredSize: defaultDeliveredCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	cache, err := lru.New[string, struct{}](e.deliveredSize)
	if err != nil {
		cache, _ = lru.New[string, struct{}](defaultDeliveredCacheSize)
	}
	e.delivered = cache
	return e
}

// Clock returns the wrapped participant clock.
func (e *Engine) Clock() *clock.Clock { return e.clk }

// Offer evaluates one incoming message. When it is causally ready the clock
// is merged and the message must be emitted downstream by the caller, who
// then drains until empty. Otherwise the message is buffered (or refused as
// a duplicate or on overflow).
func (e *Engine) Offer(msg *model.Message) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalOffered++

	if _, ok := e.pending[msg.ID]; ok {
		return Result{Reason: ReasonDuplicate}
	}
	if e.delivered.Contains(msg.ID) {
		return Result{Reason: ReasonDuplicate}
	}
	// A sender entry at or below our own view is a re-send of something
	// already observed, even under a fresh message id.
	local := e.clk.Snapshot()
	if msg.Clock.Get(msg.SenderID) <= local.Get(msg.SenderID) {
		return Result{Reason: ReasonDuplicate}
	}

	if clock.Deliverable(local, msg.SenderID, msg.Clock) {
		e.commit(msg)
		e.stats.DeliveredImmediately++
		return Result{Delivered: true}
	}

	if e.capacity > 0 && len(e.pending) >= e.capacity {
		return Result{Reason: ReasonBufferOverflow}
	}

	e.pending[msg.ID] = &pendingEntry{msg: msg, receivedAt: time.Now()}
	e.stats.BufferedTotal++
	e.stats.CurrentBufferSize = len(e.pending)
	if e.stats.CurrentBufferSize > e.stats.MaxBufferSize {
		e.stats.MaxBufferSize = e.stats.CurrentBufferSize
	}
	return Result{Reason: ReasonWaiting}
}

// Drain releases every buffered message that has become ready, committing
// one at a time: each commit merges the message clock before the remaining
// buffer is re-evaluated. The returned order is deterministic: causal
// predecessors first, concurrent messages by arrival time, then by id.
// After Drain returns, no buffered entry is ready; entries still waiting
// have their attempt counter incremented.
func (e *Engine) Drain() []*model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*model.Message
	for {
		next := e.nextReady()
		if next == nil {
			break
		}
		delete(e.pending, next.msg.ID)
		e.commit(next.msg)
		out = append(out, next.msg)
	}

	e.stats.CurrentBufferSize = len(e.pending)
	for _, ent := range e.pending {
		ent.attempts++
	}
	return out
}

// nextReady picks the first ready entry under the deterministic tie-break.
func (e *Engine) nextReady() *pendingEntry {
	local := e.clk.Snapshot()
	var ready []*pendingEntry
	for _, ent := range e.pending {
		if clock.Deliverable(local, ent.msg.SenderID, ent.msg.Clock) {
			ready = append(ready, ent)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.msg.Clock.HappensBefore(b.msg.Clock) {
			return true
		}
		if b.msg.Clock.HappensBefore(a.msg.Clock) {
			return false
		}
		if !a.receivedAt.Equal(b.receivedAt) {
			return a.receivedAt.Before(b.receivedAt)
		}
		return a.msg.ID < b.msg.ID
	})
	return ready[0]
}

// commit merges the message clock and records the delivery.
func (e *Engine) commit(msg *model.Message) {
	e.clk.Merge(msg.Clock)
	e.delivered.Add(msg.ID, struct{}{})
	e.stats.TotalDelivered++
}

// Replay records a message surfaced from a room history snapshot, bypassing
// the readiness gate: history arrives in the hub's stamp order, which is
// already causally consistent, and a late joiner's seeded clock would read
// every pre-join message as a duplicate. It reports false when the message
// was already delivered live. The message clock is merged, so a replayed
// entry can unblock buffered live messages; callers should Drain afterwards.
func (e *Engine) Replay(msg *model.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.delivered.Contains(msg.ID) {
		return false
	}
	// The live copy may still be waiting in the buffer.
	delete(e.pending, msg.ID)
	e.stats.CurrentBufferSize = len(e.pending)

	e.commit(msg)
	return true
}

// Buffered enumerates withheld messages, oldest first.
func (e *Engine) Buffered() []BufferedEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	out := make([]BufferedEntry, 0, len(e.pending))
	for _, ent := range e.pending {
		out = append(out, BufferedEntry{
			MessageID:  ent.msg.ID,
			ReceivedAt: ent.receivedAt,
			Attempts:   ent.attempts,
			WaitTime:   now.Sub(ent.receivedAt),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}

// Reset clears the buffer, the duplicate-suppression cache and the stats.
// The participant clock is left untouched; logical time never rewinds.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = make(map[string]*pendingEntry)
	e.delivered.Purge()
	e.stats = Stats{}
}

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.CurrentBufferSize = len(e.pending)
	return e.stats
}
