package registry

import "time"

// Option is a functional configuration type for the Hub.
type Option func(*Hub)

// WithDefaultRoom names the room created at hub start and used by join
// frames that omit a room id.
func WithDefaultRoom(id string) Option {
	return func(h *Hub) { h.cfg.defaultRoom = id }
}

// WithHistoryLimit bounds each room's history window.
func WithHistoryLimit(n int) Option {
	return func(h *Hub) { h.cfg.historyLimit = n }
}

// WithSessionBuffer sizes the per-session outbound queue.
func WithSessionBuffer(n int) Option {
	return func(h *Hub) { h.cfg.sessionBuffer = n }
}

// WithSendTimeout sets how long a broadcast waits on a saturated outbound
// queue before the session is closed as a slow consumer.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) { h.cfg.sendTimeout = d }
}

// WithSettleDelay sets the pause between a leave notice and the follow-up
// user_list broadcast.
func WithSettleDelay(d time.Duration) Option {
	return func(h *Hub) { h.cfg.settleDelay = d }
}
