package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/causalchat/chat-delivery-service/internal/domain/model"
	"github.com/causalchat/chat-delivery-service/internal/domain/registry"
)

// delivererMiddleware decorates a Deliverer with frame-level debug logging.
type delivererMiddleware struct {
	next   Deliverer
	logger *slog.Logger
}

func (m *delivererMiddleware) Connect(ctx context.Context) *registry.Session {
	return m.next.Connect(ctx)
}

func (m *delivererMiddleware) Disconnect(s *registry.Session) {
	m.next.Disconnect(s)
}

func (m *delivererMiddleware) Handle(s *registry.Session, frame []byte) {
	start := time.Now()
	m.next.Handle(s, frame)
	m.logger.Debug("frame handled",
		"client_id", s.ClientID(),
		"bytes", len(frame),
		"duration_us", time.Since(start).Microseconds(),
	)
}

func (m *delivererMiddleware) Stats() model.HubStats {
	return m.next.Stats()
}
