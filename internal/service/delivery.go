package service

import (
	"context"

	"github.com/causalchat/chat-delivery-service/internal/domain/model"
	"github.com/causalchat/chat-delivery-service/internal/domain/registry"
)

// Deliverer is the interface transport handlers program against. It keeps
// the websocket layer decoupled from the concrete hub.
type Deliverer interface {
	// Connect registers a fresh session; the init frame is already
	// queued on its outbound path when Connect returns.
	Connect(ctx context.Context) *registry.Session
	// Disconnect runs the leave protocol and releases the session.
	Disconnect(s *registry.Session)
	// Handle applies one raw inbound frame to the session.
	Handle(s *registry.Session, frame []byte)
	// Stats snapshots hub counters.
	Stats() model.HubStats
}

type DeliveryService struct {
	hub *registry.Hub
}

func NewDeliveryService(hub *registry.Hub) *DeliveryService {
	return &DeliveryService{hub: hub}
}

func (s *DeliveryService) Connect(ctx context.Context) *registry.Session {
	return s.hub.Connect(ctx)
}

func (s *DeliveryService) Disconnect(sess *registry.Session) {
	s.hub.Disconnect(sess)
}

func (s *DeliveryService) Handle(sess *registry.Session, frame []byte) {
	s.hub.Dispatch(sess, frame)
}

func (s *DeliveryService) Stats() model.HubStats {
	return s.hub.Stats()
}
