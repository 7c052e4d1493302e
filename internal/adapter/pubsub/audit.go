package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/causalchat/chat-delivery-service/internal/domain/registry"
)

// Auditor tails the event bus and writes a structured audit line per event.
// It is intentionally dumb: delivery does not depend on it, and a lagging
// auditor only backs up its own gochannel buffer.
type Auditor struct {
	dispatcher EventDispatcher
	logger     *slog.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewAuditor(dispatcher EventDispatcher, logger *slog.Logger) *Auditor {
	return &Auditor{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start subscribes to the hub topics and consumes until Stop.
func (a *Auditor) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	stamped, err := a.dispatcher.Subscriber().Subscribe(ctx, registry.TopicMessageStamped)
	if err != nil {
		return err
	}
	membership, err := a.dispatcher.Subscriber().Subscribe(ctx, registry.TopicMembership)
	if err != nil {
		return err
	}

	go a.consume(ctx, stamped, membership)
	return nil
}

func (a *Auditor) consume(ctx context.Context, stamped, membership <-chan *message.Message) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stamped:
			if !ok {
				return
			}
			a.logger.Info("audit: message stamped", "event", string(msg.Payload))
			msg.Ack()
		case msg, ok := <-membership:
			if !ok {
				return
			}
			a.logger.Info("audit: membership change", "event", string(msg.Payload))
			msg.Ack()
		}
	}
}

// Stop cancels the subscription and waits for the consumer to drain.
func (a *Auditor) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}
