// Package pubsub carries hub events over an in-process watermill bus.
//
// The hub publishes a record for every stamped message and every membership
// change; subscribers stay decoupled from delivery. The transport is
// watermill's gochannel, so the bus needs no external broker and each test
// can spin up its own.
package pubsub

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventDispatcher is the bus facade: publish for the hub, subscribe for
// in-process consumers.
type EventDispatcher interface {
	Publish(topic string, payload any) error
	Subscriber() message.Subscriber
	Close() error
}

type eventDispatcher struct {
	bus *gochannel.GoChannel
}

// NewEventDispatcher builds a gochannel-backed dispatcher.
func NewEventDispatcher(logger *slog.Logger) EventDispatcher {
	return &eventDispatcher{
		bus: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			watermill.NewSlogLogger(logger),
		),
	}
}

func (d *eventDispatcher) Publish(topic string, payload any) error {
	if payload == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil payload")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := d.bus.Publish(topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: publish to topic %s: %w", topic, err)
	}
	return nil
}

func (d *eventDispatcher) Subscriber() message.Subscriber {
	return d.bus
}

func (d *eventDispatcher) Close() error {
	return d.bus.Close()
}
