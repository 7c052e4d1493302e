// Package client implements a chat participant: it dials the hub, joins a
// room, and feeds every received chat frame through its own causal delivery
// engine so messages surface in causal order regardless of arrival order.
//
// The client displays its own just-sent message optimistically: Send returns
// a provisional message the caller may render immediately. The hub excludes
// the sender from the broadcast and confirms the final id in a
// message_delivered frame, so self-sent messages never loop back through the
// engine; the only echo source is history replay, which is suppressed by
// sender id.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/causalchat/chat-delivery-service/internal/domain/causal"
	"github.com/causalchat/chat-delivery-service/internal/domain/clock"
	"github.com/causalchat/chat-delivery-service/internal/domain/model"
	"github.com/causalchat/chat-delivery-service/internal/wire"
)

const (
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	deliveredBuffer  = 256
	eventBuffer      = 128
)

// Client is one connected participant.
type Client struct {
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	clk    *clock.Clock
	engine *causal.Engine

	id       string
	username string
	room     model.RoomInfo

	delivered chan *model.Message
	events    chan wire.Frame

	closeOnce sync.Once
}

// Dial connects, waits for the init greeting, joins the room and returns
// once the hub confirms with join_success. roomID may be empty to use the
// hub's default room.
func Dial(ctx context.Context, rawURL, username, roomID string, logger *slog.Logger, engineOpts ...causal.Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wsURL := rawURL
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", wsURL, err)
	}

	c := &Client{
		logger:    logger,
		conn:      conn,
		username:  username,
		delivered: make(chan *model.Message, deliveredBuffer),
		events:    make(chan wire.Frame, eventBuffer),
	}

	if err := c.handshake(roomID, engineOpts); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// handshake reads the init frame, sends join, and consumes frames until the
// hub replies with join_success. Broadcasts that land in between (the
// refreshed user list, the join notice) are forwarded as regular events.
func (c *Client) handshake(roomID string, engineOpts []causal.Option) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	f, err := c.readFrame()
	if err != nil {
		return fmt.Errorf("client: waiting for init: %w", err)
	}
	init, ok := f.(*wire.Init)
	if !ok {
		return fmt.Errorf("client: expected init frame, got %s", f.FrameKind())
	}
	c.id = init.ClientID
	c.clk = clock.New(c.id)
	c.engine = causal.NewEngine(c.clk, engineOpts...)

	if err := c.writeFrame(&wire.Join{Username: c.username, RoomID: roomID}); err != nil {
		return fmt.Errorf("client: join: %w", err)
	}

	for {
		f, err := c.readFrame()
		if err != nil {
			return fmt.Errorf("client: waiting for join_success: %w", err)
		}
		if ok, okErr := c.joinReply(f); ok {
			return okErr
		}
		c.handleFrame(f)
	}
}

func (c *Client) joinReply(f wire.Frame) (bool, error) {
	switch f := f.(type) {
	case *wire.JoinSuccess:
		c.room = f.Room
		return true, nil
	case *wire.System:
		// Before join_success, a directed system notice is the hub
		// rejecting the join (state error).
		if f.UserID == "" {
			return true, fmt.Errorf("client: join rejected: %s", f.Message)
		}
	}
	return false, nil
}

// Run pumps inbound frames until the context is canceled or the connection
// drops. It owns the read side; user-facing output arrives on Delivered and
// Events.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		c.Close()
		return ctx.Err()
	})

	g.Go(func() error {
		for {
			f, err := c.readFrame()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return err
			}
			c.handleFrame(f)
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := c.writeFrame(&wire.Ping{}); err != nil {
					return err
				}
			}
		}
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (c *Client) handleFrame(f wire.Frame) {
	switch f := f.(type) {
	case *wire.ChatOut:
		c.offer(f)
	case *wire.History:
		c.replay(f.Messages)
	default:
		select {
		case c.events <- f:
		default:
			c.logger.Debug("event dropped, consumer lagging", "kind", f.FrameKind())
		}
	}
}

// offer routes one chat record through the causal engine and surfaces every
// message the engine releases, in engine order.
func (c *Client) offer(f *wire.ChatOut) {
	if f.UserID == c.id {
		// Own message replayed from history; already echoed locally.
		return
	}
	msg := f.Message()
	res := c.engine.Offer(msg)
	switch {
	case res.Delivered:
		c.emit(msg)
	case res.Reason == causal.ReasonWaiting:
		c.logger.Debug("message buffered", "id", msg.ID, "from", msg.SenderName)
	default:
		c.logger.Debug("message refused", "id", msg.ID, "reason", string(res.Reason))
		return
	}
	for _, m := range c.engine.Drain() {
		c.emit(m)
	}
}

// replay surfaces a history snapshot. Entries bypass the readiness gate
// (the snapshot is already in the hub's stamp order) but still dedupe
// against live deliveries, and may unblock buffered live messages.
func (c *Client) replay(frames []*wire.ChatOut) {
	for _, f := range frames {
		if f.UserID == c.id {
			continue
		}
		if msg := f.Message(); c.engine.Replay(msg) {
			c.emit(msg)
		}
	}
	for _, m := range c.engine.Drain() {
		c.emit(m)
	}
}

func (c *Client) emit(msg *model.Message) {
	c.delivered <- msg
}

// Send stamps and sends a chat message. The returned provisional message
// carries the sender's post-tick clock and may be rendered immediately;
// the hub confirms the authoritative id via message_delivered.
func (c *Client) Send(text string) (*model.Message, error) {
	return c.send(text, model.Metadata{})
}

// SendWithDelay asks the hub to defer the broadcast, simulating wire-level
// reordering. The ack and history append stay immediate.
func (c *Client) SendWithDelay(text string, delay time.Duration) (*model.Message, error) {
	return c.send(text, model.Metadata{
		SimulateDelay: true,
		DelayMS:       int(delay.Milliseconds()),
	})
}

func (c *Client) send(text string, meta model.Metadata) (*model.Message, error) {
	stamped := c.clk.Tick()

	f := &wire.Chat{
		Text:  text,
		Clock: wire.PairsFromVector(stamped),
	}
	if meta != (model.Metadata{}) {
		m := meta
		f.Meta = &m
	}
	if err := c.writeFrame(f); err != nil {
		return nil, fmt.Errorf("client: send: %w", err)
	}

	return &model.Message{
		ID:         uuid.NewString(), // provisional; reconciled by message_delivered
		SenderID:   c.id,
		SenderName: c.username,
		Text:       text,
		Clock:      stamped,
		SentAt:     time.Now().UnixMilli(),
		RoomID:     c.room.ID,
		Meta:       meta,
	}, nil
}

// Typing relays a typing indicator to the room.
func (c *Client) Typing(active bool) error {
	return c.writeFrame(&wire.Typing{IsTyping: active})
}

// RequestHistory asks for the room's recent history window; the replayed
// messages flow through the engine like live traffic.
func (c *Client) RequestHistory() error {
	return c.writeFrame(&wire.RequestHistory{})
}

// RequestUsers asks for the current user list, delivered on Events.
func (c *Client) RequestUsers() error {
	return c.writeFrame(&wire.GetUsers{})
}

func (c *Client) readFrame() (wire.Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	f, err := wire.Decode(data)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *Client) writeFrame(f wire.Frame) error {
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Delivered streams messages in causal order.
func (c *Client) Delivered() <-chan *model.Message { return c.delivered }

// Events streams non-chat frames: user lists, system notices, typing
// indicators, delivery acks, pongs.
func (c *Client) Events() <-chan wire.Frame { return c.events }

func (c *Client) ID() string           { return c.id }
func (c *Client) Username() string     { return c.username }
func (c *Client) Room() model.RoomInfo { return c.room }

// ClockSnapshot is the participant's current vector clock.
func (c *Client) ClockSnapshot() clock.Vector { return c.clk.Snapshot() }

// Engine exposes the causal engine for stats and buffer inspection.
func (c *Client) Engine() *causal.Engine { return c.engine }

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}
