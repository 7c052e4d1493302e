package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"github.com/causalchat/chat-delivery-service/config"
	"github.com/causalchat/chat-delivery-service/internal/domain/registry"
	"github.com/causalchat/chat-delivery-service/internal/service"
)

// Handler upgrades HTTP requests to the long-lived websocket channel and
// pumps frames between the socket and the hub session.
type Handler struct {
	logger       *slog.Logger
	deliverer    service.Deliverer
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
}

func NewHandler(logger *slog.Logger, deliverer service.Deliverer, cfg *config.Config) *Handler {
	return &Handler{
		logger:    logger,
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
		pingInterval: cfg.Session.PingInterval,
		writeTimeout: cfg.Session.WriteTimeout,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sess := h.deliverer.Connect(r.Context())
	defer h.deliverer.Disconnect(sess)

	logger := h.logger.With("client_id", sess.ClientID(), "remote", r.RemoteAddr)
	logger.Info("ws opened")

	go h.writePump(ws, sess, logger)
	h.readPump(ws, sess, logger)
}

// readPump feeds inbound frames to the hub until the socket dies or the
// session is closed. A peer silent for two ping intervals misses the read
// deadline and is torn down.
func (h *Handler) readPump(ws *websocket.Conn, sess *registry.Session, logger *slog.Logger) {
	deadline := 2 * h.pingInterval
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("ws read failed", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(deadline))
		h.deliverer.Handle(sess, data)
	}
}

// writePump drains the session's outbound queue onto the socket and keeps
// the connection alive with pings. Writes run through a circuit breaker:
// a few consecutive deadline misses trip it, and the session is closed
// instead of wedging the broadcast path behind a dead peer.
func (h *Handler) writePump(ws *websocket.Conn, sess *registry.Session, logger *slog.Logger) {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ws-write:" + sess.ClientID(),
		MaxRequests: 1,
		Timeout:     h.writeTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})

	write := func(messageType int, data []byte) error {
		_, err := cb.Execute(func() (any, error) {
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			return nil, ws.WriteMessage(messageType, data)
		})
		return err
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeTimeout))
			return
		case data := <-sess.Recv():
			if data == nil {
				continue
			}
			if err := write(websocket.TextMessage, data); err != nil {
				logger.Warn("ws send failed", "error", err)
				_ = ws.Close() // unblocks readPump, which runs the leave protocol
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				logger.Warn("ws ping failed", "error", err)
				_ = ws.Close()
				return
			}
		}
	}
}
