// Package stats serves hub counters as JSON for quick operational checks.
package stats

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/causalchat/chat-delivery-service/internal/service"
)

type Handler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
}

func NewHandler(logger *slog.Logger, deliverer service.Deliverer) *Handler {
	return &Handler{logger: logger, deliverer: deliverer}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.deliverer.Stats()); err != nil {
		h.logger.Error("stats encode failed", "error", err)
	}
}

var Module = fx.Module("stats",
	fx.Provide(NewHandler),
	fx.Invoke(func(router chi.Router, h *Handler) {
		router.Get("/stats", h.ServeHTTP)
	}),
)
