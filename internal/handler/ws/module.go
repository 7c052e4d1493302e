package ws

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery-ws",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(router chi.Router, h *Handler) {
	router.Get("/ws", h.ServeHTTP)
}
