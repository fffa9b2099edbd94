package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/shopbot/backend/internal/handler/admin"
	"github.com/zhouzirui/shopbot/backend/internal/handler/oauth"
	"github.com/zhouzirui/shopbot/backend/internal/handler/status"
	"github.com/zhouzirui/shopbot/backend/internal/handler/webhook"
	middlewarePkg "github.com/zhouzirui/shopbot/backend/internal/middleware"
)

// Handlers are the route groups served by the bot.
type Handlers struct {
	Webhook *webhook.Handler
	OAuth   *oauth.Handler
	Status  *status.Handler
	Admin   *admin.Handler
}

// NewRouter wires HTTP routes to core services. A nil group is not mounted.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	if h.Status != nil {
		h.Status.RegisterRoutes(r)
	}
	if h.Webhook != nil {
		h.Webhook.RegisterRoutes(r)
	}
	if h.OAuth != nil {
		h.OAuth.RegisterRoutes(r)
	}
	if h.Admin != nil {
		r.Route("/api/admin", h.Admin.RegisterRoutes)
	}

	return r
}
