package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RouteOptions selects optional admin routes
type RouteOptions struct {
	AuthToken   string
	DebugRoutes bool
}

// NewRouter builds the admin API router
func NewRouter(handlers *AdminHandlers, opts RouteOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(opts.AuthToken))

	r.Get("/state", handlers.handleState)
	r.Get("/synced-set", handlers.handleSyncedSet)

	r.Route("/groups", func(r chi.Router) {
		r.Get("/", handlers.handleListGroups)
		r.Get("/{group}", handlers.handleGetGroup)
		if opts.DebugRoutes && handlers.sessions != nil {
			r.Post("/{group}/join", handlers.handleJoin)
			r.Post("/{group}/leave", handlers.handleLeave)
		}
	})

	if opts.DebugRoutes && handlers.sessions != nil {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", handlers.handleConnect)
			r.Post("/kill", handlers.handleKill)
			r.Get("/notifications", handlers.handleNotifications)
		})
	}

	return r
}

// RegisterRoutes mounts the admin API under /admin
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers, opts RouteOptions) {
	r := NewRouter(handlers, opts)

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().
		Bool("debug_routes", opts.DebugRoutes).
		Bool("auth", opts.AuthToken != "").
		Msg("Admin endpoints enabled at /admin/*")
}
