package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(rlm Realm, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(rlm)

	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Use(AuthMiddleware(authEnabled, token))

	// Nodes.
	r.Get("/nodes", h.ListNodes)
	r.Post("/nodes", h.TouchNode)
	r.Get("/nodes/*", h.GetNode)
	r.Delete("/nodes/*", h.RemoveNode)
	r.Post("/move", h.MoveNode)
	r.Get("/names", h.KnownNames)
	r.Get("/path/*", h.NodePath)

	// Links.
	r.Get("/backlinks/*", h.Backlinks)
	r.Get("/links/*", h.ForwardLinks)
	r.Get("/unresolved", h.Unresolved)

	// Index.
	r.Get("/stats", h.Stats)
	r.Post("/reindex", h.Reindex)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
