package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts the API routes. A non-empty authToken enables bearer
// auth for every route; events, if non-nil, is served at GET /events.
func NewRouter(h *Handler, authToken string, events http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authToken))

	r.Post("/query", h.Query)

	r.Get("/notes", h.ListNotes)
	r.Get("/notes/*", h.GetNote)
	r.Get("/stats", h.Stats)
	r.Get("/search", h.Search)

	r.Post("/ingest", h.Ingest)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}
	return r
}
