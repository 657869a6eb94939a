package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/linklight/internal/panel"
)

// buildRouter creates the chi router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleGetState)
		r.Get("/transitions", s.handleListTransitions)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/lifecycle", func(r chi.Router) {
			r.Use(s.tokenMiddleware)
			r.Post("/{command}", s.handleCommand)
		})
	})

	if s.cfg.Panel.Enabled {
		r.Handle("/*", panel.Handler(s.cfg.Panel.Dir))
	} else {
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeNotFound(w, "no such endpoint")
		})
	}

	return r
}
