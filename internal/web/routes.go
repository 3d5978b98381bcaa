package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/tether/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	reportsHandler := handlers.NewReportsHandler(s.engine, s.log)
	matchesHandler := handlers.NewMatchesHandler(s.engine, s.log)
	childrenHandler := handlers.NewChildrenHandler(s.engine, s.log)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Reports
		r.Post("/reports", reportsHandler.Create)
		r.Get("/reports/{id}", reportsHandler.Get)
		r.Get("/reports/{id}/image", reportsHandler.Image)

		// Matches
		r.Get("/matches/{id}", matchesHandler.Get)
		r.Get("/matches/{id}/suggestions", matchesHandler.Suggestions)
		r.Post("/matches/{id}/confirm", matchesHandler.Confirm)
		r.Post("/matches/{id}/reject", matchesHandler.Reject)

		// Resolved children
		r.Get("/children", childrenHandler.List)
		r.Get("/children/{id}", childrenHandler.Get)
	})
}
