package controller

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appmiddleware "github.com/webalive/workerspawn/internal/httpx/middleware"
)

// Router builds the full Controller HTTP routing tree.
func (s *Server) Router(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(appmiddleware.Recoverer)
	r.Use(appmiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Post("/api/sessions", s.CreateSession)
	r.Get("/api/sessions/{id}", s.GetSession)
	r.Get("/.well-known/jwks.json", s.JWKS)
	r.Get("/healthz", s.Healthz)
	r.Get("/readyz", s.Readyz)

	return r
}
