package gateway

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	appmiddleware "github.com/webalive/workerspawn/internal/httpx/middleware"
)

// Router builds the Gateway's HTTP routing tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(appmiddleware.Recoverer)
	r.Use(appmiddleware.Logger)

	r.Get("/ws/{sessionId}", s.ServeTerminal)
	r.Get("/healthz", s.Healthz)

	return r
}
