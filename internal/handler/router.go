package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/birb-png/birbfunding/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware платформы BirbFunding.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/me", h.GetMe)
				r.Get("/pledges", h.GetUserPledges)
			})
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.GetProjects)
			r.Get("/{projectID}", h.GetProject)
			r.Get("/{projectID}/pledges", h.GetProjectPledges)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/{projectID}/pledges", h.CreatePledge)
			})
		})

		r.Get("/categories", h.GetCategories)
		r.Get("/statistics", h.GetStatistics)
		r.Get("/backers/top", h.GetTopBackers)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
