package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/familypoints/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса семейных баллов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/health", h.Health)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/points", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/records", h.GetRecords)
			r.Get("/audit", h.Audit)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.CreateTask)
			r.Get("/family", h.ListFamilyTasks)
			r.Get("/completions", h.ListCompletions)
			r.Get("/completions/{id}", h.GetCompletion)
			r.Post("/completions/{id}/approve", h.Approve)
			r.Get("/{id}", h.GetTask)
			r.Post("/{id}/complete", h.CompleteTask)
		})

		r.Route("/rewards", func(r chi.Router) {
			r.Post("/", h.CreateReward)
			r.Get("/family", h.ListFamilyRewards)
			r.Get("/default", h.ListDefaultRewards)
			r.Get("/redemptions", h.ListRedemptions)
			r.Post("/{id}/redeem", h.Redeem)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
