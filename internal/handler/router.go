package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/invoicing-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса выставления счетов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/users", func(r chi.Router) {
				r.Get("/profile", h.GetProfile)
				r.Patch("/profile", h.UpdateProfile)
				r.Put("/password", h.ChangePassword)
				r.Delete("/", h.DeleteAccount)
			})

			r.Route("/clients", func(r chi.Router) {
				r.Post("/", h.CreateClient)
				r.Get("/", h.ListClients)
				r.Get("/{id}", h.GetClient)
				r.Patch("/{id}", h.UpdateClient)
				r.Delete("/{id}", h.DeleteClient)
			})

			r.Route("/invoices", func(r chi.Router) {
				r.Post("/", h.CreateInvoice)
				r.Get("/", h.ListInvoices)
				r.Get("/{id}", h.GetInvoice)
				r.Put("/{id}", h.UpdateInvoice)
				r.Patch("/{id}/status", h.UpdateInvoiceStatus)
				r.Delete("/{id}", h.DeleteInvoice)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeErrorMessage(w, http.StatusNotFound, "not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
