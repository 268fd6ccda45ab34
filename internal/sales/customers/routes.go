package customers

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers customer routes relative to /customers.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Show)
	r.Post("/", h.Create)
}
