package rooms

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the room API router for mounting at /api/rooms. The
// event stream is not here; it goes through StreamRoutes so the global
// request timeout can skip it.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/{slug}", func(sr chi.Router) {
		sr.Get("/state", h.GetState)
		sr.Get("/tree", h.GetTree)

		sr.Post("/items", h.CreateItem)
		sr.Patch("/items/{id}", h.UpdateItem)
		sr.Delete("/items/{id}", h.DeleteItem)

		sr.Post("/navigate", h.Navigate)
		sr.Post("/up", h.GoUp)
		sr.Post("/open", h.OpenDocument)
		sr.Post("/close", h.LeaveRoom)

		sr.Put("/documents/{id}/content", h.PutContent)

		sr.Get("/images", h.ListImages)
		sr.Post("/images", h.UploadImage)
		sr.Delete("/images/{id}", h.DeleteImage)
	})
	return r
}

// StreamRoutes returns the long-lived event stream router, mounted
// outside the request timeout group.
func StreamRoutes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/{slug}/events", h.StreamEvents)
	return r
}
