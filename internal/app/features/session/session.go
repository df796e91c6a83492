// Package session exposes the identity bootstrap endpoint.
//
// Endpoints:
//   - GET /api/session - Return the caller's session id and a CSRF token
//
// Clients call this once on load: the request mints the anonymous
// session cookie if none exists, and the returned CSRF token goes into
// the X-CSRF-Token header of every later mutation.
package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/app/system/identity"
	"github.com/mossrock/roomdrop/internal/app/system/jsonutil"
)

// Handler handles session bootstrap requests.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new session handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// Routes returns a chi.Router with the session endpoint mounted.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.Current)
	return r
}

// Current handles GET /api/session.
//
// Response (200 OK):
//
//	{
//	    "session_id": "2f6c…",
//	    "csrf_token": "…"
//	}
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	sid, ok := identity.FromRequest(r)
	if !ok {
		// EnsureSession runs in front of every API route, so a missing
		// id means the middleware chain is miswired.
		h.logger.Error("session bootstrap reached without a session id",
			zap.String("path", r.URL.Path))
		jsonutil.InternalError(w, "no session")
		return
	}

	jsonutil.OK(w, map[string]string{
		"session_id": sid,
		"csrf_token": csrf.Token(r),
	})
}
