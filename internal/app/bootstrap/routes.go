// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"net/url"
	"time"

	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	"github.com/dalemusser/waffle/pantry/fileserver"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	healthfeature "github.com/mossrock/roomdrop/internal/app/features/health"
	roomsfeature "github.com/mossrock/roomdrop/internal/app/features/rooms"
	sessionfeature "github.com/mossrock/roomdrop/internal/app/features/session"
	"github.com/mossrock/roomdrop/internal/app/system/identity"
	"github.com/mossrock/roomdrop/internal/app/system/jsonutil"
	"github.com/mossrock/roomdrop/internal/app/system/metrics"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, and the Startup
// hook have completed. At this point you have access to:
//   - coreCfg: WAFFLE core configuration (ports, env, timeouts, etc.)
//   - appCfg: app-specific configuration defined in AppConfig
//   - deps: backend clients bundled in DBDeps
//   - logger: the fully configured zap.Logger for this app
//
// The surface is a JSON API plus an SSE event stream:
//   - GET  /api/session          - identity bootstrap (session id + CSRF token)
//   - /api/rooms/{slug}/...      - room mutations and reads (request timeout applies)
//   - GET  /api/rooms/{slug}/events - live event stream (no request timeout)
//   - /health, /ready, /livez    - probes
//   - /metrics                   - Prometheus
//
// Browser clients are anonymous: EnsureSession mints an opaque session id
// cookie on first contact, and mutations carry the CSRF token from
// /api/session in the X-CSRF-Token header.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Create the anonymous session manager using app config.
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := identity.New(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	roomsHandler := roomsfeature.NewHandler(roomRegistry, appCfg.UploadMaxBytes, logger)
	sessionHandler := sessionfeature.NewHandler(logger)

	r := chi.NewRouter()

	// ─────────────────────────────────────────────────────────────────────────────
	// Global Middleware (applies to ALL routes)
	// ─────────────────────────────────────────────────────────────────────────────

	// Request metrics: records method/route/status counters and latency.
	r.Use(metrics.Middleware)

	// CORS middleware: must be early in the chain to handle preflight requests.
	r.Use(middleware.CORSFromConfig(coreCfg))

	// Security headers middleware: adds X-Frame-Options, X-Content-Type-Options, etc.
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	// Anonymous identity: every request downstream has a session id.
	r.Use(sessionMgr.EnsureSession)

	// CSRF protection. The JSON API sends the token from /api/session in
	// the X-CSRF-Token header; safe methods (GET, the event stream) pass
	// through untouched. Cookie name is "roomdrop_csrf" to avoid
	// collisions with other services on the same domain.
	csrfOpts := []csrf.Option{
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.CookieName("roomdrop_csrf"),
		csrf.RequestHeader("X-CSRF-Token"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Warn("CSRF validation failed",
				zap.String("path", req.URL.Path),
				zap.String("method", req.Method),
				zap.String("reason", csrf.FailureReason(req).Error()),
			)
			jsonutil.Error(w, http.StatusForbidden, "CSRF token invalid or missing")
		})),
	}
	// In dev mode, trust localhost origins for CSRF validation.
	if !secure {
		csrfOpts = append(csrfOpts, csrf.TrustedOrigins([]string{
			"localhost:8080",
			"localhost:3000",
			"127.0.0.1:8080",
			"127.0.0.1:3000",
		}))
	} else if origin := baseURLHost(appCfg.BaseURL); origin != "" {
		csrfOpts = append(csrfOpts, csrf.TrustedOrigins([]string{origin}))
	}
	if appCfg.SessionDomain != "" {
		csrfOpts = append(csrfOpts, csrf.Domain(appCfg.SessionDomain))
	}
	r.Use(csrf.Protect([]byte(appCfg.CSRFKey), csrfOpts...))

	// ─────────────────────────────────────────────────────────────────────────────
	// Routes
	// ─────────────────────────────────────────────────────────────────────────────

	// Identity bootstrap. Also where clients fetch their CSRF token.
	r.Mount("/api/session", sessionfeature.Routes(sessionHandler))

	// Room API. The request timeout applies here but must not wrap the
	// event stream, which lives as long as the client keeps listening.
	// The stream is registered as an explicit route on the root router:
	// chi matches it ahead of the mounted catch-all, so it bypasses the
	// timeout group.
	r.Group(func(gr chi.Router) {
		gr.Use(chimw.Timeout(30 * time.Second))
		gr.Mount("/api/rooms", roomsfeature.Routes(roomsHandler))
	})
	r.Get("/api/rooms/{slug}/events", roomsHandler.StreamEvents)

	// Health check endpoints for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	healthfeature.MountRootEndpoints(r, healthHandler)

	// Prometheus metrics
	r.Handle("/metrics", metrics.Handler())

	// Optional bundled client, served with pre-compressed file support.
	if appCfg.StaticDir != "" {
		r.Handle("/*", fileserver.Handler("/", appCfg.StaticDir))
	}

	return r, nil
}

// baseURLHost extracts the host:port from the configured base URL for
// the CSRF trusted-origin list. A malformed base URL yields "".
func baseURLHost(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return u.Host
}
