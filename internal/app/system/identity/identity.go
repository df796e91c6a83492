package identity

// Terminology: Session Identifiers
//   - SessionID / sessionID / session_id: The opaque random string that
//     identifies a browser session. There are no accounts; the session
//     id is the only identity a client ever has, and it is used solely
//     to stamp created items and images.

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

// Session error classification for logging and monitoring.
type sessionErrorType int

const (
	sessionErrUnknown   sessionErrorType = iota
	sessionErrExpired                    // timestamp expired - normal
	sessionErrTampered                   // MAC invalid - potential attack
	sessionErrCorrupted                  // decode/decrypt failed - corruption or key rotation
	sessionErrBackend                    // store/backend failure
)

const sessionIDKey = "session_id"

// Manager encapsulates the anonymous session store and configuration.
// Use New to create an instance.
type Manager struct {
	store  *sessions.CookieStore
	logger *zap.Logger
	name   string
}

// New creates a session Manager.
//
// Parameters:
//   - sessionKey: signing key for cookies (must be ≥32 chars in production)
//   - name: session cookie name (defaults to "roomdrop-session" if empty)
//   - domain: cookie domain (empty means current host)
//   - maxAge: session cookie lifetime (e.g., 30*24*time.Hour)
//   - secure: if true, cookies are Secure (for HTTPS production)
//   - logger: zap logger for session error logging
//
// Returns an error if sessionKey is empty or too weak for production mode.
func New(sessionKey, name, domain string, maxAge time.Duration, secure bool, logger *zap.Logger) (*Manager, error) {
	if sessionKey == "" {
		return nil, &ConfigError{Message: "session key is empty; provide ≥32 random chars"}
	}

	isWeak := len(sessionKey) < 32 || isDefaultKey(sessionKey)

	if secure {
		// In production mode, require a strong key - fail startup if weak.
		if isWeak {
			return nil, &ConfigError{
				Message: "session key is too weak for production; provide ≥32 random chars (not the default dev key)",
			}
		}
	} else if isWeak {
		// In dev mode, warn but allow weak keys.
		logger.Warn("session key is weak; 32+ random chars required in production",
			zap.Int("length", len(sessionKey)),
			zap.Bool("is_default", isDefaultKey(sessionKey)))
	}

	if name == "" {
		name = "roomdrop-session"
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	store.Options = &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		// SameSite=Lax allows cookies on same-site requests and top-level
		// navigations while blocking cross-site POST requests.
		SameSite: http.SameSiteLaxMode,
	}

	logger.Info("session manager initialized",
		zap.Bool("secure", secure),
		zap.String("name", name),
		zap.String("domain", domain))

	return &Manager{
		store:  store,
		logger: logger,
		name:   name,
	}, nil
}

// ConfigError is returned when session configuration is invalid.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// SessionName returns the configured session cookie name.
func (m *Manager) SessionName() string {
	return m.name
}

type ctxKey string

const sessionCtxKey ctxKey = "sessionID"

// FromRequest returns the session id and a "found?" flag from the
// request context. It is only populated under EnsureSession.
func FromRequest(r *http.Request) (string, bool) {
	sid, ok := r.Context().Value(sessionCtxKey).(string)
	return sid, ok && sid != ""
}

// WithTestSession injects a session id into the request context for testing.
func WithTestSession(r *http.Request, sid string) *http.Request {
	return withSessionID(r, sid)
}

// EnsureSession returns middleware that guarantees every request has a
// session id: an existing valid cookie is reused, anything else gets a
// freshly minted id. A tampered or corrupted cookie is replaced rather
// than rejected; with no accounts behind it the worst a forged cookie
// can claim is a different anonymous label.
func (m *Manager) EnsureSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.store.Get(r, m.name)
		if err != nil {
			// Classify the session error for appropriate logging.
			errType, errCategory := classifySessionError(err)
			switch errType {
			case sessionErrExpired:
				m.logger.Debug("session expired, starting fresh session",
					zap.String("category", errCategory),
					zap.String("path", r.URL.Path))
			case sessionErrTampered:
				m.logger.Warn("session MAC validation failed (possible tampering)",
					zap.String("category", errCategory),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("user_agent", r.UserAgent()))
			case sessionErrCorrupted:
				m.logger.Info("session decode failed, starting fresh session",
					zap.String("category", errCategory),
					zap.String("path", r.URL.Path))
			case sessionErrBackend:
				m.logger.Error("session store error, starting fresh session",
					zap.Error(err),
					zap.String("path", r.URL.Path))
			default:
				m.logger.Warn("session error, starting fresh session",
					zap.Error(err),
					zap.String("category", errCategory),
					zap.String("path", r.URL.Path))
			}
		}

		sid := getString(sess, sessionIDKey)
		if sid == "" {
			sid = uuid.NewString()
			sess.Values[sessionIDKey] = sid
			if err := sess.Save(r, w); err != nil {
				// The id still identifies this request; it just will not
				// stick to the next one.
				m.logger.Warn("session save failed",
					zap.Error(err),
					zap.String("path", r.URL.Path))
			}
		}

		next.ServeHTTP(w, withSessionID(r, sid))
	})
}

func withSessionID(r *http.Request, sid string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), sessionCtxKey, sid))
}

// getString safely extracts a string from a session value.
func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}

// isDefaultKey checks if the session key appears to be a default/placeholder value.
func isDefaultKey(key string) bool {
	lower := strings.ToLower(key)
	patterns := []string{
		"dev-only",
		"change-me",
		"placeholder",
		"default",
		"example",
		"insecure",
		"test-key",
		"secret123",
		"password",
	}
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classifySessionError categorizes a session/cookie error for appropriate logging.
func classifySessionError(err error) (sessionErrorType, string) {
	if err == nil {
		return sessionErrUnknown, "none"
	}

	errStr := strings.ToLower(err.Error())

	if scErr, ok := err.(securecookie.Error); ok {
		if !scErr.IsDecode() {
			return sessionErrBackend, "backend"
		}

		switch {
		case strings.Contains(errStr, "expired timestamp"):
			return sessionErrExpired, "expired"
		case strings.Contains(errStr, "mac") || strings.Contains(errStr, "hash"):
			return sessionErrTampered, "mac_invalid"
		case strings.Contains(errStr, "decrypt"):
			return sessionErrCorrupted, "decrypt_failed"
		case strings.Contains(errStr, "base64") || strings.Contains(errStr, "decode"):
			return sessionErrCorrupted, "decode_failed"
		default:
			return sessionErrCorrupted, "decode_other"
		}
	}

	return sessionErrBackend, "unknown"
}
