// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Request body size limits
//   - Database connection timeouts
//
// AppConfig is where everything specific to RoomDrop lives: the storage
// backend selection, room engine tuning, session cookie settings, and
// the image pipeline limits.
type AppConfig struct {
	// Storage backend selection: "mongo" (persistent rooms) or
	// "memory" (ephemeral rooms, demos and tests).
	Backend string

	// MongoDB connection configuration (backend = mongo)
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Maximum connections in pool (default: 100)
	MongoMinPoolSize uint64 // Minimum connections to keep warm (default: 10)

	// Collection watch configuration. "stream" uses change streams and
	// needs a replica set; "poll" re-queries on an interval and works
	// against any server.
	WatchMode         string
	WatchPollInterval time.Duration

	// Session management configuration. Sessions are anonymous: the
	// cookie carries only an opaque id used to stamp created items.
	SessionKey    string        // Secret key for signing session cookies (must be strong in production)
	SessionName   string        // Cookie name for sessions (default: roomdrop-session)
	SessionDomain string        // Cookie domain (blank means current host)
	SessionMaxAge time.Duration // Maximum session cookie lifetime (default: 720h)

	// CSRF protection configuration
	CSRFKey string // Secret key for CSRF token signing (32 bytes, must be strong in production)

	// Base URL the service is reachable at (CSRF trusted origin).
	BaseURL string

	// Room engine tuning
	DebounceInterval time.Duration // Quiet period before a document edit is written (default: 1s)
	RoomIdleTimeout  time.Duration // Idle time before an unreferenced room session is reclaimed (default: 10m)
	RoomSweepEvery   time.Duration // Interval between idle sweeps (default: 1m)

	// Image upload configuration
	UploadMaxBytes   int64 // Cap on the raw multipart upload body (default: 10 MiB)
	ImageMaxWidth    int   // Pipeline downscale width in pixels (default: 1600)
	ImageMaxBytes    int   // Encoded size budget for stored images (default: 1 MiB)
	ImageJPEGQuality int   // JPEG encode quality (default: 80)

	// Optional directory of static files to serve at / (a bundled
	// client, if one is deployed with the daemon). Blank disables it.
	StaticDir string
}
