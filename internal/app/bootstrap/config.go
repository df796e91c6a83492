// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/app/store/storeutil"
)

// EnvVarPrefix is the prefix for environment variables.
const EnvVarPrefix = "ROOMDROP"

// appConfigKeys defines the configuration keys for this application.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: ROOMDROP_MONGO_URI, ROOMDROP_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "backend", Default: "mongo", Desc: "Storage backend: 'mongo' (persistent) or 'memory' (ephemeral)"},

	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "roomdrop", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	{Name: "watch_mode", Default: "stream", Desc: "Collection watch mode: 'stream' (change streams, needs a replica set) or 'poll'"},
	{Name: "watch_poll_interval", Default: "2s", Desc: "Re-query interval in poll watch mode"},

	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "roomdrop-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "720h", Desc: "Session cookie max age (e.g., 24h, 720h, 30m)"},

	{Name: "csrf_key", Default: "dev-only-csrf-key-please-change-0123456789", Desc: "CSRF token signing key (32+ chars in production)"},

	{Name: "base_url", Default: "http://localhost:8080", Desc: "Base URL the service is reachable at"},

	// Room engine tuning
	{Name: "debounce_interval", Default: "1s", Desc: "Quiet period before a document edit is written"},
	{Name: "room_idle_timeout", Default: "10m", Desc: "Idle time before an unreferenced room session is reclaimed"},
	{Name: "room_sweep_every", Default: "1m", Desc: "Interval between idle room session sweeps"},

	// Image upload configuration
	{Name: "upload_max_bytes", Default: 10 << 20, Desc: "Cap on the raw multipart upload body in bytes"},
	{Name: "image_max_width", Default: 1600, Desc: "Pipeline downscale width in pixels"},
	{Name: "image_max_bytes", Default: 1 << 20, Desc: "Encoded size budget for stored images in bytes"},
	{Name: "image_jpeg_quality", Default: 80, Desc: "JPEG encode quality (1-100)"},

	{Name: "static_dir", Default: "", Desc: "Directory of static client files to serve at / (blank disables)"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// It is called early in startup so that both WAFFLE and the app have
// access to configuration before any backends or handlers are built.
// CoreConfig comes from the shared WAFFLE layer; AppConfig is specific
// to this app.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, ROOMDROP_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, EnvVarPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		Backend: appValues.String("backend"),

		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		WatchMode:         appValues.String("watch_mode"),
		WatchPollInterval: appValues.Duration("watch_poll_interval", storeutil.DefaultPollInterval),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		SessionMaxAge: appValues.Duration("session_max_age", 720*time.Hour),

		CSRFKey: appValues.String("csrf_key"),
		BaseURL: appValues.String("base_url"),

		DebounceInterval: appValues.Duration("debounce_interval", time.Second),
		RoomIdleTimeout:  appValues.Duration("room_idle_timeout", 10*time.Minute),
		RoomSweepEvery:   appValues.Duration("room_sweep_every", time.Minute),

		UploadMaxBytes:   int64(appValues.Int("upload_max_bytes")),
		ImageMaxWidth:    appValues.Int("image_max_width"),
		ImageMaxBytes:    appValues.Int("image_max_bytes"),
		ImageJPEGQuality: appValues.Int("image_jpeg_quality"),

		StaticDir: appValues.String("static_dir"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// This is the right place to enforce required fields or invariants that
// involve both the core and app configs.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	switch appCfg.Backend {
	case "mongo":
		if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
			logger.Error("invalid MongoDB URI", zap.Error(err))
			return fmt.Errorf("invalid MongoDB URI: %w", err)
		}
	case "memory":
		logger.Warn("memory backend selected; rooms are ephemeral and lost on restart")
	default:
		return fmt.Errorf("unknown backend: %q (want 'mongo' or 'memory')", appCfg.Backend)
	}

	switch appCfg.WatchMode {
	case storeutil.WatchModeStream, storeutil.WatchModePoll:
	default:
		return fmt.Errorf("unknown watch_mode: %q (want 'stream' or 'poll')", appCfg.WatchMode)
	}

	if appCfg.DebounceInterval <= 0 {
		return fmt.Errorf("debounce_interval must be positive, got %s", appCfg.DebounceInterval)
	}
	if q := appCfg.ImageJPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("image_jpeg_quality must be 1-100, got %d", q)
	}

	return nil
}
