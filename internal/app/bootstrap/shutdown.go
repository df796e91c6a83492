// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown is invoked during WAFFLE's shutdown phase, after the HTTP
// server has stopped accepting new requests and existing requests have
// been drained (or the shutdown timeout has elapsed).
//
// The context provided has a timeout (default 10 seconds) and should be
// respected—if cleanup takes too long, the context will be cancelled.
//
// Order matters here: the sweeper stops first so it cannot race the
// registry drain, then every live room session is closed (canceling its
// debounce timers and releasing its subscriptions), and only then does
// the Mongo client disconnect out from under them.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	var firstErr error

	// Stop background task runner with context timeout
	if taskRunner != nil {
		logger.Info("stopping background task runner")
		if err := taskRunner.Stop(ctx); err != nil {
			logger.Warn("background task runner did not stop cleanly", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// Close every live room session
	if roomRegistry != nil {
		logger.Info("closing room sessions", zap.Int("count", roomRegistry.Len()))
		roomRegistry.CloseAll()
	}

	// Disconnect MongoDB client
	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
