// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"

	roomsfeature "github.com/mossrock/roomdrop/internal/app/features/rooms"
	gallerystore "github.com/mossrock/roomdrop/internal/app/store/gallery"
	itemstore "github.com/mossrock/roomdrop/internal/app/store/items"
	"github.com/mossrock/roomdrop/internal/app/store/storeutil"
	"github.com/mossrock/roomdrop/internal/app/system/imagepipe"
	"github.com/mossrock/roomdrop/internal/app/system/indexes"
	"github.com/mossrock/roomdrop/internal/app/system/tasks"
	"github.com/mossrock/roomdrop/internal/app/system/timeouts"
	"github.com/mossrock/roomdrop/internal/room"
)

// Startup runs once after DB connections are established, but before the
// HTTP handler is built and requests are served.
//
// It builds the room session registry (shared with BuildHandler and
// Shutdown through package state, the same way the task runner is) and
// starts the background task runner with the idle-room sweep.
//
// Returning a non-nil error will abort startup and prevent the server
// from starting.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if n := timeouts.ConfigureFromEnv(); n > 0 {
		logger.Info("applied timeout overrides from environment", zap.Int("count", n))
	}

	pipeline := imagepipe.New(appCfg.ImageMaxWidth, appCfg.ImageMaxBytes, appCfg.ImageJPEGQuality, logger)

	roomRegistry = roomsfeature.NewRegistry(openStores(appCfg, deps, logger), room.Options{
		Debounce: appCfg.DebounceInterval,
		Pipeline: pipeline,
		Logger:   logger,
	}, logger)

	startTaskRunner(appCfg, logger)

	return nil
}

// roomRegistry is the global session registry, created in Startup, used
// by BuildHandler, and drained in Shutdown.
var roomRegistry *roomsfeature.Registry

// taskRunner is the global task runner instance, used for graceful shutdown.
var taskRunner *tasks.Runner

// openStores returns the per-room collection opener for the configured
// backend. The mongo opener ensures the room's collections and indexes
// on first touch; the memory opener hands out shared per-slug maps.
func openStores(appCfg AppConfig, deps DBDeps, logger *zap.Logger) roomsfeature.OpenStores {
	if appCfg.Backend == "memory" {
		db := deps.MemDB
		return func(ctx context.Context, roomSlug string) (room.Stores, error) {
			return room.Stores{
				Items:  db.Items(roomSlug),
				Images: db.Images(roomSlug),
			}, nil
		}
	}

	watch := storeutil.WatchConfig{
		Mode:         appCfg.WatchMode,
		PollInterval: appCfg.WatchPollInterval,
		Logger:       logger,
	}
	db := deps.MongoDatabase
	return func(ctx context.Context, roomSlug string) (room.Stores, error) {
		if err := indexes.EnsureRoom(ctx, db, roomSlug, logger); err != nil {
			// Index trouble degrades query speed, not correctness; the
			// room still opens. EnsureRoom retries on the next open.
			logger.Warn("room index ensure failed",
				zap.String("room", roomSlug),
				zap.Error(err))
		}
		return room.Stores{
			Items:  itemstore.New(db, roomSlug, watch),
			Images: gallerystore.New(db, roomSlug, watch),
		}, nil
	}
}

// startTaskRunner initializes and starts the background task runner.
func startTaskRunner(appCfg AppConfig, logger *zap.Logger) {
	taskRunner = tasks.New(logger)

	// Reclaim room sessions whose clients have gone away.
	taskRunner.Register(tasks.RoomSweepJob(roomRegistry, appCfg.RoomSweepEvery, appCfg.RoomIdleTimeout, logger))

	taskRunner.Start()
}
