// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/app/store/memstore"
)

// ConnectDB connects to the configured storage backend.
//
// WAFFLE calls this after configuration is loaded but before EnsureSchema and
// Startup. For the mongo backend it establishes the pooled client; for the
// memory backend it just allocates the shared in-memory collections.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	if appCfg.Backend == "memory" {
		logger.Info("using in-memory storage backend")
		return DBDeps{MemDB: memstore.NewDB()}, nil
	}

	// Configure MongoDB connection pool
	poolCfg := wafflemongo.DefaultPoolConfig()
	if appCfg.MongoMaxPoolSize > 0 {
		poolCfg.MaxPoolSize = appCfg.MongoMaxPoolSize
	}
	if appCfg.MongoMinPoolSize > 0 {
		poolCfg.MinPoolSize = appCfg.MongoMinPoolSize
	}

	client, err := wafflemongo.ConnectWithPool(ctx, appCfg.MongoURI, appCfg.MongoDatabase, poolCfg)
	if err != nil {
		return DBDeps{}, err
	}

	db := client.Database(appCfg.MongoDatabase)

	logger.Info("connected to MongoDB",
		zap.String("database", appCfg.MongoDatabase),
		zap.Uint64("max_pool_size", poolCfg.MaxPoolSize),
		zap.Uint64("min_pool_size", poolCfg.MinPoolSize),
	)

	return DBDeps{
		MongoClient:   client,
		MongoDatabase: db,
	}, nil
}

// EnsureSchema sets up indexes or schema as needed.
//
// Rooms have no fixed schema: their collections (files_<slug>,
// images_<slug>) materialize when a room is first opened, and
// indexes.EnsureRoom builds their indexes at that moment. Nothing is
// ensured at startup.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if appCfg.Backend == "mongo" {
		logger.Info("room collections and indexes are ensured lazily on first open")
	}
	return nil
}
