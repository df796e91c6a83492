// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mossrock/roomdrop/internal/app/store/memstore"
)

// DBDeps holds database and backend dependencies for this WAFFLE app.
//
// This struct is created in ConnectDB and passed to subsequent lifecycle
// hooks: EnsureSchema, Startup, BuildHandler, and Shutdown. It serves as
// the central place to store all database clients and backend connections
// that the application needs.
//
// Exactly one of the two backends is populated, selected by
// AppConfig.Backend. The mongo fields are nil under the memory backend
// and MemDB is nil under mongo; code downstream branches on Backend,
// never on nil checks.
type DBDeps struct {
	// MongoDB client and database (backend = mongo)
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// In-memory room collections (backend = memory)
	MemDB *memstore.DB
}
