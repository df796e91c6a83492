// internal/app/system/indexes/indexes.go
package indexes

// Terminology: Room Collections
//   - files_<slug>: the folder/document tree for one room
//   - images_<slug>: the gallery for one room
//
// Slugs are sanitized before they reach this package, so collection names
// built from them are safe.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mossrock/roomdrop/internal/app/system/slug"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	ensuredMu sync.Mutex
	ensured   = map[string]struct{}{}
)

// EnsureRoom runs when a room is opened. Rooms materialize lazily on first
// visit, so per-room indexes cannot be built at startup the way a fixed
// schema would be. Each ensure* function is idempotent; a slug is cached
// only after every index succeeded, so a failed ensure is retried on the
// next open.
func EnsureRoom(ctx context.Context, db *mongo.Database, roomSlug string, logger *zap.Logger) error {
	ensuredMu.Lock()
	_, done := ensured[roomSlug]
	ensuredMu.Unlock()
	if done {
		return nil
	}

	var problems []string
	if err := ensureFiles(ctx, db, roomSlug, logger); err != nil {
		problems = append(problems, "files: "+err.Error())
	}
	if err := ensureImages(ctx, db, roomSlug, logger); err != nil {
		problems = append(problems, "images: "+err.Error())
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	ensuredMu.Lock()
	ensured[roomSlug] = struct{}{}
	ensuredMu.Unlock()
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name string `bson:"name"`
	Key  bson.D `bson:"key"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

// Mongo/DocDB sometimes returns IndexOptionsConflict when an index with the
// same keys already exists under a different name.
func isOptionsConflictErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "IndexOptionsConflict")
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, indexModels []mongo.IndexModel, logger *zap.Logger) error {
	// Load what exists once. None of the room indexes are unique, so an
	// existing index with the same key pattern is always reusable as-is.
	existing := map[string]string{} // sig -> index name
	cur, err := coll.Indexes().List(ctx)
	if err == nil {
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var idx existingIndex
			if err := cur.Decode(&idx); err != nil {
				logger.Warn("failed to decode existing index",
					zap.String("collection", coll.Name()),
					zap.Error(err))
				continue
			}
			existing[keySig(idx.Key)] = idx.Name
		}
	}

	var errs []string
	for _, m := range indexModels {
		var desiredName string
		if m.Options != nil && m.Options.Name != nil {
			desiredName = *m.Options.Name
		}
		desiredSig := keySig(m.Keys.(bson.D))

		if name, ok := existing[desiredSig]; ok {
			logger.Debug("reusing existing index",
				zap.String("collection", coll.Name()),
				zap.String("name", name),
				zap.String("keys", desiredSig))
			continue
		}

		// CreateOne implicitly creates the collection on first use, which
		// is how a room's collections come into being.
		start := time.Now()
		created, err := coll.Indexes().CreateOne(ctx, m)
		if err != nil {
			if isOptionsConflictErr(err) {
				logger.Warn("index ensure failed (options conflict)",
					zap.String("collection", coll.Name()),
					zap.String("name", desiredName),
					zap.String("keys", desiredSig),
					zap.Error(err))
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), desiredName, err))
				continue
			}

			logger.Warn("index ensure failed",
				zap.String("collection", coll.Name()),
				zap.String("name", desiredName),
				zap.String("keys", desiredSig),
				zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), desiredName, err))
			continue
		}

		logger.Info("index ensured",
			zap.String("collection", coll.Name()),
			zap.String("created_name", created),
			zap.String("keys", desiredSig),
			zap.String("took", time.Since(start).String()))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Room collection index sets                                                  */
/* -------------------------------------------------------------------------- */

func ensureFiles(ctx context.Context, db *mongo.Database, roomSlug string, logger *zap.Logger) error {
	c := db.Collection(slug.ItemsCollection(roomSlug))
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Children of a folder, sorted case-insensitively. Names are not
		// unique within a room, so no unique option here.
		{
			Keys: bson.D{
				{Key: "parent_id", Value: 1},
				{Key: "name_ci", Value: 1},
			},
			Options: options.Index().SetName("idx_files_parent_nameci"),
		},
	}, logger)
}

func ensureImages(ctx context.Context, db *mongo.Database, roomSlug string, logger *zap.Logger) error {
	c := db.Collection(slug.ImagesCollection(roomSlug))
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Gallery listing, newest first.
		{
			Keys: bson.D{
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_images_created"),
		},
	}, logger)
}
