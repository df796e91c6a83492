// Package items provides per-room Mongo storage for the folder/document
// tree. Each room keeps its items in its own files_<slug> collection.
package items

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mossrock/roomdrop/internal/app/store/storeutil"
	"github.com/mossrock/roomdrop/internal/app/system/metrics"
	"github.com/mossrock/roomdrop/internal/app/system/slug"
	"github.com/mossrock/roomdrop/internal/app/system/timeouts"
	"github.com/mossrock/roomdrop/internal/domain/models"
)

// Store provides access to one room's item collection.
type Store struct {
	c     *mongo.Collection
	watch storeutil.WatchConfig
}

// New creates an item store for the given room.
func New(db *mongo.Database, roomSlug string, watch storeutil.WatchConfig) *Store {
	return &Store{
		c:     db.Collection(slug.ItemsCollection(roomSlug)),
		watch: watch,
	}
}

// Insert stores a new item and returns its assigned id. The folded
// name_ci field is derived here so every writer stores it the same way.
func (s *Store) Insert(ctx context.Context, item models.Item) (primitive.ObjectID, error) {
	if item.ID.IsZero() {
		item.ID = primitive.NewObjectID()
	}
	item.NameCI = text.Fold(item.Name)

	start := time.Now()
	_, err := s.c.InsertOne(ctx, item)
	metrics.RecordMongoOp("items_insert", time.Since(start), err == nil)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return item.ID, nil
}

// SetName renames an item. An id that matches nothing is a silent no-op.
// updated_at comes from the server clock, never the client's.
func (s *Store) SetName(ctx context.Context, id primitive.ObjectID, name string) error {
	start := time.Now()
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"name":    name,
			"name_ci": text.Fold(name),
		},
		"$currentDate": bson.M{"updated_at": true},
	})
	metrics.RecordMongoOp("items_set_name", time.Since(start), err == nil)
	return err
}

// SetContent replaces a document's content.
func (s *Store) SetContent(ctx context.Context, id primitive.ObjectID, content string) error {
	start := time.Now()
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":         bson.M{"content": content},
		"$currentDate": bson.M{"updated_at": true},
	})
	metrics.RecordMongoOp("items_set_content", time.Since(start), err == nil)
	return err
}

// SetParent reparents an item. A nil parent means the room root; the
// field is unset in that case so root items look the same whether they
// were created at the root or moved there.
func (s *Store) SetParent(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error {
	update := bson.M{
		"$currentDate": bson.M{"updated_at": true},
	}
	if parentID == nil {
		update["$unset"] = bson.M{"parent_id": ""}
	} else {
		update["$set"] = bson.M{"parent_id": *parentID}
	}

	start := time.Now()
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, update)
	metrics.RecordMongoOp("items_set_parent", time.Since(start), err == nil)
	return err
}

// Delete removes an item. Missing ids are not an error.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	start := time.Now()
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	metrics.RecordMongoOp("items_delete", time.Since(start), err == nil)
	return err
}

// Get returns one item, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (*models.Item, error) {
	start := time.Now()
	var it models.Item
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&it)
	if errors.Is(err, mongo.ErrNoDocuments) {
		metrics.RecordMongoOp("items_get", time.Since(start), true)
		return nil, nil
	}
	metrics.RecordMongoOp("items_get", time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// CountChildren counts direct children of a folder (nil for the root).
// The nil filter matches both absent and null parent_id fields.
func (s *Store) CountChildren(ctx context.Context, parentID *primitive.ObjectID) (int64, error) {
	start := time.Now()
	n, err := s.c.CountDocuments(ctx, bson.M{"parent_id": parentID})
	metrics.RecordMongoOp("items_count_children", time.Since(start), err == nil)
	return n, err
}

// Watch streams full snapshots of the collection: one immediately, then
// one after every change, until ctx is canceled.
func (s *Store) Watch(ctx context.Context) (<-chan []models.Item, <-chan error) {
	fetch := func(ctx context.Context) ([]models.Item, error) {
		ctx, cancel := context.WithTimeout(ctx, timeouts.Medium())
		defer cancel()
		return s.snapshot(ctx)
	}
	return storeutil.WatchSnapshots(ctx, s.c, mongo.Pipeline{}, s.watch, fetch, itemsEqual)
}

// WatchDocument streams one document the same way Watch streams the
// set. A nil snapshot means the document does not exist.
func (s *Store) WatchDocument(ctx context.Context, id primitive.ObjectID) (<-chan *models.Item, <-chan error) {
	fetch := func(ctx context.Context) (*models.Item, error) {
		ctx, cancel := context.WithTimeout(ctx, timeouts.Medium())
		defer cancel()
		return s.Get(ctx, id)
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"documentKey._id": id}}},
	}
	return storeutil.WatchSnapshots(ctx, s.c, pipeline, s.watch, fetch, docEqual)
}

// snapshot reads the whole collection in a stable order so poll-mode
// watchers can compare consecutive snapshots.
func (s *Store) snapshot(ctx context.Context) ([]models.Item, error) {
	start := time.Now()
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		metrics.RecordMongoOp("items_snapshot", time.Since(start), false)
		return nil, err
	}
	defer cur.Close(ctx)

	var items []models.Item
	if err := cur.All(ctx, &items); err != nil {
		metrics.RecordMongoOp("items_snapshot", time.Since(start), false)
		return nil, err
	}
	metrics.RecordMongoOp("items_snapshot", time.Since(start), true)
	return items, nil
}

func itemsEqual(a, b []models.Item) bool {
	return reflect.DeepEqual(a, b)
}

func docEqual(a, b *models.Item) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(*a, *b)
}
