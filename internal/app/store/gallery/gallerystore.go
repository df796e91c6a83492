// Package gallery provides per-room Mongo storage for uploaded photos.
// Each room keeps its images in its own images_<slug> collection.
package gallery

import (
	"context"
	"errors"
	"reflect"
	"time"

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

// Store provides access to one room's gallery collection.
type Store struct {
	c     *mongo.Collection
	watch storeutil.WatchConfig
}

// New creates a gallery store for the given room.
func New(db *mongo.Database, roomSlug string, watch storeutil.WatchConfig) *Store {
	return &Store{
		c:     db.Collection(slug.ImagesCollection(roomSlug)),
		watch: watch,
	}
}

// Insert stores a new image and returns its assigned id.
func (s *Store) Insert(ctx context.Context, img models.GalleryImage) (primitive.ObjectID, error) {
	if img.ID.IsZero() {
		img.ID = primitive.NewObjectID()
	}

	start := time.Now()
	_, err := s.c.InsertOne(ctx, img)
	metrics.RecordMongoOp("images_insert", time.Since(start), err == nil)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return img.ID, nil
}

// Delete removes an image. Missing ids are not an error.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	start := time.Now()
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	metrics.RecordMongoOp("images_delete", time.Since(start), err == nil)
	return err
}

// Get returns one image, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID) (*models.GalleryImage, error) {
	start := time.Now()
	var img models.GalleryImage
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&img)
	if errors.Is(err, mongo.ErrNoDocuments) {
		metrics.RecordMongoOp("images_get", time.Since(start), true)
		return nil, nil
	}
	metrics.RecordMongoOp("images_get", time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Watch streams full snapshots of the gallery: one immediately, then
// one after every change, until ctx is canceled.
func (s *Store) Watch(ctx context.Context) (<-chan []models.GalleryImage, <-chan error) {
	fetch := func(ctx context.Context) ([]models.GalleryImage, error) {
		ctx, cancel := context.WithTimeout(ctx, timeouts.Medium())
		defer cancel()
		return s.snapshot(ctx)
	}
	return storeutil.WatchSnapshots(ctx, s.c, mongo.Pipeline{}, s.watch, fetch, imagesEqual)
}

// snapshot reads the whole collection in a stable order so poll-mode
// watchers can compare consecutive snapshots. Display order is imposed
// by the consumer, not here.
func (s *Store) snapshot(ctx context.Context) ([]models.GalleryImage, error) {
	start := time.Now()
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		metrics.RecordMongoOp("images_snapshot", time.Since(start), false)
		return nil, err
	}
	defer cur.Close(ctx)

	var images []models.GalleryImage
	if err := cur.All(ctx, &images); err != nil {
		metrics.RecordMongoOp("images_snapshot", time.Since(start), false)
		return nil, err
	}
	metrics.RecordMongoOp("images_snapshot", time.Since(start), true)
	return images, nil
}

func imagesEqual(a, b []models.GalleryImage) bool {
	return reflect.DeepEqual(a, b)
}
