package room

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mossrock/roomdrop/internal/domain/models"
)

// ItemCollection is the per-room item backend. Watch and WatchDocument
// deliver one snapshot immediately and a fresh one after every change;
// both channels close when ctx is canceled. Snapshots are authoritative:
// the engine replaces its mirror wholesale rather than patching it, so a
// missed or reordered notification is repaired by the next snapshot.
type ItemCollection interface {
	Insert(ctx context.Context, item models.Item) (primitive.ObjectID, error)
	SetName(ctx context.Context, id primitive.ObjectID, name string) error
	SetContent(ctx context.Context, id primitive.ObjectID, content string) error
	SetParent(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	CountChildren(ctx context.Context, parentID *primitive.ObjectID) (int64, error)
	Watch(ctx context.Context) (<-chan []models.Item, <-chan error)
	WatchDocument(ctx context.Context, id primitive.ObjectID) (<-chan *models.Item, <-chan error)
}

// ImageCollection is the per-room gallery backend. WatchDocument-style
// snapshots are not needed; the gallery only renders the full set.
type ImageCollection interface {
	Insert(ctx context.Context, img models.GalleryImage) (primitive.ObjectID, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	Watch(ctx context.Context) (<-chan []models.GalleryImage, <-chan error)
}

// Stores bundles the two collections backing one room.
type Stores struct {
	Items  ItemCollection
	Images ImageCollection
}

// Pipeline turns a raw uploaded image into a bounded encoded blob plus
// its MIME type.
type Pipeline interface {
	Compress(ctx context.Context, raw []byte) (blob []byte, mime string, err error)
}
