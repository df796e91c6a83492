package room

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/domain/models"
)

// Gallery mirrors a room's image set and runs uploads through the
// compression pipeline. Like the tree, the mirror is replaced wholesale
// on every snapshot.
type Gallery struct {
	images    ImageCollection
	pipe      Pipeline
	sessionID string
	notify    func(EventType)
	logger    *zap.Logger

	mu      sync.RWMutex
	list    []models.GalleryImage
	loaded  bool
	uploads int
}

func newGallery(images ImageCollection, pipe Pipeline, sessionID string, notify func(EventType), logger *zap.Logger) *Gallery {
	return &Gallery{
		images:    images,
		pipe:      pipe,
		sessionID: sessionID,
		notify:    notify,
		logger:    logger,
	}
}

// replace swaps in an authoritative snapshot, newest first.
func (g *Gallery) replace(list []models.GalleryImage) {
	next := make([]models.GalleryImage, len(list))
	copy(next, list)
	sort.Slice(next, func(i, j int) bool {
		a, b := next[i], next[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.Hex() > b.ID.Hex()
	})
	g.mu.Lock()
	g.list = next
	g.loaded = true
	g.mu.Unlock()
}

// Loaded reports whether at least one snapshot has arrived.
func (g *Gallery) Loaded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loaded
}

// Images returns the mirrored set, newest first.
func (g *Gallery) Images() []models.GalleryImage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.GalleryImage, len(g.list))
	copy(out, g.list)
	return out
}

// Uploading reports whether any upload is still in flight.
func (g *Gallery) Uploading() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.uploads > 0
}

// Upload compresses a raw image and stores it as a data URL. The
// in-flight indicator is raised for the whole attempt and always
// lowered again, success or not.
func (g *Gallery) Upload(ctx context.Context, raw []byte, filename string) error {
	g.mu.Lock()
	g.uploads++
	g.mu.Unlock()
	g.notify(EventGallery)
	defer func() {
		g.mu.Lock()
		g.uploads--
		g.mu.Unlock()
		g.notify(EventGallery)
	}()

	blob, mime, err := g.pipe.Compress(ctx, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPipeline, err)
	}
	img := models.GalleryImage{
		URL:        dataURL(mime, blob),
		Name:       filename,
		UploadedBy: g.sessionID,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := g.images.Insert(ctx, img); err != nil {
		return fmt.Errorf("store image: %w", err)
	}
	g.logger.Debug("image uploaded",
		zap.String("name", filename),
		zap.Int("bytes", len(blob)))
	return nil
}

// Delete removes an image. Deleting an id that is already gone is not
// an error; the snapshot push settles every mirror either way.
func (g *Gallery) Delete(ctx context.Context, id primitive.ObjectID) error {
	if err := g.images.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

func dataURL(mime string, blob []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(blob)
}
