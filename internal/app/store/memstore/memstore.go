// Package memstore provides in-memory room collections with the same
// snapshot-push contract as the Mongo stores: every watcher gets one
// snapshot immediately and a fresh one after each change. It backs the
// memory backend mode and the engine's tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mossrock/roomdrop/internal/domain/models"
)

// DB hands out per-room collections, shared by slug the way Mongo
// shares a namespace: two sessions in the same room see the same data.
type DB struct {
	mu     sync.Mutex
	items  map[string]*ItemStore
	images map[string]*ImageStore
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		items:  make(map[string]*ItemStore),
		images: make(map[string]*ImageStore),
	}
}

// Items returns the item collection for a room, creating it on first use.
func (db *DB) Items(slug string) *ItemStore {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.items[slug]
	if !ok {
		s = NewItems()
		db.items[slug] = s
	}
	return s
}

// Images returns the image collection for a room, creating it on first use.
func (db *DB) Images(slug string) *ImageStore {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.images[slug]
	if !ok {
		s = NewImages()
		db.images[slug] = s
	}
	return s
}

// ItemStore is an in-memory item collection.
type ItemStore struct {
	mu    sync.RWMutex
	items map[primitive.ObjectID]models.Item
	bc    *broadcast
}

// NewItems creates an empty item collection.
func NewItems() *ItemStore {
	return &ItemStore{
		items: make(map[primitive.ObjectID]models.Item),
		bc:    newBroadcast(),
	}
}

// Insert stores a new item and returns its assigned id.
func (s *ItemStore) Insert(ctx context.Context, item models.Item) (primitive.ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return primitive.NilObjectID, err
	}
	if item.ID.IsZero() {
		item.ID = primitive.NewObjectID()
	}
	item.NameCI = text.Fold(item.Name)
	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()
	s.bc.ping()
	return item.ID, nil
}

// SetName updates an item's name. A missing id is a silent no-op, the
// same shape an UpdateOne that matches nothing has.
func (s *ItemStore) SetName(ctx context.Context, id primitive.ObjectID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if it, ok := s.items[id]; ok {
		it.Name = name
		it.NameCI = text.Fold(name)
		it.UpdatedAt = time.Now().UTC()
		s.items[id] = it
	}
	s.mu.Unlock()
	s.bc.ping()
	return nil
}

// SetContent updates a document's content.
func (s *ItemStore) SetContent(ctx context.Context, id primitive.ObjectID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if it, ok := s.items[id]; ok {
		c := content
		it.Content = &c
		it.UpdatedAt = time.Now().UTC()
		s.items[id] = it
	}
	s.mu.Unlock()
	s.bc.ping()
	return nil
}

// SetParent reparents an item. A nil parent means the room root.
func (s *ItemStore) SetParent(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if it, ok := s.items[id]; ok {
		if parentID == nil {
			it.ParentID = nil
		} else {
			p := *parentID
			it.ParentID = &p
		}
		it.UpdatedAt = time.Now().UTC()
		s.items[id] = it
	}
	s.mu.Unlock()
	s.bc.ping()
	return nil
}

// Delete removes an item. Missing ids are not an error.
func (s *ItemStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	s.bc.ping()
	return nil
}

// Get returns one item, or nil if it does not exist.
func (s *ItemStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.snapshotOne(id), nil
}

// CountChildren counts direct children of a folder (nil for the root).
func (s *ItemStore) CountChildren(ctx context.Context, parentID *primitive.ObjectID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, it := range s.items {
		if sameParent(it.ParentID, parentID) {
			n++
		}
	}
	return n, nil
}

// Watch streams full snapshots: one immediately, then one after every
// change, until ctx is canceled. Bursts of changes may coalesce into a
// single snapshot.
func (s *ItemStore) Watch(ctx context.Context) (<-chan []models.Item, <-chan error) {
	snaps := make(chan []models.Item, 1)
	errs := make(chan error, 1)
	ping := s.bc.add()
	go func() {
		defer close(snaps)
		defer close(errs)
		defer s.bc.remove(ping)
		for {
			select {
			case snaps <- s.snapshot():
			case <-ctx.Done():
				return
			}
			select {
			case <-ping:
			case <-ctx.Done():
				return
			}
		}
	}()
	return snaps, errs
}

// WatchDocument streams one document the same way Watch streams the
// set. A nil snapshot means the document does not exist.
func (s *ItemStore) WatchDocument(ctx context.Context, id primitive.ObjectID) (<-chan *models.Item, <-chan error) {
	snaps := make(chan *models.Item, 1)
	errs := make(chan error, 1)
	ping := s.bc.add()
	go func() {
		defer close(snaps)
		defer close(errs)
		defer s.bc.remove(ping)
		for {
			select {
			case snaps <- s.snapshotOne(id):
			case <-ctx.Done():
				return
			}
			select {
			case <-ping:
			case <-ctx.Done():
				return
			}
		}
	}()
	return snaps, errs
}

func (s *ItemStore) snapshot() []models.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, cloneItem(it))
	}
	return out
}

func (s *ItemStore) snapshotOne(id primitive.ObjectID) *models.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil
	}
	cp := cloneItem(it)
	return &cp
}

// ImageStore is an in-memory gallery collection.
type ImageStore struct {
	mu     sync.RWMutex
	images map[primitive.ObjectID]models.GalleryImage
	bc     *broadcast
}

// NewImages creates an empty gallery collection.
func NewImages() *ImageStore {
	return &ImageStore{
		images: make(map[primitive.ObjectID]models.GalleryImage),
		bc:     newBroadcast(),
	}
}

// Insert stores a new image and returns its assigned id.
func (s *ImageStore) Insert(ctx context.Context, img models.GalleryImage) (primitive.ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return primitive.NilObjectID, err
	}
	if img.ID.IsZero() {
		img.ID = primitive.NewObjectID()
	}
	s.mu.Lock()
	s.images[img.ID] = img
	s.mu.Unlock()
	s.bc.ping()
	return img.ID, nil
}

// Get returns one image, or nil if it does not exist.
func (s *ImageStore) Get(ctx context.Context, id primitive.ObjectID) (*models.GalleryImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok {
		return nil, nil
	}
	return &img, nil
}

// Delete removes an image. Missing ids are not an error.
func (s *ImageStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.images, id)
	s.mu.Unlock()
	s.bc.ping()
	return nil
}

// Watch streams full snapshots the same way ItemStore.Watch does.
func (s *ImageStore) Watch(ctx context.Context) (<-chan []models.GalleryImage, <-chan error) {
	snaps := make(chan []models.GalleryImage, 1)
	errs := make(chan error, 1)
	ping := s.bc.add()
	go func() {
		defer close(snaps)
		defer close(errs)
		defer s.bc.remove(ping)
		for {
			select {
			case snaps <- s.snapshot():
			case <-ctx.Done():
				return
			}
			select {
			case <-ping:
			case <-ctx.Done():
				return
			}
		}
	}()
	return snaps, errs
}

func (s *ImageStore) snapshot() []models.GalleryImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.GalleryImage, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	return out
}

// broadcast pings watchers after a change. Pings are level-triggered
// and coalesce: a watcher that has not drained its pending ping does
// not queue another, it just refetches once.
type broadcast struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newBroadcast() *broadcast {
	return &broadcast{subs: make(map[chan struct{}]struct{})}
}

func (b *broadcast) add() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcast) remove(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *broadcast) ping() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func cloneItem(it models.Item) models.Item {
	if it.ParentID != nil {
		p := *it.ParentID
		it.ParentID = &p
	}
	if it.Content != nil {
		c := *it.Content
		it.Content = &c
	}
	return it
}

func sameParent(a, b *primitive.ObjectID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
