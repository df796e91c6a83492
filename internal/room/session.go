// Package room implements the live client engine for a single room: a
// snapshot-mirrored item tree and image gallery, navigation state, and
// a debounced document sync loop. A Session is one client's view of one
// room; concurrent clients converge because every backend change pushes
// a full snapshot into every open session.
package room

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/domain/models"
)

// DefaultDebounce is the trailing-edge delay between a document edit
// and its write.
const DefaultDebounce = time.Second

// maxFolderDepth bounds the ancestor walk in Move so a corrupt parent
// chain cannot loop forever.
const maxFolderDepth = 1000

// Options tunes a Session.
type Options struct {
	// Debounce is the document write delay. Zero means DefaultDebounce.
	Debounce time.Duration
	// Pipeline compresses gallery uploads. Required if Upload is used.
	Pipeline Pipeline
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// State is a point-in-time view of a session for render layers. A nil
// DocumentID means the client is browsing; otherwise it is editing.
type State struct {
	Slug       string
	FolderID   *primitive.ObjectID
	FolderName string
	DocumentID *primitive.ObjectID
	Status     SyncStatus
	Uploading  bool
}

// Session is one client's live view of one room. All methods are safe
// for concurrent use.
type Session struct {
	slug      string
	sessionID string
	stores    Stores
	debounce  time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	tree    *Tree
	gallery *Gallery
	hub     *hub

	mu       sync.Mutex
	folderID *primitive.ObjectID
	doc      *DocSync
	degraded bool
	closed   bool
}

// Open starts a session: both collection subscriptions begin
// immediately and the client starts browsing the room root. The session
// lives until Close or until ctx is canceled.
func Open(ctx context.Context, slug, sessionID string, stores Stores, opts Options) (*Session, error) {
	if stores.Items == nil || stores.Images == nil {
		return nil, fmt.Errorf("open room %q: nil store", slug)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		slug:      slug,
		sessionID: sessionID,
		stores:    stores,
		debounce:  opts.Debounce,
		logger:    opts.Logger,
		ctx:       sctx,
		cancel:    cancel,
		tree:      newTree(),
		hub:       newHub(),
	}
	s.gallery = newGallery(stores.Images, opts.Pipeline, sessionID, s.publish, s.logger)

	itemSnaps, itemErrs := stores.Items.Watch(sctx)
	imageSnaps, imageErrs := stores.Images.Watch(sctx)
	go s.treeLoop(itemSnaps, itemErrs)
	go s.galleryLoop(imageSnaps, imageErrs)

	return s, nil
}

// Slug returns the room's address.
func (s *Session) Slug() string { return s.slug }

// SessionID returns the owning client's opaque id.
func (s *Session) SessionID() string { return s.sessionID }

// Tree returns the item mirror.
func (s *Session) Tree() *Tree { return s.tree }

// Gallery returns the image mirror.
func (s *Session) Gallery() *Gallery { return s.gallery }

// Doc returns the open document's sync loop, or nil while browsing.
func (s *Session) Doc() *DocSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Subscribe returns a channel of change notifications. The channel
// closes when the session closes.
func (s *Session) Subscribe() chan Event { return s.hub.subscribe() }

// Unsubscribe releases a channel obtained from Subscribe.
func (s *Session) Unsubscribe(ch chan Event) { s.hub.unsubscribe(ch) }

// State returns a consistent snapshot of navigation and sync state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Slug:       s.slug,
		FolderName: s.tree.FolderName(s.folderID),
		Uploading:  s.gallery.Uploading(),
		Status:     StatusSynced,
	}
	if s.folderID != nil {
		id := *s.folderID
		st.FolderID = &id
	}
	if s.doc != nil {
		id := s.doc.ID()
		st.DocumentID = &id
		st.Status = s.doc.Status()
	} else if s.degraded {
		st.Status = StatusConnectionError
	}
	return st
}

// CreateItem stores a new folder or document under the given parent and
// returns its id. Documents start with empty content; a caller that
// wants the new document on screen opens it with the returned id.
func (s *Session) CreateItem(ctx context.Context, parentID *primitive.ObjectID, typ models.ItemType, name string) (primitive.ObjectID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return primitive.NilObjectID, ErrNameEmpty
	}
	if !models.ValidItemType(string(typ)) {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if parentID != nil && s.tree.Loaded() {
		p, ok := s.tree.Get(*parentID)
		if !ok || !p.IsFolder() {
			return primitive.NilObjectID, fmt.Errorf("parent folder: %w", ErrNotFound)
		}
	}

	item := models.Item{
		Name:      name,
		Type:      typ,
		ParentID:  parentID,
		CreatedAt: time.Now().UTC(),
		CreatedBy: s.sessionID,
	}
	if typ == models.ItemTypeDocument {
		empty := ""
		item.Content = &empty
	}
	id, err := s.stores.Items.Insert(ctx, item)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("create %s: %w", typ, err)
	}
	return id, nil
}

// Rename changes an item's name. An empty or unchanged name is a silent
// no-op, so a rename prompt canceled with the old text writes nothing.
func (s *Session) Rename(ctx context.Context, id primitive.ObjectID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	it, ok := s.tree.Get(id)
	if !ok {
		return fmt.Errorf("rename item: %w", ErrNotFound)
	}
	if name == it.Name {
		return nil
	}
	if err := s.stores.Items.SetName(ctx, id, name); err != nil {
		return fmt.Errorf("rename item: %w", err)
	}
	return nil
}

// Move reparents an item. Moving a folder into itself or one of its
// descendants is rejected, everything else lands wherever the caller
// points (nil means the room root).
func (s *Session) Move(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error {
	it, ok := s.tree.Get(id)
	if !ok {
		return fmt.Errorf("move item: %w", ErrNotFound)
	}
	if sameParent(it.ParentID, parentID) {
		return nil
	}
	if parentID != nil {
		dest, ok := s.tree.Get(*parentID)
		if !ok || !dest.IsFolder() {
			return fmt.Errorf("destination folder: %w", ErrNotFound)
		}
		if it.IsFolder() {
			if err := s.checkCycle(id, parentID); err != nil {
				return err
			}
		}
	}
	if err := s.stores.Items.SetParent(ctx, id, parentID); err != nil {
		return fmt.Errorf("move item: %w", err)
	}
	return nil
}

// checkCycle walks from the destination to the root and fails if the
// moved folder appears on the way.
func (s *Session) checkCycle(id primitive.ObjectID, destID *primitive.ObjectID) error {
	cur := destID
	for depth := 0; cur != nil && depth < maxFolderDepth; depth++ {
		if *cur == id {
			return ErrCycle
		}
		it, ok := s.tree.Get(*cur)
		if !ok {
			return nil
		}
		cur = it.ParentID
	}
	return nil
}

// Delete removes an item. Folders must be empty; the emptiness check
// asks the backend, not just the mirror, so a stale mirror cannot
// orphan children.
func (s *Session) Delete(ctx context.Context, id primitive.ObjectID) error {
	it, ok := s.tree.Get(id)
	if !ok {
		return fmt.Errorf("delete item: %w", ErrNotFound)
	}
	if it.IsFolder() {
		n, err := s.stores.Items.CountChildren(ctx, &id)
		if err != nil {
			return fmt.Errorf("count children: %w", err)
		}
		if n > 0 {
			return ErrFolderNotEmpty
		}
	}
	if err := s.stores.Items.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	s.mu.Lock()
	if s.doc != nil && s.doc.ID() == id {
		s.closeDocLocked()
		s.mu.Unlock()
		s.publish(EventNav)
		return nil
	}
	s.mu.Unlock()
	return nil
}

// Navigate moves browsing to a folder (nil for the root) and closes any
// open document.
func (s *Session) Navigate(folderID *primitive.ObjectID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closeDocLocked()
	s.folderID = copyID(folderID)
	s.mu.Unlock()
	s.publish(EventNav)
}

// OpenDocument starts editing a document. Opening the document that is
// already open is a no-op. The id is not required to be in the mirror
// yet; the document subscription resolves it either way, which lets a
// caller open a document in the same breath as creating it.
func (s *Session) OpenDocument(id primitive.ObjectID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.doc != nil && s.doc.ID() == id {
		s.mu.Unlock()
		return nil
	}
	if it, ok := s.tree.Get(id); ok && it.IsFolder() {
		s.mu.Unlock()
		return fmt.Errorf("open document: %w", ErrNotFound)
	}
	s.closeDocLocked()
	s.doc = newDocSync(s.ctx, id, s.stores.Items, s.debounce, s.logger, s.publish, func() { s.docMissing(id) })
	s.mu.Unlock()
	s.publish(EventNav)
	return nil
}

// CloseDocument returns to browsing without moving folders.
func (s *Session) CloseDocument() {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return
	}
	s.closeDocLocked()
	s.mu.Unlock()
	s.publish(EventNav)
}

// GoUp steps out one level: from an open document back to its folder,
// from a folder to its parent. At the root it does nothing. A folder
// whose record has vanished falls back to the root.
func (s *Session) GoUp() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.doc != nil {
		docID := s.doc.ID()
		s.closeDocLocked()
		if it, ok := s.tree.Get(docID); ok {
			s.folderID = copyID(it.ParentID)
		}
		s.mu.Unlock()
		s.publish(EventNav)
		return
	}
	if s.folderID == nil {
		s.mu.Unlock()
		return
	}
	if it, ok := s.tree.Get(*s.folderID); ok {
		s.folderID = copyID(it.ParentID)
	} else {
		s.folderID = nil
	}
	s.mu.Unlock()
	s.publish(EventNav)
}

// SetContent forwards a local edit to the open document.
func (s *Session) SetContent(text string) error {
	s.mu.Lock()
	d := s.doc
	s.mu.Unlock()
	if d == nil {
		return ErrNoOpenDocument
	}
	d.SetContent(text)
	return nil
}

// Upload runs a raw image through the pipeline into the gallery.
func (s *Session) Upload(ctx context.Context, raw []byte, filename string) error {
	return s.gallery.Upload(ctx, raw, filename)
}

// DeleteImage removes a gallery image.
func (s *Session) DeleteImage(ctx context.Context, id primitive.ObjectID) error {
	return s.gallery.Delete(ctx, id)
}

// Close tears down the open document, both subscriptions, and all
// event subscribers. Closing twice is harmless.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeDocLocked()
	s.mu.Unlock()
	s.cancel()
	s.hub.close()
}

func (s *Session) closeDocLocked() {
	if s.doc != nil {
		s.doc.Close()
		s.doc = nil
	}
}

// docMissing is the DocSync callback for a document deleted while open:
// fall back to browsing the folder the client was already in.
func (s *Session) docMissing(id primitive.ObjectID) {
	s.mu.Lock()
	if s.closed || s.doc == nil || s.doc.ID() != id {
		s.mu.Unlock()
		return
	}
	s.closeDocLocked()
	s.mu.Unlock()
	s.logger.Info("open document removed, returning to browse",
		zap.String("room", s.slug),
		zap.String("doc_id", id.Hex()))
	s.publish(EventNav)
}

func (s *Session) publish(t EventType) {
	s.hub.publish(Event{Type: t})
}

func (s *Session) treeLoop(snaps <-chan []models.Item, errs <-chan error) {
	for snaps != nil || errs != nil {
		select {
		case <-s.ctx.Done():
			return
		case items, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			s.tree.replace(items)
			s.setDegraded(false)
			s.publish(EventTree)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.setDegraded(true)
			s.logger.Warn("item subscription error",
				zap.String("room", s.slug),
				zap.Error(err))
			s.publish(EventTree)
		}
	}
}

func (s *Session) galleryLoop(snaps <-chan []models.GalleryImage, errs <-chan error) {
	for snaps != nil || errs != nil {
		select {
		case <-s.ctx.Done():
			return
		case images, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			s.gallery.replace(images)
			s.publish(EventGallery)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("gallery subscription error",
				zap.String("room", s.slug),
				zap.Error(err))
			s.publish(EventGallery)
		}
	}
}

func (s *Session) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
}

func copyID(id *primitive.ObjectID) *primitive.ObjectID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
