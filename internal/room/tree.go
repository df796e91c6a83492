package room

import (
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mossrock/roomdrop/internal/domain/models"
)

// Folder names shown for the two ids a client can hold that no stored
// item answers to: the root (nil) and a folder that has since vanished.
const (
	NameRoot     = "Root"
	NameNotFound = "Not found"
)

// Tree is the in-memory mirror of a room's items, replaced wholesale on
// every snapshot. All views derive from it; nothing is patched in place.
type Tree struct {
	mu     sync.RWMutex
	items  map[primitive.ObjectID]models.Item
	loaded bool
}

func newTree() *Tree {
	return &Tree{items: make(map[primitive.ObjectID]models.Item)}
}

// replace swaps in an authoritative snapshot.
func (t *Tree) replace(items []models.Item) {
	next := make(map[primitive.ObjectID]models.Item, len(items))
	for _, it := range items {
		next[it.ID] = it
	}
	t.mu.Lock()
	t.items = next
	t.loaded = true
	t.mu.Unlock()
}

// Loaded reports whether at least one snapshot has arrived.
func (t *Tree) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

// Get returns the item with the given id, if present.
func (t *Tree) Get(id primitive.ObjectID) (models.Item, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	it, ok := t.items[id]
	return it, ok
}

// Children lists the direct children of a folder (nil for the root),
// folders before documents, each group ordered by folded name with the
// raw name and then the id breaking ties. The ordering is total, so
// every client renders the same listing.
func (t *Tree) Children(parentID *primitive.ObjectID) []models.Item {
	t.mu.RLock()
	out := make([]models.Item, 0, 8)
	for _, it := range t.items {
		if sameParent(it.ParentID, parentID) {
			out = append(out, it)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Type != b.Type {
			return a.Type == models.ItemTypeFolder
		}
		if a.NameCI != b.NameCI {
			return a.NameCI < b.NameCI
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.Hex() < b.ID.Hex()
	})
	return out
}

// FolderName resolves the display name for a folder id a client is
// standing in. A nil id is the room root; an id that no longer resolves
// to a folder gets the stale sentinel rather than an error, so
// navigation state survives concurrent deletes.
func (t *Tree) FolderName(folderID *primitive.ObjectID) string {
	if folderID == nil {
		return NameRoot
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	it, ok := t.items[*folderID]
	if !ok || !it.IsFolder() {
		return NameNotFound
	}
	return it.Name
}

// Len reports the number of mirrored items.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

func sameParent(a, b *primitive.ObjectID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
