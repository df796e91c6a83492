package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ItemType distinguishes the two node kinds in a room tree.
type ItemType string

const (
	ItemTypeFolder   ItemType = "folder"
	ItemTypeDocument ItemType = "document"
)

// ValidItemType returns true if s names a known item type.
func ValidItemType(s string) bool {
	switch ItemType(s) {
	case ItemTypeFolder, ItemTypeDocument:
		return true
	}
	return false
}

// AllItemTypeValues returns all valid item types as strings. Useful for
// validation messages.
func AllItemTypeValues() []string {
	return []string{string(ItemTypeFolder), string(ItemTypeDocument)}
}

// Item is one node of a room's folder/document tree, stored in the
// room-scoped files_<slug> collection.
type Item struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty"`
	Name      string              `bson:"name"`
	NameCI    string              `bson:"name_ci"`             // Case-insensitive for ordering
	Type      ItemType            `bson:"type"`
	ParentID  *primitive.ObjectID `bson:"parent_id,omitempty"` // nil = room root
	Content   *string             `bson:"content,omitempty"`   // documents only; empty doc stores ""
	CreatedAt time.Time           `bson:"created_at"`
	CreatedBy string              `bson:"created_by"` // opaque session id
	UpdatedAt time.Time           `bson:"updated_at,omitempty"`
}

// IsRoot returns true if the item sits directly under the room root.
func (i *Item) IsRoot() bool {
	return i.ParentID == nil
}

// IsFolder returns true for folder items.
func (i *Item) IsFolder() bool {
	return i.Type == ItemTypeFolder
}

// IsDocument returns true for document items.
func (i *Item) IsDocument() bool {
	return i.Type == ItemTypeDocument
}

// Text returns the document content, or "" when no content is stored.
func (i *Item) Text() string {
	if i.Content == nil {
		return ""
	}
	return *i.Content
}
