package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GalleryImage is one photo in a room's gallery, stored in the
// room-scoped images_<slug> collection. URL carries the full encoded
// image as a data: URL, so every record is self-contained.
type GalleryImage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	URL        string             `bson:"url"`
	Name       string             `bson:"name"` // original filename, informational
	UploadedBy string             `bson:"uploaded_by"`
	CreatedAt  time.Time          `bson:"created_at"`
}
