package rooms

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mossrock/roomdrop/internal/app/store/storeutil"
	"github.com/mossrock/roomdrop/internal/domain/models"
	"github.com/mossrock/roomdrop/internal/room"
)

// stateView is the navigation and sync snapshot returned by GET /state
// and pushed on every nav event.
type stateView struct {
	Slug       string          `json:"slug"`
	FolderID   string          `json:"folder_id,omitempty"`
	FolderName string          `json:"folder_name"`
	DocumentID string          `json:"document_id,omitempty"`
	Content    *string         `json:"content,omitempty"`
	Status     room.SyncStatus `json:"status"`
	Uploading  bool            `json:"uploading"`
	Loaded     bool            `json:"loaded"`
}

// itemView is one tree node as the API renders it.
type itemView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// treeView is one folder listing: the resolved folder plus its ordered
// children.
type treeView struct {
	FolderID   string     `json:"folder_id,omitempty"`
	FolderName string     `json:"folder_name"`
	Items      []itemView `json:"items"`
}

// docView is the open document's content and sync status, pushed on
// every doc event.
type docView struct {
	DocumentID string          `json:"document_id,omitempty"`
	Content    string          `json:"content"`
	Status     room.SyncStatus `json:"status"`
	Dirty      bool            `json:"dirty"`
}

// imageView is one gallery image as the API renders it.
type imageView struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// galleryView is the gallery payload for the stream: the full set plus
// the upload indicator.
type galleryView struct {
	Images    []imageView `json:"images"`
	Uploading bool        `json:"uploading"`
}

// imagePageView is the paged one-shot gallery listing for GET /images.
type imagePageView struct {
	Images []imageView `json:"images"`
	Page   int         `json:"page"`
	Limit  int         `json:"limit"`
	Total  int         `json:"total"`
}

func newStateView(sess *room.Session) stateView {
	st := sess.State()
	v := stateView{
		Slug:       st.Slug,
		FolderName: st.FolderName,
		Status:     st.Status,
		Uploading:  st.Uploading,
		Loaded:     sess.Tree().Loaded(),
	}
	if st.FolderID != nil {
		v.FolderID = st.FolderID.Hex()
	}
	if st.DocumentID != nil {
		v.DocumentID = st.DocumentID.Hex()
		if d := sess.Doc(); d != nil {
			content := d.Content()
			v.Content = &content
		}
	}
	return v
}

func newItemView(it models.Item) itemView {
	v := itemView{
		ID:        it.ID.Hex(),
		Name:      it.Name,
		Type:      string(it.Type),
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
	if it.ParentID != nil {
		v.ParentID = it.ParentID.Hex()
	}
	return v
}

func newTreeView(sess *room.Session, folderID *primitive.ObjectID) treeView {
	children := sess.Tree().Children(folderID)
	v := treeView{
		FolderName: sess.Tree().FolderName(folderID),
		Items:      make([]itemView, 0, len(children)),
	}
	if folderID != nil {
		v.FolderID = folderID.Hex()
	}
	for _, it := range children {
		v.Items = append(v.Items, newItemView(it))
	}
	return v
}

// currentTreeView lists the folder the session is browsing right now.
func currentTreeView(sess *room.Session) treeView {
	st := sess.State()
	return newTreeView(sess, st.FolderID)
}

func newDocView(sess *room.Session) docView {
	d := sess.Doc()
	if d == nil {
		// Nothing open; status falls back to the session's.
		return docView{Status: sess.State().Status}
	}
	return docView{
		DocumentID: d.ID().Hex(),
		Content:    d.Content(),
		Status:     d.Status(),
		Dirty:      d.Dirty(),
	}
}

func newImageView(img models.GalleryImage) imageView {
	return imageView{
		ID:         img.ID.Hex(),
		URL:        img.URL,
		Name:       img.Name,
		UploadedBy: img.UploadedBy,
		CreatedAt:  img.CreatedAt,
	}
}

func newGalleryView(sess *room.Session) galleryView {
	images := sess.Gallery().Images()
	v := galleryView{
		Images:    make([]imageView, 0, len(images)),
		Uploading: sess.Gallery().Uploading(),
	}
	for _, img := range images {
		v.Images = append(v.Images, newImageView(img))
	}
	return v
}

func newImagePageView(sess *room.Session, limit, page int) imagePageView {
	images := sess.Gallery().Images()
	lo, hi := storeutil.Page(len(images), limit, page)
	v := imagePageView{
		Images: make([]imageView, 0, hi-lo),
		Page:   page,
		Limit:  limit,
		Total:  len(images),
	}
	for _, img := range images[lo:hi] {
		v.Images = append(v.Images, newImageView(img))
	}
	return v
}
