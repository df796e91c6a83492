package rooms

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/app/system/htmlsanitize"
	"github.com/mossrock/roomdrop/internal/app/system/identity"
	"github.com/mossrock/roomdrop/internal/app/system/inputval"
	"github.com/mossrock/roomdrop/internal/app/system/jsonutil"
	"github.com/mossrock/roomdrop/internal/app/system/normalize"
	"github.com/mossrock/roomdrop/internal/app/system/slug"
	"github.com/mossrock/roomdrop/internal/app/system/timeouts"
	"github.com/mossrock/roomdrop/internal/domain/models"
	"github.com/mossrock/roomdrop/internal/room"
)

// defaultImagePageSize is the gallery page size when the client sends
// none.
const defaultImagePageSize = 20

// Handler handles room API requests.
type Handler struct {
	registry       *Registry
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewHandler creates a new rooms handler. maxUploadBytes caps the raw
// multipart body of image uploads; zero or negative means the default
// 10 MiB.
func NewHandler(registry *Registry, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		registry:       registry,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// withSession resolves the caller's engine session for the addressed
// room and runs fn with it. The registry reference is held for exactly
// the request's duration.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(sess *room.Session)) {
	sid, ok := identity.FromRequest(r)
	if !ok {
		jsonutil.Error(w, http.StatusUnauthorized, "no session")
		return
	}
	roomSlug := slug.Sanitize(chi.URLParam(r, "slug"))
	if !slug.Valid(roomSlug) {
		jsonutil.BadRequest(w, "room address is invalid")
		return
	}

	sess, err := h.registry.Acquire(r.Context(), sid, roomSlug)
	if err != nil {
		h.logger.Error("room open failed",
			zap.String("room", roomSlug),
			zap.Error(err))
		jsonutil.InternalError(w, "could not open room")
		return
	}
	defer h.registry.Release(sid, roomSlug)

	fn(sess)
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrFolderNotEmpty):
		jsonutil.Conflict(w, "folder is not empty")
	case errors.Is(err, room.ErrNotFound):
		jsonutil.NotFound(w, "not found")
	case errors.Is(err, room.ErrNameEmpty),
		errors.Is(err, room.ErrInvalidType),
		errors.Is(err, room.ErrCycle),
		errors.Is(err, room.ErrPipeline):
		jsonutil.BadRequest(w, err.Error())
	case errors.Is(err, room.ErrNoOpenDocument),
		errors.Is(err, room.ErrClosed):
		jsonutil.Conflict(w, err.Error())
	default:
		h.logger.Error("room operation failed", zap.Error(err))
		jsonutil.InternalError(w, "operation failed")
	}
}

// opContext bounds one single-record engine operation.
func opContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeouts.Short())
}

// parseOptionalID turns an id string into a parent pointer: empty means
// the room root.
func parseOptionalID(s string) (*primitive.ObjectID, error) {
	s = normalize.QueryParam(s)
	if s == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// pathID parses the {id} route parameter.
func pathID(r *http.Request) (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
}

// GetState handles GET /api/rooms/{slug}/state.
//
// Response (200 OK):
//
//	{
//	    "slug": "kitchen-reno",
//	    "folder_name": "Root",
//	    "status": "synced",
//	    "uploading": false,
//	    "loaded": true
//	}
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		jsonutil.OK(w, newStateView(sess))
	})
}

// GetTree handles GET /api/rooms/{slug}/tree?folder=<id>.
// An absent folder parameter lists the room root. The listing is
// ordered: folders first, then case-insensitive name order.
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		folderID, err := parseOptionalID(r.URL.Query().Get("folder"))
		if err != nil {
			jsonutil.BadRequest(w, "folder is not a valid ID")
			return
		}
		jsonutil.OK(w, newTreeView(sess, folderID))
	})
}

// createItemInput is the JSON body for item creation.
type createItemInput struct {
	Type     string `json:"type" validate:"required,itemtype" label:"Type"`
	Name     string `json:"name" validate:"required,max=300" label:"Name"`
	ParentID string `json:"parent_id"`
}

// CreateItem handles POST /api/rooms/{slug}/items.
//
// Request body:
//
//	{"type": "document", "name": "Shopping list", "parent_id": ""}
//
// Response (201 Created): {"id": "..."}. A created document is opened
// for editing immediately.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		var in createItemInput
		if err := jsonutil.Decode(r, &in); err != nil {
			jsonutil.BadRequest(w, "invalid JSON payload")
			return
		}
		if result := inputval.Validate(&in); result.HasErrors() {
			jsonutil.BadRequest(w, result.First())
			return
		}
		name := htmlsanitize.DisplayName(in.Name)
		if name == "" {
			jsonutil.BadRequest(w, "Name is required.")
			return
		}
		parentID, err := parseOptionalID(in.ParentID)
		if err != nil {
			jsonutil.BadRequest(w, "Parent is not a valid ID.")
			return
		}
		typ := models.ItemType(normalize.ItemType(in.Type))

		ctx, cancel := opContext(r)
		defer cancel()
		id, err := sess.CreateItem(ctx, parentID, typ, name)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		if typ == models.ItemTypeDocument {
			// A freshly created document goes straight on screen.
			if err := sess.OpenDocument(id); err != nil {
				h.logger.Warn("open created document failed",
					zap.String("doc_id", id.Hex()),
					zap.Error(err))
			}
		}
		jsonutil.Created(w, map[string]string{"id": id.Hex()})
	})
}

// updateItemInput is the JSON body for rename and move. Absent fields
// are left untouched; parent_id "" means the room root.
type updateItemInput struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parent_id"`
}

// UpdateItem handles PATCH /api/rooms/{slug}/items/{id}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		id, err := pathID(r)
		if err != nil {
			jsonutil.BadRequest(w, "item id is not valid")
			return
		}
		var in updateItemInput
		if err := jsonutil.Decode(r, &in); err != nil {
			jsonutil.BadRequest(w, "invalid JSON payload")
			return
		}
		if in.Name == nil && in.ParentID == nil {
			jsonutil.BadRequest(w, "nothing to update")
			return
		}

		ctx, cancel := opContext(r)
		defer cancel()
		if in.Name != nil {
			if err := sess.Rename(ctx, id, htmlsanitize.DisplayName(*in.Name)); err != nil {
				h.writeEngineError(w, err)
				return
			}
		}
		if in.ParentID != nil {
			parentID, err := parseOptionalID(*in.ParentID)
			if err != nil {
				jsonutil.BadRequest(w, "Parent is not a valid ID.")
				return
			}
			if err := sess.Move(ctx, id, parentID); err != nil {
				h.writeEngineError(w, err)
				return
			}
		}
		jsonutil.NoContent(w)
	})
}

// DeleteItem handles DELETE /api/rooms/{slug}/items/{id}. Deleting a
// folder that still has children fails with 409.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		id, err := pathID(r)
		if err != nil {
			jsonutil.BadRequest(w, "item id is not valid")
			return
		}
		ctx, cancel := opContext(r)
		defer cancel()
		if err := sess.Delete(ctx, id); err != nil {
			h.writeEngineError(w, err)
			return
		}
		jsonutil.NoContent(w)
	})
}

// navigateInput is the JSON body for folder navigation.
type navigateInput struct {
	FolderID string `json:"folder_id"`
}

// Navigate handles POST /api/rooms/{slug}/navigate. An empty folder_id
// returns to the room root. Navigating closes any open document.
func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		var in navigateInput
		if err := jsonutil.Decode(r, &in); err != nil {
			jsonutil.BadRequest(w, "invalid JSON payload")
			return
		}
		folderID, err := parseOptionalID(in.FolderID)
		if err != nil {
			jsonutil.BadRequest(w, "folder_id is not a valid ID")
			return
		}
		sess.Navigate(folderID)
		jsonutil.OK(w, newStateView(sess))
	})
}

// GoUp handles POST /api/rooms/{slug}/up: out of a document back to its
// folder, out of a folder to its parent, no-op at the root.
func (h *Handler) GoUp(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		sess.GoUp()
		jsonutil.OK(w, newStateView(sess))
	})
}

// openDocumentInput is the JSON body for opening a document.
type openDocumentInput struct {
	DocumentID string `json:"document_id" validate:"required,objectid" label:"Document"`
}

// OpenDocument handles POST /api/rooms/{slug}/open.
func (h *Handler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		var in openDocumentInput
		if err := jsonutil.Decode(r, &in); err != nil {
			jsonutil.BadRequest(w, "invalid JSON payload")
			return
		}
		if result := inputval.Validate(&in); result.HasErrors() {
			jsonutil.BadRequest(w, result.First())
			return
		}
		id, _ := primitive.ObjectIDFromHex(normalize.QueryParam(in.DocumentID))
		if err := sess.OpenDocument(id); err != nil {
			h.writeEngineError(w, err)
			return
		}
		jsonutil.OK(w, newStateView(sess))
	})
}

// LeaveRoom handles POST /api/rooms/{slug}/close: the client's session
// for this room is torn down and any attached stream ends. An edit
// still inside its debounce window is abandoned, the same as switching
// documents. Leaving a room that is not open is a no-op.
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	sid, ok := identity.FromRequest(r)
	if !ok {
		jsonutil.Error(w, http.StatusUnauthorized, "no session")
		return
	}
	roomSlug := slug.Sanitize(chi.URLParam(r, "slug"))
	if !slug.Valid(roomSlug) {
		jsonutil.BadRequest(w, "room address is invalid")
		return
	}
	h.registry.CloseSession(sid, roomSlug)
	jsonutil.NoContent(w)
}

// putContentInput is the JSON body for document edits.
type putContentInput struct {
	Content string `json:"content"`
}

// PutContent handles PUT /api/rooms/{slug}/documents/{id}/content.
// The edit lands in the debounced write path, so the response is 202:
// accepted, stored after the quiet period. If the document is not the
// open one it is opened first.
func (h *Handler) PutContent(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		id, err := pathID(r)
		if err != nil {
			jsonutil.BadRequest(w, "document id is not valid")
			return
		}
		var in putContentInput
		if err := jsonutil.Decode(r, &in); err != nil {
			jsonutil.BadRequest(w, "invalid JSON payload")
			return
		}
		if err := sess.OpenDocument(id); err != nil {
			h.writeEngineError(w, err)
			return
		}
		if err := sess.SetContent(in.Content); err != nil {
			h.writeEngineError(w, err)
			return
		}
		jsonutil.JSON(w, http.StatusAccepted, newDocView(sess))
	})
}

// ListImages handles GET /api/rooms/{slug}/images?page=&limit=.
// Images come newest first; page numbering starts at 1.
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", defaultImagePageSize)
		jsonutil.OK(w, newImagePageView(sess, limit, page))
	})
}

// queryInt parses an integer query parameter, falling back to def for
// absent or unusable values.
func queryInt(r *http.Request, name string, def int) int {
	s := normalize.QueryParam(r.URL.Query().Get(name))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
