package rooms

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/app/system/identity"
	"github.com/mossrock/roomdrop/internal/app/system/jsonutil"
	"github.com/mossrock/roomdrop/internal/app/system/metrics"
	"github.com/mossrock/roomdrop/internal/app/system/slug"
	"github.com/mossrock/roomdrop/internal/room"
)

// heartbeatInterval paces SSE comment frames so proxies keep the
// connection alive across quiet stretches.
const heartbeatInterval = 25 * time.Second

// StreamEvents handles GET /api/rooms/{slug}/events, a Server-Sent
// Events stream. The connection opens with a full picture (nav, tree,
// gallery, and the open document if any); after that every engine event
// pushes a freshly derived payload of its kind:
//
//	event: nav      data: {slug, folder_id, folder_name, document_id, status, ...}
//	event: tree     data: {folder_id, folder_name, items: [...]}
//	event: gallery  data: {images: [...], uploading}
//	event: doc      data: {document_id, content, status, dirty}
//
// Payloads are always the complete current view, never a diff, so a
// client applies each frame by replacement and a dropped frame is
// healed by the next one.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonutil.InternalError(w, "streaming not supported")
		return
	}
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

	// The server's write timeout would cut a long-lived stream off, so
	// it is lifted for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("clear write deadline", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.AddSSEClient()
	defer metrics.RemoveSSEClient()

	events := sess.Subscribe()
	defer sess.Unsubscribe(events)

	h.logger.Debug("stream opened",
		zap.String("room", roomSlug),
		zap.String("session_id", sid))

	// Opening frames: the complete current picture, so the client needs
	// no separate bootstrap requests.
	writeEvent(w, room.EventNav, newStateView(sess))
	writeEvent(w, room.EventTree, currentTreeView(sess))
	writeEvent(w, room.EventGallery, newGalleryView(sess))
	if sess.Doc() != nil {
		writeEvent(w, room.EventDoc, newDocView(sess))
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("stream client disconnected",
				zap.String("room", roomSlug),
				zap.String("session_id", sid))
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				// Session closed underneath the stream (leave or sweep).
				return
			}
			h.writeEngineEvent(w, sess, ev)
			flusher.Flush()
		}
	}
}

// writeEngineEvent derives the payload for one engine event and writes
// the SSE frame. Nav changes imply a different folder listing, so a nav
// frame is followed by a tree frame.
func (h *Handler) writeEngineEvent(w io.Writer, sess *room.Session, ev room.Event) {
	switch ev.Type {
	case room.EventNav:
		writeEvent(w, room.EventNav, newStateView(sess))
		writeEvent(w, room.EventTree, currentTreeView(sess))
	case room.EventTree:
		writeEvent(w, room.EventTree, currentTreeView(sess))
	case room.EventGallery:
		writeEvent(w, room.EventGallery, newGalleryView(sess))
	case room.EventDoc:
		writeEvent(w, room.EventDoc, newDocView(sess))
	}
}

// writeEvent writes one SSE frame. Marshal failures drop the frame; the
// next event of the same kind re-derives the full view anyway.
func writeEvent(w io.Writer, t room.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", t, data)
}
