package rooms

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/app/system/htmlsanitize"
	"github.com/mossrock/roomdrop/internal/app/system/jsonutil"
	"github.com/mossrock/roomdrop/internal/app/system/metrics"
	"github.com/mossrock/roomdrop/internal/app/system/normalize"
	"github.com/mossrock/roomdrop/internal/app/system/timeouts"
	"github.com/mossrock/roomdrop/internal/room"
)

// uploadFieldName is the multipart form field carrying the image.
const uploadFieldName = "image"

// UploadImage handles POST /api/rooms/{slug}/images (multipart).
//
// The form field "image" carries the raw file. The raw body is capped
// at the configured upload limit; oversized requests fail with 413
// before the pipeline runs. The stored image is recompressed, so the
// limit applies to what clients send, not what rooms keep.
//
// Response (201 Created): {"name": "<stored display name>"}
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				metrics.RecordImageUpload(0, false)
				jsonutil.TooLarge(w, "image exceeds the upload limit")
				return
			}
			jsonutil.BadRequest(w, "malformed upload")
			return
		}

		file, header, err := r.FormFile(uploadFieldName)
		if err != nil {
			jsonutil.BadRequest(w, "missing image field")
			return
		}
		defer file.Close()

		raw, err := io.ReadAll(file)
		if err != nil {
			jsonutil.BadRequest(w, "could not read upload")
			return
		}

		name := htmlsanitize.DisplayName(normalize.Filename(header.Filename))
		if name == "" {
			name = "image"
		}

		// Decode and recompress can take a while on large photos.
		ctx, cancel := context.WithTimeout(r.Context(), timeouts.Batch())
		defer cancel()
		err = sess.Upload(ctx, raw, name)
		metrics.RecordImageUpload(int64(len(raw)), err == nil)
		if err != nil {
			h.logger.Warn("image upload failed",
				zap.String("room", sess.Slug()),
				zap.String("name", name),
				zap.Int("raw_bytes", len(raw)),
				zap.Error(err))
			h.writeEngineError(w, err)
			return
		}
		jsonutil.Created(w, map[string]string{"name": name})
	})
}

// DeleteImage handles DELETE /api/rooms/{slug}/images/{id}. Deleting an
// id that is already gone still succeeds; every mirror settles on the
// next snapshot either way.
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(sess *room.Session) {
		id, err := pathID(r)
		if err != nil {
			jsonutil.BadRequest(w, "image id is not valid")
			return
		}
		ctx, cancel := opContext(r)
		defer cancel()
		if err := sess.DeleteImage(ctx, id); err != nil {
			h.writeEngineError(w, err)
			return
		}
		jsonutil.NoContent(w)
	})
}
