package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/avoronin/chatdesk/internal/attachment"
)

// UploadAttachment stages an uploaded image and returns its reference.
// The pipeline's allow-list and size ceiling are the authoritative
// checks; any client-side validation is a convenience only.
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	// Cap the multipart body slightly above the ceiling so oversize
	// uploads fail the pipeline check rather than exhausting memory.
	r.Body = http.MaxBytesReader(w, r.Body, h.pipe.MaxBytes()+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close uploaded file", "error", closeErr)
		}
	}()

	att, err := h.pipe.Stage(file, header.Filename, header.Header.Get("Content-Type"), header.Size)
	if err != nil {
		fail(w, err)
		return
	}

	JSON(w, http.StatusCreated, att)
}

// DownloadAttachment streams a staged file back as raw bytes.
func (h *Handler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attachmentID")

	rc, size, err := h.pipe.Open(id)
	if err != nil {
		fail(w, err)
		return
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			slog.Warn("failed to close attachment file", "error", closeErr)
		}
	}()

	w.Header().Set("Content-Type", attachment.ContentTypeFor(id))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("attachment download interrupted", "id", id, "error", err)
	}
}
