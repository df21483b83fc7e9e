// Package api provides HTTP handlers for the chatdesk store service.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/avoronin/chatdesk/internal/attachment"
	"github.com/avoronin/chatdesk/internal/push"
	"github.com/avoronin/chatdesk/internal/store"
)

// Handler serves the session, message, presence, and attachment
// endpoints backed by the repository.
type Handler struct {
	repo store.Repository
	pipe *attachment.Pipeline
	hub  *push.Hub
}

// NewHandler creates a new Handler with common dependencies. The hub is
// optional; without it no activity events are published.
func NewHandler(repo store.Repository, pipe *attachment.Pipeline, hub *push.Hub) *Handler {
	return &Handler{repo: repo, pipe: pipe, hub: hub}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/messages", h.ListMessages)
			r.Post("/messages", h.AppendMessage)
			r.Post("/read", h.MarkRead)
			r.Post("/close", h.CloseSession)
			r.Post("/archive", h.ArchiveSession)
		})
		r.Get("/presence", h.GetPresence)
		r.Put("/presence", h.SetPresence)
		r.Post("/attachments", h.UploadAttachment)
		r.Get("/attachments/{attachmentID}", h.DownloadAttachment)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// fail maps a repository or pipeline error to an HTTP status.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errdefs.IsNotFound(err):
		Error(w, http.StatusNotFound, err.Error())
	case errdefs.IsInvalidArgument(err):
		Error(w, http.StatusBadRequest, err.Error())
	case errdefs.IsConflict(err):
		Error(w, http.StatusConflict, err.Error())
	case errdefs.IsUnavailable(err):
		Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}
