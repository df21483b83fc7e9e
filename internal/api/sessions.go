package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/avoronin/chatdesk/internal/domain"
	"github.com/avoronin/chatdesk/internal/push"
)

// ListSessions returns all sessions, most recently active first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.ChatSession{}
	}
	JSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone"`
}

// CreateSession opens a new conversation on first client contact.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.ClientName == "" {
		Error(w, http.StatusBadRequest, "client_name is required")
		return
	}

	sess, err := h.repo.CreateSession(r.Context(), req.ClientName, req.ClientEmail, req.ClientPhone)
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

// ListMessages returns a session's messages ascending by id. The
// optional "after" query parameter is the caller's poll cursor.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var afterID int64
	if after := r.URL.Query().Get("after"); after != "" {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		afterID = parsed
	}

	if _, err := h.repo.GetSession(r.Context(), sessionID); err != nil {
		fail(w, err)
		return
	}

	msgs, err := h.repo.ListMessages(r.Context(), sessionID, afterID)
	if err != nil {
		fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	JSON(w, http.StatusOK, msgs)
}

type appendMessageRequest struct {
	SenderType  domain.SenderType  `json:"sender_type"`
	SenderName  string             `json:"sender_name"`
	ContentType domain.ContentType `json:"content_type"`
	TextContent string             `json:"text_content"`
	Attachment  *domain.Attachment `json:"attachment,omitempty"`
}

// AppendMessage appends a message to the session log and returns the
// persisted record with its assigned id.
func (h *Handler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	msg, err := h.repo.AppendMessage(r.Context(), &domain.ChatMessage{
		SessionID:   sessionID,
		SenderType:  req.SenderType,
		SenderName:  req.SenderName,
		ContentType: req.ContentType,
		TextContent: req.TextContent,
		Attachment:  req.Attachment,
	})
	if err != nil {
		fail(w, err)
		return
	}

	h.publishActivity(r, msg)

	JSON(w, http.StatusCreated, msg)
}

// publishActivity notifies stream subscribers about a new message.
// Best effort; never affects the append response.
func (h *Handler) publishActivity(r *http.Request, msg *domain.ChatMessage) {
	if h.hub == nil {
		return
	}

	ev := push.Event{
		Type:       "session_activity",
		SessionID:  msg.SessionID,
		SenderType: string(msg.SenderType),
	}
	if sess, err := h.repo.GetSession(r.Context(), msg.SessionID); err == nil {
		ev.MessageCount = sess.MessageCount
		ev.UnreadCount = sess.UnreadCount
	}
	h.hub.Publish(ev)
}

type markReadRequest struct {
	SenderType domain.SenderType `json:"sender_type"`
}

// MarkRead marks all messages from the given sender as read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := h.repo.MarkRead(r.Context(), sessionID, req.SenderType); err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CloseSession ends an active conversation.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.CloseSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// ArchiveSession archives a closed conversation.
func (h *Handler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.ArchiveSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// GetPresence reports the agent's last confirmed presence state.
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetPresence(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

type setPresenceRequest struct {
	Online bool `json:"online"`
}

// SetPresence toggles the agent's online/offline flag.
func (h *Handler) SetPresence(w http.ResponseWriter, r *http.Request) {
	var req setPresenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := h.repo.SetPresence(r.Context(), req.Online); err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"online": req.Online})
}
