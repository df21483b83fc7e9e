// Package domain contains core domain types for the chatdesk application.
package domain

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusClosed   SessionStatus = "closed"
	StatusArchived SessionStatus = "archived"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status may move to next.
// Allowed transitions: active -> closed, closed -> archived.
// Archived is terminal.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusActive:
		return next == StatusClosed
	case StatusClosed:
		return next == StatusArchived
	}
	return false
}

// SenderType identifies which side of the conversation sent a message.
type SenderType string

const (
	SenderClient SenderType = "client"
	SenderAgent  SenderType = "agent"
)

// Valid reports whether the sender type is known.
func (t SenderType) Valid() bool {
	return t == SenderClient || t == SenderAgent
}

// ContentType is the kind of payload a message carries.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentImage  ContentType = "image"
	ContentSystem ContentType = "system"
)

// Valid reports whether the content type is known.
func (t ContentType) Valid() bool {
	switch t {
	case ContentText, ContentImage, ContentSystem:
		return true
	}
	return false
}

// ChatSession represents one customer-to-agent conversation thread.
type ChatSession struct {
	SessionID    string        `json:"session_id"`
	ClientName   string        `json:"client_name,omitempty"`
	ClientEmail  string        `json:"client_email,omitempty"`
	ClientPhone  string        `json:"client_phone,omitempty"`
	Status       SessionStatus `json:"status"`
	LastActivity time.Time     `json:"last_activity"`
	MessageCount int           `json:"message_count"`
	UnreadCount  int           `json:"unread_count"`
}

// IsActive returns true if the session can still receive messages.
func (s *ChatSession) IsActive() bool {
	return s.Status == StatusActive
}

// Attachment is a staged image file referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ChatMessage is a single immutable entry in a session's message log.
// MessageID is assigned by the store and is strictly increasing within
// a session; gaps are tolerated.
type ChatMessage struct {
	MessageID   int64       `json:"message_id"`
	SessionID   string      `json:"session_id"`
	SenderType  SenderType  `json:"sender_type"`
	SenderName  string      `json:"sender_name"`
	ContentType ContentType `json:"content_type"`
	TextContent string      `json:"text_content,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	IsRead      bool        `json:"is_read"`
	SentAt      time.Time   `json:"sent_at"`
}

// Validate checks the message invariants before it is appended.
func (m *ChatMessage) Validate() error {
	if m.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if !m.SenderType.Valid() {
		return fmt.Errorf("invalid sender_type %q", m.SenderType)
	}
	if !m.ContentType.Valid() {
		return fmt.Errorf("invalid content_type %q", m.ContentType)
	}
	if m.ContentType == ContentImage && m.Attachment == nil {
		return fmt.Errorf("image message requires an attachment")
	}
	if m.ContentType != ContentImage && m.Attachment != nil {
		return fmt.Errorf("attachment only allowed on image messages")
	}
	if m.ContentType == ContentText && m.TextContent == "" {
		return fmt.Errorf("text message requires text_content")
	}
	return nil
}
