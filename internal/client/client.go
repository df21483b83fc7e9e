// Package client implements the stateless HTTP client against the
// message store service. It holds no local state; every call is a
// fresh request whose failure classification drives the caller's
// retry behavior.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/avoronin/chatdesk/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Client issues cursor-based read and append requests against the
// store service.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a client for the store at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultTimeout},
	}
}

// NewWithHTTPClient creates a client using the given http.Client,
// mainly for tests.
func NewWithHTTPClient(baseURL string, httpc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc}
}

// ListSessions fetches all sessions ordered by last activity descending.
func (c *Client) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	var sessions []domain.ChatSession
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListMessages fetches a session's messages ascending by id. When
// afterID > 0 it is sent as the poll cursor and only newer messages
// are returned.
func (c *Client) ListMessages(ctx context.Context, sessionID string, afterID int64) ([]domain.ChatMessage, error) {
	path := "/api/sessions/" + sessionID + "/messages"
	if afterID > 0 {
		path += "?after=" + strconv.FormatInt(afterID, 10)
	}

	var msgs []domain.ChatMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// AppendRequest carries a new outbound message.
type AppendRequest struct {
	SenderType  domain.SenderType  `json:"sender_type"`
	SenderName  string             `json:"sender_name"`
	ContentType domain.ContentType `json:"content_type"`
	TextContent string             `json:"text_content"`
	Attachment  *domain.Attachment `json:"attachment,omitempty"`
}

// AppendMessage appends a message and returns the persisted record
// with its assigned id. On error the caller must not assume the
// message was or was not persisted.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, req AppendRequest) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/messages", req, &msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &msg, nil
}

// MarkRead marks all messages from the sender in the session as read.
func (c *Client) MarkRead(ctx context.Context, sessionID string, sender domain.SenderType) error {
	body := map[string]domain.SenderType{"sender_type": sender}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/read", body, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SetPresence records the agent's online/offline flag on the store.
func (c *Client) SetPresence(ctx context.Context, online bool) error {
	body := map[string]bool{"online": online}
	if err := c.doJSON(ctx, http.MethodPut, "/api/presence", body, nil); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// Upload stages an image attachment and returns its stable reference.
func (c *Client) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*domain.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("create upload part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("buffer upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/attachments", &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var att domain.Attachment
	if err := c.do(req, &att); err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	return &att, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		// Transport failure: the store may or may not have applied
		// the request.
		return fmt.Errorf("store request failed: %v: %w", err, errdefs.ErrUnavailable)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// statusError maps an HTTP error status back onto the error taxonomy.
func statusError(resp *http.Response) error {
	msg := "store error"
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, errdefs.ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%s: %w", msg, errdefs.ErrInvalidArgument)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, errdefs.ErrConflict)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s (status %d): %w", msg, resp.StatusCode, errdefs.ErrUnavailable)
	default:
		return fmt.Errorf("%s (status %d): %w", msg, resp.StatusCode, errdefs.ErrUnknown)
	}
}
