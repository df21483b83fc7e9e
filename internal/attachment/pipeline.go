// Package attachment stages and validates image files before a message
// referencing them is appended.
package attachment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/avoronin/chatdesk/internal/domain"
)

// allowedTypes is the fixed MIME allow-list for uploads.
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ErrUnsupportedType is returned for a MIME type outside the allow-list.
var ErrUnsupportedType = fmt.Errorf("unsupported attachment type: %w", errdefs.ErrInvalidArgument)

// ErrTooLarge is returned for a file above the size ceiling.
var ErrTooLarge = fmt.Errorf("attachment too large: %w", errdefs.ErrInvalidArgument)

// Pipeline validates uploads and stages them under a local directory.
// Staged files are retrievable by id until removed externally; no
// automatic expiry.
type Pipeline struct {
	dir      string
	maxBytes int64
}

// NewPipeline creates a pipeline staging files under dir with the given
// size ceiling.
func NewPipeline(dir string, maxBytes int64) (*Pipeline, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Pipeline{dir: dir, maxBytes: maxBytes}, nil
}

// MaxBytes returns the size ceiling.
func (p *Pipeline) MaxBytes() int64 {
	return p.maxBytes
}

// Stage validates and stores an upload, returning a stable reference
// usable as a message attachment. The declared size is checked first as
// a fast fail; the actual byte count is enforced while copying, so an
// understated declaration still trips the ceiling.
func (p *Pipeline) Stage(r io.Reader, name, declaredType string, declaredSize int64) (*domain.Attachment, error) {
	ext, ok := allowedTypes[normalizeMIME(declaredType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, declaredType)
	}
	if declaredSize > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, declaredSize, p.maxBytes)
	}

	id := uuid.NewString() + ext
	path := filepath.Join(p.dir, id)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	// Read one byte past the ceiling to detect oversize streams.
	written, err := io.Copy(f, io.LimitReader(r, p.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	if written > p.maxBytes {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, p.maxBytes)
	}

	return &domain.Attachment{
		URL:  "/api/attachments/" + id,
		Name: name,
		Size: written,
	}, nil
}

// Open returns the staged file for download along with its size.
// Unknown ids return a not-found error.
func (p *Pipeline) Open(id string) (io.ReadCloser, int64, error) {
	// Reject path traversal in the id.
	if id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, 0, fmt.Errorf("invalid attachment id %q: %w", id, errdefs.ErrInvalidArgument)
	}

	path := filepath.Join(p.dir, id)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, fmt.Errorf("attachment %s: %w", id, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open staged file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat staged file: %w", err)
	}

	return f, info.Size(), nil
}

// ContentTypeFor maps a staged file id back to its MIME type by
// extension.
func ContentTypeFor(id string) string {
	ext := strings.ToLower(filepath.Ext(id))
	for mime, e := range allowedTypes {
		if e == ext {
			return mime
		}
	}
	return "application/octet-stream"
}

// normalizeMIME strips parameters and whitespace from a declared
// Content-Type value.
func normalizeMIME(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}
