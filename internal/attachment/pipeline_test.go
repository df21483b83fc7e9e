package attachment

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
)

const testLimit = 64

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()

	p, err := NewPipeline(t.TempDir(), testLimit)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	return p
}

func TestStageAcceptsExactLimit(t *testing.T) {
	p := newTestPipeline(t)
	data := bytes.Repeat([]byte{0xAB}, testLimit)

	att, err := p.Stage(bytes.NewReader(data), "photo.png", "image/png", int64(len(data)))
	if err != nil {
		t.Fatalf("Expected file of exactly the limit to be accepted, got %v", err)
	}
	if att.Size != testLimit {
		t.Errorf("Expected size %d, got %d", testLimit, att.Size)
	}
	if att.Name != "photo.png" {
		t.Errorf("Expected original name preserved, got %q", att.Name)
	}
	if !strings.HasPrefix(att.URL, "/api/attachments/") {
		t.Errorf("Expected retrievable URL, got %q", att.URL)
	}
}

func TestStageRejectsOneByteOver(t *testing.T) {
	p := newTestPipeline(t)
	data := bytes.Repeat([]byte{0xAB}, testLimit+1)

	_, err := p.Stage(bytes.NewReader(data), "big.png", "image/png", int64(len(data)))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}

func TestStageRejectsUnderdeclaredOversizeStream(t *testing.T) {
	p := newTestPipeline(t)
	data := bytes.Repeat([]byte{0xAB}, testLimit+10)

	// Declared size lies; the actual stream is over the ceiling.
	_, err := p.Stage(bytes.NewReader(data), "liar.png", "image/png", 10)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge for understated size, got %v", err)
	}
}

func TestStageRejectsUnsupportedType(t *testing.T) {
	p := newTestPipeline(t)

	// Rejected regardless of size, even a tiny file.
	_, err := p.Stage(strings.NewReader("x"), "a.pdf", "application/pdf", 1)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}
	if !errdefs.IsInvalidArgument(err) {
		t.Errorf("Expected validation errors to classify as invalid argument, got %v", err)
	}
}

func TestStageNormalizesDeclaredType(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.Stage(strings.NewReader("x"), "a.jpg", "Image/JPEG; charset=binary", 1)
	if err != nil {
		t.Errorf("Expected parameterized MIME type to be accepted, got %v", err)
	}
}

func TestStagedFileRetrievable(t *testing.T) {
	p := newTestPipeline(t)
	data := []byte("fake image bytes")

	att, err := p.Stage(bytes.NewReader(data), "pic.webp", "image/webp", int64(len(data)))
	if err != nil {
		t.Fatalf("Failed to stage: %v", err)
	}

	id := strings.TrimPrefix(att.URL, "/api/attachments/")
	rc, size, err := p.Open(id)
	if err != nil {
		t.Fatalf("Failed to open staged file: %v", err)
	}
	defer rc.Close()

	if size != int64(len(data)) {
		t.Errorf("Expected size %d, got %d", len(data), size)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Failed to read staged file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Staged bytes differ from upload")
	}
	if ct := ContentTypeFor(id); ct != "image/webp" {
		t.Errorf("Expected content type image/webp, got %q", ct)
	}
}

func TestOpenUnknownID(t *testing.T) {
	p := newTestPipeline(t)

	_, _, err := p.Open("does-not-exist.png")
	if !errdefs.IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	p := newTestPipeline(t)

	_, _, err := p.Open("../secrets.txt")
	if !errdefs.IsInvalidArgument(err) {
		t.Errorf("Expected invalid-argument error, got %v", err)
	}
}
