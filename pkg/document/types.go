// ABOUTME: Document model and the narrow PDF-parsing capability the engine consumes
// ABOUTME: Parsing primitives live behind Source so sessions can run against fakes

package document

import (
	"context"
	"errors"
	"fmt"
	"image/draw"

	"github.com/nainya/docsession/pkg/playback"
)

var (
	// ErrMalformed is returned by a Painter for content it cannot interpret
	ErrMalformed = errors.New("document: malformed content")

	// ErrUnsupportedContent is returned by a Painter for features outside its coverage
	ErrUnsupportedContent = errors.New("document: unsupported content")

	// ErrEmptyDocument is returned for documents without pages
	ErrEmptyDocument = errors.New("document: no pages")
)

// ParseError wraps failures of the PDF-parsing collaborator
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("document: parse failed: %v", e.Err)
	}
	return fmt.Sprintf("document: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Handle is the collaborator's opaque parsed-document value
type Handle interface{}

// PageSize is the intrinsic page size in PDF points
type PageSize struct {
	Width  float64
	Height float64
}

// Source is the PDF-parsing capability: tokenizer, object graph and stream
// decompression stay on the other side of this interface.
type Source interface {
	// Open parses document bytes. password is used for basic decryption and may be empty.
	Open(ctx context.Context, data []byte, password string) (Handle, error)
	// PageCount returns the number of pages of an opened document
	PageCount(h Handle) int
	// PageSize returns the intrinsic size of page index (0-based)
	PageSize(h Handle, index int) (PageSize, error)
}

// Painter is implemented by sources that can paint page content. dst is already
// sized to the page at scale and filled with the page background.
type Painter interface {
	PaintPage(ctx context.Context, h Handle, index int, dst draw.Image, scale float64) error
}

// Chapter is one outline entry. Outlines are flattened in reading order.
type Chapter struct {
	Title string
	Page  int // 0-based
	Level int // 0 for top-level entries
}

// Outliner is implemented by sources that expose the document outline
type Outliner interface {
	Outline(h Handle) ([]Chapter, error)
}

// Titler is implemented by sources that know the document title
type Titler interface {
	Title(h Handle) string
}

// Ref identifies a document to open: a path, or in-memory bytes
type Ref struct {
	Path     string
	Data     []byte
	Password string

	// Timing overrides the timing sidecar lookup when non-nil
	Timing *playback.TimingMap
}

// Document is an opened, immutable document
type Document struct {
	ID        string // content fingerprint
	Path      string
	Size      int64
	PageCount int
	PageSizes []PageSize
	Timing    *playback.TimingMap
	Handle    Handle

	// Title is the metadata title, else the file name without extension
	Title string
	// Outline lists the chapters whose target page exists
	Outline []Chapter

	// TimingErr records why a timing sidecar was ignored, if it was
	TimingErr error
	// OutlineErr records why the outline is missing, if it is
	OutlineErr error
}

// ValidPage reports whether index addresses a page of the document
func (d *Document) ValidPage(index int) bool {
	return index >= 0 && index < d.PageCount
}
