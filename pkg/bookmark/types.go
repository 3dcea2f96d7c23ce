// ABOUTME: Bookmark records and their identity rules
// ABOUTME: Every document has exactly one last-read bookmark with a derived id

package bookmark

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Kind distinguishes user bookmarks from the reading position
type Kind int

const (
	User Kind = iota + 1
	LastRead
)

func (k Kind) String() string {
	switch k {
	case User:
		return "user"
	case LastRead:
		return "last_read"
	default:
		return "unknown"
	}
}

const lastReadSuffix = "last-read"

// MaxLabelLength bounds labels in bytes after normalization
const MaxLabelLength = 512

// Bookmark is a position in a document. Version and UpdatedAt are assigned by
// the store on commit. The label of a LastRead bookmark is the document title.
type Bookmark struct {
	ID         string
	DocumentID string
	Page       int
	Offset     float64 // fraction of the page in [0,1)
	Label      string
	Kind       Kind
	Version    uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewID returns a fresh user bookmark id scoped to a document
func NewID(docID string) string {
	return docID + ":" + uuid.NewString()
}

// LastReadID returns the id of a document's last-read bookmark
func LastReadID(docID string) string {
	return docID + ":" + lastReadSuffix
}

// DocumentOf extracts the document id from a bookmark id
func DocumentOf(id string) (string, bool) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 || i == len(id)-1 {
		return "", false
	}
	return id[:i], true
}

// NormalizeLabel trims and NFC-normalizes a label so visually identical labels
// compare equal.
func NormalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}

// Validate checks the caller-controlled fields
func (b *Bookmark) Validate() error {
	if b.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrInvalidBookmark)
	}
	if strings.ContainsRune(b.DocumentID, ':') {
		return fmt.Errorf("%w: document id %q contains ':'", ErrInvalidBookmark, b.DocumentID)
	}
	if b.Page < 0 {
		return fmt.Errorf("%w: negative page %d", ErrInvalidBookmark, b.Page)
	}
	if math.IsNaN(b.Offset) || b.Offset < 0 || b.Offset >= 1 {
		return fmt.Errorf("%w: offset %v outside [0,1)", ErrInvalidBookmark, b.Offset)
	}
	if b.Kind != User && b.Kind != LastRead {
		return fmt.Errorf("%w: kind %d", ErrInvalidBookmark, b.Kind)
	}
	if len(b.Label) > MaxLabelLength {
		return fmt.Errorf("%w: label is %d bytes", ErrInvalidBookmark, len(b.Label))
	}
	if b.ID != "" {
		doc, ok := DocumentOf(b.ID)
		if !ok || doc != b.DocumentID {
			return fmt.Errorf("%w: id %q does not belong to document %s", ErrInvalidBookmark, b.ID, b.DocumentID)
		}
	}
	if b.Kind == User && b.ID == LastReadID(b.DocumentID) {
		return fmt.Errorf("%w: user bookmark cannot use the last-read id", ErrInvalidBookmark)
	}
	return nil
}
