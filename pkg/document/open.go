package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/nainya/docsession/pkg/playback"
)

// Fingerprint returns the stable content id of document bytes
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x%08x", xxhash.Sum64(data), uint32(len(data)))
}

// Open reads, fingerprints and parses a document and attaches its timing map.
// A missing or invalid timing sidecar leaves the document without audio sync;
// it never fails the open.
func Open(ctx context.Context, src Source, ref Ref) (*Document, error) {
	data := ref.Data
	if data == nil {
		if ref.Path == "" {
			return nil, errors.New("document: ref has neither path nor data")
		}
		var err error
		data, err = os.ReadFile(ref.Path)
		if err != nil {
			return nil, fmt.Errorf("document: read %s: %w", ref.Path, err)
		}
	}

	handle, err := src.Open(ctx, data, ref.Password)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, &ParseError{Path: ref.Path, Err: err}
	}

	count := src.PageCount(handle)
	if count <= 0 {
		return nil, &ParseError{Path: ref.Path, Err: ErrEmptyDocument}
	}

	sizes := make([]PageSize, count)
	for i := range sizes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		size, err := src.PageSize(handle, i)
		if err != nil {
			return nil, &ParseError{Path: ref.Path, Err: fmt.Errorf("page %d size: %w", i, err)}
		}
		sizes[i] = size
	}

	doc := &Document{
		ID:        Fingerprint(data),
		Path:      ref.Path,
		Size:      int64(len(data)),
		PageCount: count,
		PageSizes: sizes,
		Handle:    handle,
	}

	doc.Title = titleOf(src, handle, ref.Path)
	if o, ok := src.(Outliner); ok {
		doc.Outline, doc.OutlineErr = outlineOf(o, handle, count)
	}

	timing := ref.Timing
	if timing == nil && ref.Path != "" {
		timing, err = LoadTiming(SidecarPath(ref.Path))
		if err != nil {
			doc.TimingErr = err
			timing = nil
		}
	}
	if err := timing.Validate(count); err != nil {
		doc.TimingErr = err
		timing = nil
	}
	if timing == nil {
		timing, _ = playback.NewTimingMap(nil)
	}
	doc.Timing = timing

	return doc, nil
}

func titleOf(src Source, h Handle, path string) string {
	if t, ok := src.(Titler); ok {
		if title := strings.TrimSpace(t.Title(h)); title != "" {
			return title
		}
	}
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// outlineOf drops entries pointing outside the document. A broken outline
// leaves the document without chapters; it never fails the open.
func outlineOf(o Outliner, h Handle, pages int) ([]Chapter, error) {
	items, err := o.Outline(h)
	if err != nil {
		return nil, err
	}
	out := make([]Chapter, 0, len(items))
	for _, ch := range items {
		if ch.Page < 0 || ch.Page >= pages {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}
