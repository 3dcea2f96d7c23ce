// Package rendertest provides deterministic document sources and decoders for
// tests of the cache and session layers.
package rendertest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/nainya/docsession/pkg/document"
	"github.com/nainya/docsession/pkg/playback"
	"github.com/nainya/docsession/pkg/render"
)

// NewDocument returns an opened document with uniform page sizes and no timing
func NewDocument(id string, pages int, width, height float64) *document.Document {
	sizes := make([]document.PageSize, pages)
	for i := range sizes {
		sizes[i] = document.PageSize{Width: width, Height: height}
	}
	timing, _ := playback.NewTimingMap(nil)
	return &document.Document{
		ID:        id,
		PageCount: pages,
		PageSizes: sizes,
		Timing:    timing,
		Handle:    id,
	}
}

// Footprint returns the footprint of a FakeDecoder artifact
func Footprint(width, height int, zoom float64) int64 {
	w, h := scaled(width, zoom), scaled(height, zoom)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	return render.NewArtifact(render.Key{}, img, false).Footprint
}

func scaled(n int, zoom float64) int {
	return max(1, int(float64(n)*zoom))
}

type failure struct {
	kind      render.DecodeKind
	remaining int // < 0 fails forever
}

// FakeDecoder produces synthetic artifacts whose pixels depend only on the key.
// It records every call and can be told to fail or block.
type FakeDecoder struct {
	Width  int
	Height int

	// Gate, when set, blocks each Decode until a value is received or it is closed
	Gate chan struct{}

	mu       sync.Mutex
	calls    map[render.Key]int
	order    []render.Key
	failures map[int]*failure
}

// NewFakeDecoder creates a decoder producing width x height artifacts at zoom 1
func NewFakeDecoder(width, height int) *FakeDecoder {
	return &FakeDecoder{
		Width:    width,
		Height:   height,
		calls:    make(map[render.Key]int),
		failures: make(map[int]*failure),
	}
}

// FailPage makes every decode of page fail with kind
func (d *FakeDecoder) FailPage(page int, kind render.DecodeKind) {
	d.FailPageTimes(page, kind, -1)
}

// FailPageTimes makes the next n decodes of page fail with kind
func (d *FakeDecoder) FailPageTimes(page int, kind render.DecodeKind, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[page] = &failure{kind: kind, remaining: n}
}

// Decode implements render.Decoder
func (d *FakeDecoder) Decode(ctx context.Context, doc *document.Document, page int, zoom float64) (*render.Artifact, error) {
	key := render.Key{DocumentID: doc.ID, Page: page, Zoom: zoom}

	d.mu.Lock()
	d.calls[key]++
	d.order = append(d.order, key)
	var failErr error
	if f, ok := d.failures[page]; ok && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		failErr = &render.DecodeError{Kind: f.kind, Page: page, Err: fmt.Errorf("injected")}
	}
	gate := d.Gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !doc.ValidPage(page) {
		return nil, fmt.Errorf("%w: %d", render.ErrPageOutOfRange, page)
	}
	if failErr != nil {
		return nil, failErr
	}

	img := image.NewRGBA(image.Rect(0, 0, scaled(d.Width, zoom), scaled(d.Height, zoom)))
	seed := byte(xxhash.Sum64String(key.String()))
	for i := range img.Pix {
		img.Pix[i] = seed + byte(i)
	}
	return render.NewArtifact(key, img, false), nil
}

// Calls returns how many times key was decoded
func (d *FakeDecoder) Calls(key render.Key) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[key]
}

// PageCalls returns how many times page was decoded at any zoom
func (d *FakeDecoder) PageCalls(page int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for k, c := range d.calls {
		if k.Page == page {
			n += c
		}
	}
	return n
}

// Order returns the keys in the order their decodes started
func (d *FakeDecoder) Order() []render.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]render.Key(nil), d.order...)
}

// Total returns the number of decode calls
func (d *FakeDecoder) Total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// FakeSource is a document.Source and document.Painter over synthetic pages.
// Any bytes open as a document of Pages pages.
type FakeSource struct {
	Pages int
	Size  document.PageSize

	// PaintErrors maps page indices to errors returned by PaintPage
	PaintErrors map[int]error

	// Chapters is returned by Outline, OutlineErr instead when set
	Chapters   []document.Chapter
	OutlineErr error
	// DocTitle is returned by Title
	DocTitle string
}

type fakeHandle struct{ pages int }

// Open implements document.Source
func (s *FakeSource) Open(ctx context.Context, data []byte, password string) (document.Handle, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	return &fakeHandle{pages: s.Pages}, nil
}

// PageCount implements document.Source
func (s *FakeSource) PageCount(h document.Handle) int {
	return h.(*fakeHandle).pages
}

// PageSize implements document.Source
func (s *FakeSource) PageSize(h document.Handle, index int) (document.PageSize, error) {
	if index < 0 || index >= h.(*fakeHandle).pages {
		return document.PageSize{}, fmt.Errorf("page %d out of range", index)
	}
	return s.Size, nil
}

// Outline implements document.Outliner
func (s *FakeSource) Outline(h document.Handle) ([]document.Chapter, error) {
	if s.OutlineErr != nil {
		return nil, s.OutlineErr
	}
	return append([]document.Chapter(nil), s.Chapters...), nil
}

// Title implements document.Titler
func (s *FakeSource) Title(h document.Handle) string {
	return s.DocTitle
}

// PaintPage implements document.Painter: a horizontal band whose position encodes the page
func (s *FakeSource) PaintPage(ctx context.Context, h document.Handle, index int, dst draw.Image, scale float64) error {
	if err, ok := s.PaintErrors[index]; ok {
		return err
	}
	b := dst.Bounds()
	pages := max(1, h.(*fakeHandle).pages)
	y := b.Min.Y + b.Dy()*index/pages
	band := image.Rect(b.Min.X, y, b.Max.X, min(b.Max.Y, y+max(1, b.Dy()/pages)))
	draw.Draw(dst, band, image.NewUniform(color.RGBA{A: 0xff}), image.Point{}, draw.Src)
	return nil
}
