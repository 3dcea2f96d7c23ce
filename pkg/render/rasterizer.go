package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/nainya/docsession/pkg/document"
)

const (
	// DefaultMaxPixels caps a single artifact at roughly 64 MiB of RGBA
	DefaultMaxPixels = 16 << 20

	placeholderMaxEdge = 1024
)

var (
	paperColor       = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	frameColor       = color.RGBA{R: 0xd0, G: 0xd0, B: 0xd0, A: 0xff}
	placeholderColor = color.RGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff}
	placeholderMark  = color.RGBA{R: 0xb4, G: 0xb4, B: 0xb4, A: 0xff}
)

// Rasterizer is the production Decoder. It sizes the page from the document's
// intrinsic geometry, draws the paper and frame, and lets the source paint
// content when it implements document.Painter.
type Rasterizer struct {
	Source    document.Source
	Ladder    Ladder
	MaxPixels int64
}

// NewRasterizer creates a rasterizer with the default pixel ceiling
func NewRasterizer(src document.Source, ladder Ladder) *Rasterizer {
	return &Rasterizer{Source: src, Ladder: ladder, MaxPixels: DefaultMaxPixels}
}

// Decode rasterizes one page
func (r *Rasterizer) Decode(ctx context.Context, doc *document.Document, page int, zoom float64) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !doc.ValidPage(page) {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, doc.PageCount)
	}
	if !r.Ladder.Contains(zoom) {
		return nil, &DecodeError{Kind: Unsupported, Page: page, Err: fmt.Errorf("zoom %v not on ladder %v", zoom, r.Ladder.Rungs())}
	}

	size := doc.PageSizes[page]
	w, h, err := pixelDims(size, zoom)
	if err != nil {
		return nil, &DecodeError{Kind: Corrupt, Page: page, Err: err}
	}
	if limit := r.MaxPixels; limit > 0 && int64(w)*int64(h) > limit {
		return nil, &DecodeError{Kind: OutOfMemory, Page: page, Err: fmt.Errorf("%dx%d exceeds %d pixels", w, h, limit)}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(paperColor), image.Point{}, draw.Src)
	drawFrame(img, float32(math.Max(1, zoom)))

	if painter, ok := r.Source.(document.Painter); ok {
		if err := painter.PaintPage(ctx, doc.Handle, page, img, zoom); err != nil {
			return nil, classifyPaintError(ctx, page, err)
		}
	}

	key := Key{DocumentID: doc.ID, Page: page, Zoom: zoom}
	return NewArtifact(key, img, false), nil
}

func classifyPaintError(ctx context.Context, page int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var derr *DecodeError
	if errors.As(err, &derr) {
		return err
	}
	switch {
	case errors.Is(err, document.ErrUnsupportedContent):
		return &DecodeError{Kind: Unsupported, Page: page, Err: err}
	default:
		return &DecodeError{Kind: Corrupt, Page: page, Err: err}
	}
}

func pixelDims(size document.PageSize, zoom float64) (int, int, error) {
	w := math.Ceil(size.Width * zoom)
	h := math.Ceil(size.Height * zoom)
	if !(w >= 1 && h >= 1) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return 0, 0, fmt.Errorf("invalid page size %vx%v", size.Width, size.Height)
	}
	if w > math.MaxInt32 || h > math.MaxInt32 {
		return 0, 0, fmt.Errorf("page size %vx%v overflows", size.Width, size.Height)
	}
	return int(w), int(h), nil
}

// drawFrame strokes a border of width t just inside the image bounds
func drawFrame(img *image.RGBA, t float32) {
	b := img.Bounds()
	w, h := float32(b.Dx()), float32(b.Dy())
	if w <= 2*t || h <= 2*t {
		return
	}

	z := vector.NewRasterizer(b.Dx(), b.Dy())
	// Outer ring clockwise, inner counter-clockwise: the interior cancels out
	z.MoveTo(0, 0)
	z.LineTo(w, 0)
	z.LineTo(w, h)
	z.LineTo(0, h)
	z.ClosePath()
	z.MoveTo(t, t)
	z.LineTo(t, h-t)
	z.LineTo(w-t, h-t)
	z.LineTo(w-t, t)
	z.ClosePath()
	z.Draw(img, b, image.NewUniform(frameColor), image.Point{})
}

// Placeholder renders the degraded stand-in for a page that failed to decode.
// The long edge is capped so a failed huge page stays cheap.
func Placeholder(key Key, width, height int) *Artifact {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if long := max(width, height); long > placeholderMaxEdge {
		width = max(1, width*placeholderMaxEdge/long)
		height = max(1, height*placeholderMaxEdge/long)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderColor), image.Point{}, draw.Src)

	w, h := float32(width), float32(height)
	t := float32(math.Max(1, float64(min(width, height))/64))
	z := vector.NewRasterizer(width, height)
	// Two diagonal bars
	z.MoveTo(0, 0)
	z.LineTo(t, 0)
	z.LineTo(w, h-t)
	z.LineTo(w, h)
	z.LineTo(w-t, h)
	z.LineTo(0, t)
	z.ClosePath()
	z.MoveTo(w, 0)
	z.LineTo(w, t)
	z.LineTo(t, h)
	z.LineTo(0, h)
	z.LineTo(0, h-t)
	z.LineTo(w-t, 0)
	z.ClosePath()
	z.Draw(img, img.Bounds(), image.NewUniform(placeholderMark), image.Point{})

	return NewArtifact(key, img, true)
}

// PlaceholderFor sizes a placeholder from the page geometry
func PlaceholderFor(doc *document.Document, page int, zoom float64) *Artifact {
	key := Key{DocumentID: doc.ID, Page: page, Zoom: zoom}
	w, h := placeholderMaxEdge, placeholderMaxEdge
	if doc.ValidPage(page) {
		if pw, ph, err := pixelDims(doc.PageSizes[page], zoom); err == nil {
			w, h = pw, ph
		}
	}
	return Placeholder(key, w, h)
}

// Thumbnail scales an artifact down to width pixels, keeping its aspect ratio
func Thumbnail(a *Artifact, width int) *image.RGBA {
	if width <= 0 || width > a.Width {
		width = a.Width
	}
	height := max(1, a.Height*width/a.Width)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), a.View(), a.View().Bounds(), xdraw.Src, nil)
	return dst
}
