// ABOUTME: Decoded page artifacts and the decoder contract
// ABOUTME: Artifacts are immutable once built; replace them, never edit

package render

import (
	"context"
	"image"

	"github.com/nainya/docsession/pkg/document"
)

// artifactOverhead approximates the bookkeeping cost of an artifact beyond its pixels
const artifactOverhead = 256

// Artifact is one page rasterized at one zoom level. Pixels are RGBA, row-major.
type Artifact struct {
	Key         Key
	Width       int
	Height      int
	Stride      int
	Pixels      []byte
	Footprint   int64
	Placeholder bool
}

// NewArtifact wraps an RGBA image without copying it
func NewArtifact(key Key, img *image.RGBA, placeholder bool) *Artifact {
	b := img.Bounds()
	return &Artifact{
		Key:         key,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Stride:      img.Stride,
		Pixels:      img.Pix,
		Footprint:   int64(len(img.Pix)) + artifactOverhead,
		Placeholder: placeholder,
	}
}

// View returns the pixels as an image sharing the artifact's buffer. Callers
// must not draw into it.
func (a *Artifact) View() *image.RGBA {
	return &image.RGBA{
		Pix:    a.Pixels,
		Stride: a.Stride,
		Rect:   image.Rect(0, 0, a.Width, a.Height),
	}
}

// Decoder turns a document page into an artifact.
// Implementations are stateless and safe for concurrent use; identical inputs
// produce byte-identical pixels.
type Decoder interface {
	Decode(ctx context.Context, doc *document.Document, page int, zoom float64) (*Artifact, error)
}
