package document

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PDFSource is the production Source backed by pdfcpu. It resolves structure,
// page geometry, the title and the outline. It does not implement Painter:
// pdfcpu has no content renderer, so pages rasterize as blank paper with a
// frame unless a painting source is supplied instead.
type PDFSource struct {
	relaxed bool
}

// NewPDFSource creates a pdfcpu-backed source. relaxed tolerates minor PDF format
// violations common in scanned books.
func NewPDFSource(relaxed bool) *PDFSource {
	return &PDFSource{relaxed: relaxed}
}

type pdfHandle struct {
	ctx  *model.Context
	dims []types.Dim
}

// Open parses and validates PDF bytes, decrypting with password when set
func (s *PDFSource) Open(ctx context.Context, data []byte, password string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	if s.relaxed {
		conf.ValidationMode = model.ValidationRelaxed
	}
	if password != "" {
		conf.UserPW = password
		conf.OwnerPW = password
	}

	pctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := api.ValidateContext(pctx); err != nil {
		return nil, &ParseError{Err: err}
	}

	dims, err := pctx.PageDims()
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("page dimensions: %w", err)}
	}

	return &pdfHandle{ctx: pctx, dims: dims}, nil
}

// PageCount returns the number of pages
func (s *PDFSource) PageCount(h Handle) int {
	ph, ok := h.(*pdfHandle)
	if !ok {
		return 0
	}
	return len(ph.dims)
}

// PageSize returns the media box size of a page
func (s *PDFSource) PageSize(h Handle, index int) (PageSize, error) {
	ph, ok := h.(*pdfHandle)
	if !ok {
		return PageSize{}, fmt.Errorf("foreign handle %T", h)
	}
	if index < 0 || index >= len(ph.dims) {
		return PageSize{}, fmt.Errorf("page %d out of range [0,%d)", index, len(ph.dims))
	}
	d := ph.dims[index]
	return PageSize{Width: d.Width, Height: d.Height}, nil
}

// Title returns the title from the document information dictionary
func (s *PDFSource) Title(h Handle) string {
	ph, ok := h.(*pdfHandle)
	if !ok {
		return ""
	}
	return ph.ctx.Title
}

// Outline returns the document bookmarks (the PDF outline) flattened depth-first
func (s *PDFSource) Outline(h Handle) ([]Chapter, error) {
	ph, ok := h.(*pdfHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle %T", h)
	}
	bms, err := pdfcpu.Bookmarks(ph.ctx)
	if err != nil {
		return nil, fmt.Errorf("outline: %w", err)
	}
	var out []Chapter
	flattenOutline(bms, 0, &out)
	return out, nil
}

func flattenOutline(bms []pdfcpu.Bookmark, level int, out *[]Chapter) {
	for _, bm := range bms {
		*out = append(*out, Chapter{Title: bm.Title, Page: bm.PageFrom - 1, Level: level})
		flattenOutline(bm.Kids, level+1, out)
	}
}
