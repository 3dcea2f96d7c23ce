package render_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nainya/docsession/pkg/document"
	"github.com/nainya/docsession/pkg/render"
	"github.com/nainya/docsession/pkg/render/rendertest"
)

func openFake(t *testing.T, src *rendertest.FakeSource) *document.Document {
	t.Helper()
	doc, err := document.Open(context.Background(), src, document.Ref{Data: []byte("fake pdf")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return doc
}

func TestLadder(t *testing.T) {
	l := render.DefaultLadder()

	if !l.Contains(1.5) || l.Contains(1.25) {
		t.Errorf("Contains wrong for default ladder %v", l.Rungs())
	}

	tests := []struct {
		in, want float64
	}{
		{0.1, 0.5},
		{1.2, 1},
		{1.3, 1.5},
		{1.25, 1}, // tie prefers smaller
		{10, 3},
	}
	for _, tt := range tests {
		if got := l.Snap(tt.in); got != tt.want {
			t.Errorf("Snap(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := render.NewLadder(nil); err == nil {
		t.Error("Expected error for empty ladder")
	}
	if _, err := render.NewLadder([]float64{1, 0}); err == nil {
		t.Error("Expected error for zero factor")
	}
	if _, err := render.NewLadder([]float64{2, 1, 2}); err == nil {
		t.Error("Expected error for duplicate factor")
	}

	custom, err := render.NewLadder([]float64{2, 1})
	if err != nil {
		t.Fatal(err)
	}
	if r := custom.Rungs(); r[0] != 1 || r[1] != 2 {
		t.Errorf("Expected sorted rungs, got %v", r)
	}
}

func TestRasterizerDeterministic(t *testing.T) {
	src := &rendertest.FakeSource{Pages: 5, Size: document.PageSize{Width: 60, Height: 80}}
	doc := openFake(t, src)
	r := render.NewRasterizer(src, render.DefaultLadder())

	a, err := r.Decode(context.Background(), doc, 2, 1.5)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b, err := r.Decode(context.Background(), doc, 2, 1.5)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if a.Width != 90 || a.Height != 120 {
		t.Errorf("Expected 90x120, got %dx%d", a.Width, a.Height)
	}
	if !bytes.Equal(a.Pixels, b.Pixels) {
		t.Error("Expected byte-identical pixels for identical inputs")
	}
	if a.Footprint < int64(len(a.Pixels)) {
		t.Errorf("Footprint %d smaller than pixel buffer %d", a.Footprint, len(a.Pixels))
	}

	c, err := r.Decode(context.Background(), doc, 3, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Pixels, c.Pixels) {
		t.Error("Expected different pages to differ")
	}
}

func TestRasterizerConcurrentDecodes(t *testing.T) {
	src := &rendertest.FakeSource{Pages: 8, Size: document.PageSize{Width: 40, Height: 40}}
	doc := openFake(t, src)
	r := render.NewRasterizer(src, render.DefaultLadder())

	want, err := r.Decode(context.Background(), doc, 4, 1)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Decode(context.Background(), doc, 4, 1)
			if err != nil {
				t.Errorf("Decode: %v", err)
				return
			}
			if !bytes.Equal(got.Pixels, want.Pixels) {
				t.Error("concurrent decode differs")
			}
		}()
	}
	wg.Wait()
}

func TestRasterizerErrors(t *testing.T) {
	src := &rendertest.FakeSource{
		Pages: 4,
		Size:  document.PageSize{Width: 50, Height: 50},
		PaintErrors: map[int]error{
			1: document.ErrMalformed,
			2: document.ErrUnsupportedContent,
		},
	}
	doc := openFake(t, src)
	r := render.NewRasterizer(src, render.DefaultLadder())
	ctx := context.Background()

	if _, err := r.Decode(ctx, doc, 4, 1); !errors.Is(err, render.ErrPageOutOfRange) {
		t.Errorf("Expected ErrPageOutOfRange, got %v", err)
	}
	if _, err := r.Decode(ctx, doc, 0, 1.25); !errors.Is(err, render.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for off-ladder zoom, got %v", err)
	}
	if _, err := r.Decode(ctx, doc, 1, 1); !errors.Is(err, render.ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", err)
	}
	_, err := r.Decode(ctx, doc, 2, 1)
	var derr *render.DecodeError
	if !errors.As(err, &derr) || derr.Kind != render.Unsupported || derr.Page != 2 {
		t.Errorf("Expected Unsupported DecodeError for page 2, got %v", err)
	}

	r.MaxPixels = 100
	_, err = r.Decode(ctx, doc, 0, 1)
	if !errors.Is(err, render.ErrOutOfMemory) || !render.Retryable(err) {
		t.Errorf("Expected retryable ErrOutOfMemory, got %v", err)
	}
}

func TestPlaceholderCapsSize(t *testing.T) {
	key := render.Key{DocumentID: "doc", Page: 3, Zoom: 3}
	p := render.Placeholder(key, 4000, 2000)

	if !p.Placeholder {
		t.Error("Expected placeholder flag")
	}
	if p.Width != 1024 || p.Height != 512 {
		t.Errorf("Expected 1024x512, got %dx%d", p.Width, p.Height)
	}
	if p.Key != key {
		t.Errorf("Expected key %v, got %v", key, p.Key)
	}
}

func TestThumbnail(t *testing.T) {
	key := render.Key{DocumentID: "doc", Page: 0, Zoom: 1}
	a := render.Placeholder(key, 200, 300)

	thumb := render.Thumbnail(a, 50)
	if b := thumb.Bounds(); b.Dx() != 50 || b.Dy() != 75 {
		t.Errorf("Expected 50x75, got %v", b)
	}

	same := render.Thumbnail(a, 0)
	if same.Bounds().Dx() != 200 {
		t.Errorf("Expected full width for non-positive width, got %d", same.Bounds().Dx())
	}
}

func TestKeyString(t *testing.T) {
	k := render.Key{DocumentID: "abc", Page: 7, Zoom: 1.5}
	if got := k.String(); got != "abc/7@1.5" {
		t.Errorf("Expected abc/7@1.5, got %s", got)
	}
}
