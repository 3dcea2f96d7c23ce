package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nainya/docsession/pkg/playback"
)

type stubHandle struct{ pages int }

type stubSource struct {
	pages   int
	openErr error
}

func (s *stubSource) Open(ctx context.Context, data []byte, password string) (Handle, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &stubHandle{pages: s.pages}, nil
}

func (s *stubSource) PageCount(h Handle) int { return h.(*stubHandle).pages }

func (s *stubSource) PageSize(h Handle, index int) (PageSize, error) {
	return PageSize{Width: 612, Height: 792}, nil
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint([]byte("hello world"))
	b := Fingerprint([]byte("hello world"))
	c := Fingerprint([]byte("hello world!"))

	if a != b {
		t.Errorf("Expected identical fingerprints, got %s and %s", a, b)
	}
	if a == c {
		t.Errorf("Expected different fingerprints for different content")
	}
	if len(a) != 24 {
		t.Errorf("Expected 24 hex chars, got %d", len(a))
	}
}

func TestOpenFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.pdf")
	if err := os.WriteFile(path, []byte("%PDF-stub"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Open(context.Background(), &stubSource{pages: 12}, Ref{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if doc.PageCount != 12 {
		t.Errorf("Expected 12 pages, got %d", doc.PageCount)
	}
	if doc.ID != Fingerprint([]byte("%PDF-stub")) {
		t.Errorf("Expected fingerprint id, got %s", doc.ID)
	}
	if len(doc.PageSizes) != 12 || doc.PageSizes[3].Width != 612 {
		t.Errorf("Expected 12 page sizes, got %v", doc.PageSizes)
	}
	if doc.Timing == nil || !doc.Timing.Empty() {
		t.Errorf("Expected empty timing without sidecar")
	}
	if !doc.ValidPage(11) || doc.ValidPage(12) || doc.ValidPage(-1) {
		t.Errorf("ValidPage bounds wrong")
	}
}

func TestOpenWrapsParseFailures(t *testing.T) {
	_, err := Open(context.Background(), &stubSource{openErr: errors.New("bad xref")}, Ref{Data: []byte("x")})

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ParseError, got %v", err)
	}
}

func TestOpenRejectsEmptyDocument(t *testing.T) {
	_, err := Open(context.Background(), &stubSource{pages: 0}, Ref{Data: []byte("x")})
	if !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("Expected ErrEmptyDocument, got %v", err)
	}
}

func TestOpenLoadsTimingSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.pdf")
	if err := os.WriteFile(path, []byte("%PDF-stub"), 0o644); err != nil {
		t.Fatal(err)
	}
	sidecar := `breakpoints:
  - at: 0s
    page: 0
  - at: 10s
    page: 5
`
	if err := os.WriteFile(SidecarPath(path), []byte(sidecar), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Open(context.Background(), &stubSource{pages: 8}, Ref{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if doc.TimingErr != nil {
		t.Fatalf("unexpected timing error: %v", doc.TimingErr)
	}

	ts, err := doc.Timing.TimestampAt(5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ts != 10*time.Second {
		t.Errorf("Expected 10s, got %s", ts)
	}
}

func TestOpenIgnoresInvalidTiming(t *testing.T) {
	// Page 20 does not exist in a 4 page document
	tm, err := playback.NewTimingMap([]playback.Breakpoint{{At: 0, Page: 0}, {At: time.Second, Page: 20}})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := Open(context.Background(), &stubSource{pages: 4}, Ref{Data: []byte("x"), Timing: tm})
	if err != nil {
		t.Fatalf("invalid timing must not fail open: %v", err)
	}
	if doc.TimingErr == nil {
		t.Error("Expected TimingErr to be recorded")
	}
	if !doc.Timing.Empty() {
		t.Error("Expected timing to fall back to empty")
	}
}

func TestTimingSidecarRoundTrip(t *testing.T) {
	tm, err := playback.NewTimingMap([]playback.Breakpoint{
		{At: 0, Page: 0},
		{At: 90 * time.Second, Page: 4, Offset: 0.25},
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := MarshalTiming(tm)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseTiming(data)
	if err != nil {
		t.Fatal(err)
	}

	got := back.Breakpoints()
	if len(got) != 2 || got[1].At != 90*time.Second || got[1].Offset != 0.25 {
		t.Errorf("Expected breakpoints to survive, got %+v", got)
	}
}

func TestParseTimingRejectsBadDuration(t *testing.T) {
	_, err := ParseTiming([]byte("breakpoints:\n  - at: soon\n    page: 1\n"))
	if err == nil {
		t.Error("Expected error for unparseable duration")
	}
}

type outlinedSource struct {
	stubSource
	title    string
	chapters []Chapter
	err      error
}

func (s *outlinedSource) Title(h Handle) string { return s.title }

func (s *outlinedSource) Outline(h Handle) ([]Chapter, error) { return s.chapters, s.err }

func TestOpenReadsOutlineAndTitle(t *testing.T) {
	src := &outlinedSource{
		stubSource: stubSource{pages: 10},
		title:      "  Moby Dick ",
		chapters: []Chapter{
			{Title: "Loomings", Page: 0},
			{Title: "The Carpet-Bag", Page: 4},
			{Title: "Part", Page: 4, Level: 1},
			{Title: "Broken link", Page: 42},
			{Title: "Negative", Page: -1},
		},
	}

	doc, err := Open(context.Background(), src, Ref{Data: []byte("x")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if doc.Title != "Moby Dick" {
		t.Errorf("Expected trimmed title, got %q", doc.Title)
	}
	if len(doc.Outline) != 3 {
		t.Fatalf("Expected 3 chapters inside the document, got %v", doc.Outline)
	}
	if doc.Outline[2].Level != 1 || doc.Outline[2].Page != 4 {
		t.Errorf("Expected nested chapter at page 4, got %+v", doc.Outline[2])
	}
}

func TestOpenSurvivesBrokenOutline(t *testing.T) {
	src := &outlinedSource{stubSource: stubSource{pages: 3}, err: errors.New("bad outline")}

	doc, err := Open(context.Background(), src, Ref{Data: []byte("x")})
	if err != nil {
		t.Fatalf("Expected open to succeed, got %v", err)
	}
	if doc.OutlineErr == nil || len(doc.Outline) != 0 {
		t.Errorf("Expected recorded outline error and no chapters, got %v %v", doc.OutlineErr, doc.Outline)
	}
}

func TestTitleFallsBackToFileName(t *testing.T) {
	tests := []struct {
		name  string
		title string
		path  string
		want  string
	}{
		{"metadata title", "Dracula", "/books/d.pdf", "Dracula"},
		{"blank metadata", "   ", "/books/dracula.pdf", "dracula"},
		{"no path", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &outlinedSource{stubSource: stubSource{pages: 1}, title: tt.title}
			if got := titleOf(src, &stubHandle{pages: 1}, tt.path); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
