package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/docsession/pkg/document"
	"github.com/nainya/docsession/pkg/session"
)

var (
	readPage      int
	readChapter   int
	readZoom      float64
	readOut       string
	readPassword  string
	readThumbnail int
)

var readCmd = &cobra.Command{
	Use:   "read <pdf>",
	Short: "Open a document and render a page",
	Long: `Open a document in a reading session and render a page.

Without --page the session resumes at the last-read position. The page the
session ends on becomes the new reading position.

Examples:
  docsession read book.pdf                    # Resume where you left off
  docsession read book.pdf --page 12 --zoom 2 --out page.png
  docsession read book.pdf --chapter 3        # Jump to the third outline entry
  docsession read book.pdf --thumbnail 160 --out thumb.png`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := env.openStore()
		if err != nil {
			return err
		}
		c, err := env.newController(store, nil)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.Shutdown(shutdownCtx); err != nil {
				env.log.Warn("shutdown incomplete").Err(err).Send()
			}
		}()

		cancel := c.Subscribe(func(ev session.Event) {
			switch ev.Kind {
			case session.PageFailed, session.BookmarksUnsaved, session.Desynchronized:
				env.log.Warn(ev.Kind.String()).Int("page", ev.Page).Err(ev.Err).Send()
			}
		})
		defer cancel()

		if _, err := c.Open(ctx, document.Ref{Path: args[0], Password: readPassword}); err != nil {
			return err
		}
		switch {
		case cmd.Flags().Changed("chapter"):
			if err := c.JumpToChapter(ctx, readChapter-1); err != nil {
				return err
			}
		case cmd.Flags().Changed("page"):
			if err := c.GoToPage(ctx, readPage-1); err != nil {
				return err
			}
		}

		st := c.State()
		var img *image.RGBA
		if readThumbnail > 0 {
			img, err = c.Thumbnail(ctx, st.Page, readThumbnail)
		} else {
			art, aerr := c.CurrentArtifact(ctx, readZoom)
			if aerr == nil {
				img = art.View()
			}
			err = aerr
		}
		if err != nil {
			return err
		}

		if readOut != "" {
			if err := writePNG(readOut, img); err != nil {
				return err
			}
		}

		return output(map[string]any{
			"document":  st.DocumentID,
			"path":      st.Path,
			"page":      st.Page + 1,
			"pages":     st.PageCount,
			"zoom":      st.Zoom,
			"width":     img.Bounds().Dx(),
			"height":    img.Bounds().Dy(),
			"output":    readOut,
			"cache":     c.Cache().Stats(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	},
}

func init() {
	readCmd.Flags().IntVar(&readPage, "page", 1, "page to open (1-based)")
	readCmd.Flags().IntVar(&readChapter, "chapter", 1, "outline entry to open (1-based, see 'chapters')")
	readCmd.MarkFlagsMutuallyExclusive("page", "chapter")
	readCmd.Flags().Float64Var(&readZoom, "zoom", 0, "zoom factor, snapped to the zoom ladder (default: configured zoom)")
	readCmd.Flags().StringVar(&readOut, "out", "", "write the rendered page as PNG")
	readCmd.Flags().StringVar(&readPassword, "password", "", "user password for encrypted documents")
	readCmd.Flags().IntVar(&readThumbnail, "thumbnail", 0, "render a thumbnail this many pixels wide instead")
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// chapterView is the printed form of an outline entry; pages are 1-based
type chapterView struct {
	Index int    `yaml:"index" json:"index"`
	Title string `yaml:"title" json:"title"`
	Page  int    `yaml:"page" json:"page"`
	Level int    `yaml:"level" json:"level"`
}

var chaptersCmd = &cobra.Command{
	Use:   "chapters <pdf>",
	Short: "List the outline of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := document.Open(cmd.Context(), document.NewPDFSource(env.cfg.RelaxedPDF), document.Ref{
			Path:     args[0],
			Password: readPassword,
		})
		if err != nil {
			return err
		}
		if doc.OutlineErr != nil {
			env.log.Warn("outline unavailable").Err(doc.OutlineErr).Send()
		}

		views := make([]chapterView, len(doc.Outline))
		for i, ch := range doc.Outline {
			views[i] = chapterView{Index: i + 1, Title: ch.Title, Page: ch.Page + 1, Level: ch.Level}
		}
		return output(map[string]any{
			"document": doc.ID,
			"title":    doc.Title,
			"chapters": views,
		})
	},
}

func init() {
	chaptersCmd.Flags().StringVar(&readPassword, "password", "", "user password for encrypted documents")
}
