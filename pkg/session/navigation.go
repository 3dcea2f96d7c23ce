package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/nainya/docsession/pkg/document"
	"github.com/nainya/docsession/pkg/playback"
	"github.com/nainya/docsession/pkg/render"
)

// Navigation causes, used for metrics and logs
const (
	causeUser     = "user"
	causeBookmark = "bookmark"
	causePlayback = "playback"
	causeZoom     = "zoom"
	causeChapter  = "chapter"
)

// GoToPage makes index the current page. The page is decoded in the
// background; PageReady or PageFailed follows.
func (c *Controller) GoToPage(ctx context.Context, index int) error {
	return c.do(ctx, func() error {
		return c.navigate(index, 0, causeUser)
	})
}

// NextPage moves one page forward
func (c *Controller) NextPage(ctx context.Context) error {
	return c.do(ctx, func() error {
		return c.navigate(c.page+1, 0, causeUser)
	})
}

// PrevPage moves one page back
func (c *Controller) PrevPage(ctx context.Context) error {
	return c.do(ctx, func() error {
		return c.navigate(c.page-1, 0, causeUser)
	})
}

// SetZoom changes the zoom of the current page. The value is snapped to the
// ladder; the applied zoom is returned.
func (c *Controller) SetZoom(ctx context.Context, zoom float64) (float64, error) {
	if zoom <= 0 {
		return 0, fmt.Errorf("session: invalid zoom %v", zoom)
	}
	snapped := c.ladder.Snap(zoom)
	err := c.do(ctx, func() error {
		s := c.active.Load()
		if s == nil {
			return ErrNoDocument
		}
		if snapped == c.zoom {
			return nil
		}
		c.zoom = snapped
		gen := c.gen.Add(1)
		c.publish()

		c.metrics.RecordNavigation(causeZoom)
		c.log.LogNavigation(s.doc.ID, c.page, snapped, causeZoom)
		c.emit(Event{Kind: PageChanged, Page: c.page, Zoom: snapped})
		c.schedule(s, gen)
		return nil
	})
	return snapped, err
}

// JumpToBookmark navigates to a bookmark of the open document
func (c *Controller) JumpToBookmark(ctx context.Context, id string) error {
	b, err := c.store.Get(id)
	if err != nil {
		return err
	}
	return c.do(ctx, func() error {
		s := c.active.Load()
		if s == nil {
			return ErrNoDocument
		}
		if b.DocumentID != s.doc.ID {
			return fmt.Errorf("%w: %s", ErrForeignBookmark, id)
		}
		return c.navigate(b.Page, b.Offset, causeBookmark)
	})
}

// Chapters returns the outline of the open document
func (c *Controller) Chapters() ([]document.Chapter, error) {
	s := c.active.Load()
	if s == nil {
		return nil, ErrNoDocument
	}
	return append([]document.Chapter(nil), s.doc.Outline...), nil
}

// JumpToChapter navigates to the start of chapter i of the outline
func (c *Controller) JumpToChapter(ctx context.Context, i int) error {
	return c.do(ctx, func() error {
		s := c.active.Load()
		if s == nil {
			return ErrNoDocument
		}
		if i < 0 || i >= len(s.doc.Outline) {
			return fmt.Errorf("%w: %d of %d", ErrChapterOutOfRange, i, len(s.doc.Outline))
		}
		return c.navigate(s.doc.Outline[i].Page, 0, causeChapter)
	})
}

// navigate runs on the coordinating goroutine
func (c *Controller) navigate(page int, offset float64, cause string) error {
	s := c.active.Load()
	if s == nil {
		return ErrNoDocument
	}
	if !s.doc.ValidPage(page) {
		return fmt.Errorf("%w: page %d of %d", render.ErrPageOutOfRange, page, s.doc.PageCount)
	}

	switch {
	case page > c.page:
		c.direction = 1
	case page < c.page:
		c.direction = -1
	}
	c.page, c.offset = page, offset
	gen := c.gen.Add(1)

	c.pinWindow(s)
	c.writer.Mark(s.doc.ID, page, offset)

	if cause != causePlayback && s.sync != nil {
		if err := s.sync.ManualTurn(page); err != nil {
			c.metrics.RecordSyncEvent("desynchronized")
			c.log.Warn("playback desynchronized").Str("document", s.doc.ID).Int("page", page).Err(err).Send()
			c.publish()
			c.emit(Event{Kind: Desynchronized, Page: page, Zoom: c.zoom, Err: err})
		}
	}
	c.publish()

	c.metrics.RecordNavigation(cause)
	c.log.LogNavigation(s.doc.ID, page, c.zoom, cause)
	c.emit(Event{Kind: PageChanged, Page: page, Zoom: c.zoom})

	c.schedule(s, gen)
	return nil
}

// pinWindow pins the pages within PinRadius of the current page
func (c *Controller) pinWindow(s *session) {
	r := c.cfg.PinRadius
	pages := make([]int, 0, 2*r+1)
	for p := c.page - r; p <= c.page+r; p++ {
		if s.doc.ValidPage(p) {
			pages = append(pages, p)
		}
	}
	c.cache.Pin(c.id, s.doc.ID, pages)
}

// Play starts playback-driven navigation. The page follows the clock; a page
// turned by hand while paused is corrected here.
func (c *Controller) Play(ctx context.Context) error {
	return c.do(ctx, func() error {
		s := c.active.Load()
		if s == nil {
			return ErrNoDocument
		}
		if s.sync == nil {
			return &playback.SyncError{Kind: playback.NoMapping, Page: -1}
		}
		pos, err := s.sync.Play()
		if err != nil {
			return err
		}
		c.metrics.RecordSyncEvent("play")

		if pos.Page != c.page {
			if err := c.navigate(pos.Page, pos.Offset, causePlayback); err != nil {
				return err
			}
		} else {
			c.offset = pos.Offset
			c.publish()
		}
		c.emit(Event{Kind: PlaybackChanged, Page: c.page, Zoom: c.zoom})
		return nil
	})
}

// Pause pauses playback
func (c *Controller) Pause(ctx context.Context) error {
	return c.playbackTransition(ctx, "pause", func(sm *playback.Synchronizer) error {
		return sm.Pause()
	})
}

// Stop stops playback
func (c *Controller) Stop(ctx context.Context) error {
	return c.playbackTransition(ctx, "stop", func(sm *playback.Synchronizer) error {
		sm.Stop()
		return nil
	})
}

func (c *Controller) playbackTransition(ctx context.Context, name string, fn func(*playback.Synchronizer) error) error {
	return c.do(ctx, func() error {
		s := c.active.Load()
		if s == nil {
			return ErrNoDocument
		}
		if s.sync == nil {
			return &playback.SyncError{Kind: playback.NoMapping, Page: -1}
		}
		if err := fn(s.sync); err != nil {
			return err
		}
		c.metrics.RecordSyncEvent(name)
		c.publish()
		c.emit(Event{Kind: PlaybackChanged, Page: c.page, Zoom: c.zoom})
		return nil
	})
}

// Tick samples the playback clock and turns the page when the clock has
// crossed into another one. It reports whether the page changed.
func (c *Controller) Tick(ctx context.Context) (bool, error) {
	changed := false
	err := c.do(ctx, func() error {
		s := c.active.Load()
		if s == nil {
			return ErrNoDocument
		}
		if s.sync == nil {
			return nil
		}
		pos, moved, err := s.sync.Tick()
		if err != nil {
			if errors.Is(err, playback.ErrNoMapping) {
				return nil
			}
			return err
		}
		if !moved || pos.Page == c.page {
			return nil
		}
		changed = true
		return c.navigate(pos.Page, pos.Offset, causePlayback)
	})
	return changed, err
}
