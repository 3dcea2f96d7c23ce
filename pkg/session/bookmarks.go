package session

import (
	"context"
	"fmt"

	"github.com/nainya/docsession/internal/worker"
	"github.com/nainya/docsession/pkg/bookmark"
)

// Bookmark saves a user bookmark at the current reading position
func (c *Controller) Bookmark(ctx context.Context, label string) (bookmark.Bookmark, error) {
	var saved bookmark.Bookmark
	err := c.do(ctx, func() error {
		s := c.active.Load()
		if s == nil {
			return ErrNoDocument
		}
		in := bookmark.Bookmark{
			DocumentID: s.doc.ID,
			Page:       c.page,
			Offset:     c.offset,
			Label:      label,
			Kind:       bookmark.User,
		}

		// the coordinator waits so later navigation observes the write
		b, err := worker.Do(ctx, c.pool, worker.PriorityInteractive, func(ctx context.Context) (bookmark.Bookmark, error) {
			return c.store.Upsert(ctx, in)
		})
		if err != nil {
			c.emit(Event{Kind: BookmarksUnsaved, Page: in.Page, Zoom: c.zoom, Err: err})
			return err
		}
		saved = b
		c.emit(Event{Kind: BookmarkSaved, Page: b.Page, Zoom: c.zoom})
		return nil
	})
	return saved, err
}

// Bookmarks lists the bookmarks of the open document, last-read first
func (c *Controller) Bookmarks() ([]bookmark.Bookmark, error) {
	s := c.active.Load()
	if s == nil {
		return nil, ErrNoDocument
	}
	return c.store.Load(s.doc.ID)
}

// DeleteBookmark removes a user bookmark of the open document
func (c *Controller) DeleteBookmark(ctx context.Context, id string) error {
	return c.do(ctx, func() error {
		s := c.active.Load()
		if s == nil {
			return ErrNoDocument
		}
		if docID, ok := bookmark.DocumentOf(id); !ok || docID != s.doc.ID {
			return fmt.Errorf("%w: %s", ErrForeignBookmark, id)
		}
		_, err := worker.Do(ctx, c.pool, worker.PriorityInteractive, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.store.Delete(ctx, id)
		})
		return err
	})
}

// pooledSetter runs debounced last-read writes on the worker pool
type pooledSetter struct {
	c *Controller
}

func (p pooledSetter) SetLastRead(ctx context.Context, docID string, page int, offset float64) (bookmark.Bookmark, error) {
	return worker.Do(ctx, p.c.pool, worker.PriorityInteractive, func(ctx context.Context) (bookmark.Bookmark, error) {
		return p.c.store.SetLastRead(ctx, docID, page, offset)
	})
}
