package session

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/nainya/docsession/internal/worker"
	"github.com/nainya/docsession/pkg/cache"
	"github.com/nainya/docsession/pkg/render"
)

// errSuperseded is returned by background loads skipped after the reader moved on
var errSuperseded = errors.New("session: request superseded")

type fetchMode int

const (
	// modeWait serves a caller blocked on the page
	modeWait fetchMode = iota
	// modeDeliver decodes the current page after navigation
	modeDeliver
	// modePrefetch decodes speculatively ahead of the reader
	modePrefetch
)

// CurrentArtifact returns the current page at zoom (snapped to the ladder; 0
// means the session zoom), waiting for its decode if needed. A page that
// cannot be decoded yields a placeholder artifact and a PageFailed event.
func (c *Controller) CurrentArtifact(ctx context.Context, zoom float64) (*render.Artifact, error) {
	s := c.active.Load()
	st := c.State()
	if s == nil || !st.Open || st.DocumentID != s.doc.ID {
		return nil, ErrNoDocument
	}
	if zoom <= 0 {
		zoom = st.Zoom
	}
	return c.resolve(ctx, s, st.Page, c.ladder.Snap(zoom), c.gen.Load(), modeWait)
}

// Thumbnail returns a scaled-down rendering of page, width pixels wide
func (c *Controller) Thumbnail(ctx context.Context, page, width int) (*image.RGBA, error) {
	s := c.active.Load()
	if s == nil {
		return nil, ErrNoDocument
	}
	if !s.doc.ValidPage(page) {
		return nil, render.ErrPageOutOfRange
	}
	smallest := c.ladder.Rungs()[0]
	art, err := c.resolve(ctx, s, page, smallest, c.gen.Load(), modeWait)
	if err != nil {
		return nil, err
	}
	return render.Thumbnail(art, width), nil
}

// schedule decodes the current page and queues prefetch for generation gen.
// It runs on the coordinating goroutine.
func (c *Controller) schedule(s *session, gen uint64) {
	page, zoom, dir := c.page, c.zoom, c.direction
	c.spawn(func() {
		art, err := c.resolve(c.bg, s, page, zoom, gen, modeDeliver)
		if err != nil {
			if !errors.Is(err, errSuperseded) && c.bg.Err() == nil {
				c.log.Debug("page not delivered").Int("page", page).Err(err).Send()
			}
			return
		}
		if c.gen.Load() == gen && !art.Placeholder {
			c.emit(Event{Kind: PageReady, Page: page, Zoom: zoom, Artifact: art})
		}
	})
	c.schedulePrefetch(s, gen, page, zoom, dir)
}

func (c *Controller) schedulePrefetch(s *session, gen uint64, page int, zoom float64, dir int) {
	for i := 1; i <= c.cfg.PrefetchWindow; i++ {
		p := page + i*dir
		if !s.doc.ValidPage(p) {
			break
		}
		c.spawn(func() {
			if _, err := c.resolve(c.bg, s, p, zoom, gen, modePrefetch); err != nil &&
				!errors.Is(err, errSuperseded) && c.bg.Err() == nil {
				c.log.Debug("prefetch failed").Int("page", p).Err(err).Send()
			}
		})
	}
}

// resolve returns the artifact for page at zoom from the cache or a decode.
// Decode failures are remembered so the page is not decoded again this
// session; they resolve to a placeholder.
func (c *Controller) resolve(ctx context.Context, s *session, page int, zoom float64, gen uint64, mode fetchMode) (*render.Artifact, error) {
	key := render.Key{DocumentID: s.doc.ID, Page: page, Zoom: zoom}
	if err := s.failure(key); err != nil {
		return c.placeholder(s, key, err, mode), nil
	}

	priority := worker.PriorityInteractive
	if mode == modePrefetch {
		priority = worker.PriorityPrefetch
	}
	admit := func(k render.Key) bool {
		return c.gen.Load() == gen || c.cache.IsPinned(k)
	}
	opts := cache.PutOptions{Prefetch: mode == modePrefetch}

	art, err := c.cache.Fetch(ctx, key, c.loader(s, key, gen, priority, mode != modeWait), admit, opts)
	if errors.Is(err, errSuperseded) && mode == modeWait {
		// joined a background load that gave up; this caller still wants the page
		art, err = c.cache.Fetch(ctx, key, c.loader(s, key, gen, priority, false), admit, opts)
	}
	if err == nil {
		return art, nil
	}

	var derr *render.DecodeError
	if errors.As(err, &derr) {
		return c.placeholder(s, key, err, mode), nil
	}
	return nil, err
}

func (c *Controller) loader(s *session, key render.Key, gen uint64, priority worker.Priority, skipStale bool) cache.LoadFunc {
	return func(ctx context.Context) (*render.Artifact, error) {
		return worker.Do(ctx, c.pool, priority, func(ctx context.Context) (*render.Artifact, error) {
			if err := s.failure(key); err != nil {
				return nil, err
			}
			if skipStale && c.gen.Load() != gen && !c.cache.IsPinned(key) {
				return nil, errSuperseded
			}
			art, err := c.decode(ctx, s, key)
			var derr *render.DecodeError
			if errors.As(err, &derr) {
				// recorded before the flight completes so no caller decodes it again
				s.markFailed(key, err)
			}
			return art, err
		})
	}
}

// decode runs on a pool worker. An out-of-memory failure is retried once after
// shrinking the cache to half its budget.
func (c *Controller) decode(ctx context.Context, s *session, key render.Key) (*render.Artifact, error) {
	start := time.Now()
	art, err := c.decoder.Decode(ctx, s.doc, key.Page, key.Zoom)
	if render.Retryable(err) {
		freed := c.cache.EvictUntil(c.cache.Budget() / 2)
		c.log.Warn("decode out of memory, retrying").
			Str("key", key.String()).
			Int("evicted", freed).
			Send()
		art, err = c.decoder.Decode(ctx, s.doc, key.Page, key.Zoom)
	}

	elapsed := time.Since(start)
	c.metrics.RecordDecode(decodeOutcome(err), elapsed)
	c.log.LogDecode(key.String(), elapsed, err)
	return art, err
}

func decodeOutcome(err error) string {
	var derr *render.DecodeError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &derr):
		return derr.Kind.String()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func (c *Controller) placeholder(s *session, key render.Key, err error, mode fetchMode) *render.Artifact {
	art := render.PlaceholderFor(s.doc, key.Page, key.Zoom)
	if mode != modePrefetch {
		c.emit(Event{Kind: PageFailed, DocumentID: s.doc.ID, Page: key.Page, Zoom: key.Zoom, Artifact: art, Err: err})
	}
	return art
}
