// Package session coordinates one reading session: the open document, the
// decoded-page cache, bookmarks and playback-driven navigation.
//
// All state changes run on a single coordinating goroutine fed by a FIFO
// mailbox, so navigation requests take effect in the order they were issued.
// Decodes and store writes run on a worker pool; the coordinator only waits on
// them where ordering requires it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nainya/docsession/internal/logger"
	"github.com/nainya/docsession/internal/metrics"
	"github.com/nainya/docsession/internal/worker"
	"github.com/nainya/docsession/pkg/bookmark"
	"github.com/nainya/docsession/pkg/cache"
	"github.com/nainya/docsession/pkg/document"
	"github.com/nainya/docsession/pkg/playback"
	"github.com/nainya/docsession/pkg/render"
)

var (
	// ErrNoDocument is returned by operations that need an open document
	ErrNoDocument = errors.New("session: no document open")

	// ErrShutdown is returned after Shutdown
	ErrShutdown = errors.New("session: controller shut down")

	// ErrForeignBookmark is returned for bookmarks of another document
	ErrForeignBookmark = errors.New("session: bookmark belongs to another document")

	// ErrChapterOutOfRange is returned for chapter indices outside the outline
	ErrChapterOutOfRange = errors.New("session: chapter out of range")
)

// BookmarkStore is the durable bookmark capability the controller needs
type BookmarkStore interface {
	Load(docID string) ([]bookmark.Bookmark, error)
	Get(id string) (bookmark.Bookmark, error)
	LastRead(docID string) (bookmark.Bookmark, bool, error)
	Upsert(ctx context.Context, b bookmark.Bookmark) (bookmark.Bookmark, error)
	SetLastRead(ctx context.Context, docID string, page int, offset float64) (bookmark.Bookmark, error)
	SetTitle(ctx context.Context, docID, title string) (bookmark.Bookmark, error)
	Delete(ctx context.Context, id string) error
}

// Deps are the collaborators of a Controller. Source and Store are required.
type Deps struct {
	Source document.Source
	Store  BookmarkStore

	// Decoder defaults to a render.Rasterizer over Source
	Decoder render.Decoder
	// Cache may be shared between controllers; created from Config.CacheBudget if nil
	Cache *cache.Cache
	// Pool is created and owned by the controller if nil
	Pool *worker.Pool
	// Clock is the audio playback clock; nil disables playback
	Clock playback.Clock

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// session is the per-document state shared with decode goroutines
type session struct {
	doc  *document.Document
	sync *playback.Synchronizer

	mu     sync.Mutex
	failed map[render.Key]error
}

func (s *session) failure(key render.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[key]
}

func (s *session) markFailed(key render.Key, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[key] = err
}

// Controller is the public face of the engine
type Controller struct {
	id      string // pin owner in a shared cache
	cfg     Config
	ladder  render.Ladder
	src     document.Source
	decoder render.Decoder
	store   BookmarkStore
	cache   *cache.Cache
	pool    *worker.Pool
	ownPool bool
	clock   playback.Clock
	writer  *bookmark.LastReadWriter
	log     *logger.Logger
	metrics *metrics.Metrics

	mailbox  chan func()
	quit     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	// bg is cancelled by Shutdown; background decodes run under it
	bg       context.Context
	bgCancel context.CancelFunc
	tasks    sync.WaitGroup
	spawnMu  sync.Mutex
	stopped  bool

	state  atomic.Pointer[State]
	active atomic.Pointer[session]
	gen    atomic.Uint64

	// owned by the coordinating goroutine
	page      int
	offset    float64
	zoom      float64
	direction int

	subMu        sync.Mutex
	subs         map[int]func(Event)
	nextSub      int
	events       chan Event
	eventsMu     sync.RWMutex
	eventsClosed bool
	dispatchDone chan struct{}
}

// New creates and starts a controller
func New(cfg Config, deps Deps) (*Controller, error) {
	cfg, ladder, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	if deps.Source == nil {
		return nil, errors.New("session: document source is required")
	}
	if deps.Store == nil {
		return nil, errors.New("session: bookmark store is required")
	}

	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("session")

	decoder := deps.Decoder
	if decoder == nil {
		r := render.NewRasterizer(deps.Source, ladder)
		if cfg.MaxPixels > 0 {
			r.MaxPixels = cfg.MaxPixels
		}
		decoder = r
	}

	pageCache := deps.Cache
	if pageCache == nil {
		pageCache, err = cache.New(cfg.CacheBudget, deps.Logger, deps.Metrics)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}

	pool, ownPool := deps.Pool, false
	if pool == nil {
		pool = worker.NewPool(worker.Config{Name: "session", Workers: cfg.Workers, Logger: deps.Logger})
		pool.Start()
		ownPool = true
	}

	bg, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:           uuid.NewString(),
		cfg:          cfg,
		ladder:       ladder,
		src:          deps.Source,
		decoder:      decoder,
		store:        deps.Store,
		cache:        pageCache,
		pool:         pool,
		ownPool:      ownPool,
		clock:        deps.Clock,
		log:          log,
		metrics:      deps.Metrics,
		mailbox:      make(chan func()),
		quit:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		bg:           bg,
		bgCancel:     cancel,
		direction:    1,
		subs:         make(map[int]func(Event)),
		events:       make(chan Event, eventBuffer),
		dispatchDone: make(chan struct{}),
	}
	c.writer = bookmark.NewLastReadWriter(pooledSetter{c}, bookmark.WriterOptions{
		Interval: cfg.DebounceInterval,
		OnError: func(docID string, err error) {
			c.log.Warn("reading position not saved").Str("document", docID).Err(err).Send()
			c.emit(Event{Kind: BookmarksUnsaved, DocumentID: docID, Err: err})
		},
	})
	c.state.Store(&State{})

	go c.loop()
	go c.dispatch()
	return c, nil
}

// Cache returns the page cache the controller uses
func (c *Controller) Cache() *cache.Cache { return c.cache }

// Ladder returns the zoom ladder
func (c *Controller) Ladder() render.Ladder { return c.ladder }

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.mailbox:
			fn()
		case <-c.quit:
			return
		}
	}
}

// do runs fn on the coordinating goroutine and waits for it. Calls are
// processed in the order they reach the mailbox.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.mailbox <- func() { errc <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrShutdown
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the latest session snapshot without waiting on the coordinator
func (c *Controller) State() State {
	st := *c.state.Load()
	if st.Open {
		st.Dirty = c.writer.Pending(st.DocumentID)
	}
	return st
}

func (c *Controller) publish() {
	st := State{Generation: c.gen.Load()}
	if s := c.active.Load(); s != nil {
		st.Open = true
		st.DocumentID = s.doc.ID
		st.Path = s.doc.Path
		st.PageCount = s.doc.PageCount
		st.Page = c.page
		st.Offset = c.offset
		st.Zoom = c.zoom
		if s.sync != nil && s.sync.Enabled() {
			st.Playback = &PlaybackInfo{State: s.sync.State(), Timestamp: c.clock.Position()}
		}
	}
	c.state.Store(&st)
}

// Open opens a document, closing the current one first. The reading position
// is restored from the last-read bookmark and that page is decoded before
// anything else.
func (c *Controller) Open(ctx context.Context, ref document.Ref) (State, error) {
	select {
	case <-c.quit:
		return State{}, ErrShutdown
	default:
	}

	doc, err := document.Open(ctx, c.src, ref)
	if err != nil {
		return State{}, err
	}
	if doc.TimingErr != nil {
		c.log.Warn("timing map ignored").Str("document", doc.ID).Err(doc.TimingErr).Send()
	}
	if doc.OutlineErr != nil {
		c.log.Warn("outline unavailable").Str("document", doc.ID).Err(doc.OutlineErr).Send()
	}

	page, offset := 0, 0.0
	lr, ok, err := c.store.LastRead(doc.ID)
	switch {
	case err != nil:
		c.log.Warn("reading position unavailable").Str("document", doc.ID).Err(err).Send()
	case ok && doc.ValidPage(lr.Page):
		page, offset = lr.Page, lr.Offset
	case ok:
		c.log.Warn("stale reading position ignored").
			Str("document", doc.ID).
			Int("page", lr.Page).
			Int("pages", doc.PageCount).
			Send()
	}

	s := &session{doc: doc, failed: make(map[render.Key]error)}
	if c.clock != nil {
		s.sync = playback.NewSynchronizer(doc.Timing, c.clock)
	}

	var (
		previous string
		gen      uint64
		zoom     float64
	)
	err = c.do(ctx, func() error {
		if c.active.Load() != nil {
			previous = c.detach()
		}
		c.active.Store(s)
		c.page, c.offset, c.zoom, c.direction = page, offset, c.cfg.DefaultZoom, 1
		gen, zoom = c.gen.Add(1), c.zoom

		c.cache.OpenDocument(doc.ID)
		c.pinWindow(s)
		c.publish()

		c.metrics.SessionOpened()
		c.log.LogSessionOpen(doc.ID, doc.PageCount, page)
		c.emit(Event{Kind: SessionOpened, Page: page, Zoom: zoom})
		return nil
	})
	if err != nil {
		return State{}, err
	}
	if previous != "" {
		if err := c.writer.Flush(ctx, previous); err != nil {
			c.log.Warn("previous reading position not saved").Str("document", previous).Err(err).Send()
		}
	}

	// Prime the restored page before any speculative work is queued
	art, err := c.resolve(ctx, s, page, zoom, gen, modeWait)
	if err != nil {
		if ctx.Err() != nil {
			return c.State(), err
		}
		c.log.Warn("restored page unavailable").Str("document", doc.ID).Int("page", page).Err(err).Send()
	} else if c.gen.Load() == gen {
		c.emit(Event{Kind: PageReady, Page: page, Zoom: zoom, Artifact: art})
	}
	c.schedulePrefetch(s, gen, page, zoom, 1)
	if doc.Title != "" && (!ok || lr.Label != doc.Title) {
		c.recordTitle(doc)
	}

	return c.State(), nil
}

// recordTitle stores the document title for the recently-read listing
func (c *Controller) recordTitle(doc *document.Document) {
	c.spawn(func() {
		_, err := worker.Do(c.bg, c.pool, worker.PriorityPrefetch, func(ctx context.Context) (bookmark.Bookmark, error) {
			return c.store.SetTitle(ctx, doc.ID, doc.Title)
		})
		if err != nil && c.bg.Err() == nil {
			c.log.Warn("document title not saved").Str("document", doc.ID).Err(err).Send()
		}
	})
}

// detach ends the active session. It runs on the coordinating goroutine and
// returns the closed document id.
func (c *Controller) detach() string {
	s := c.active.Swap(nil)
	if s == nil {
		return ""
	}
	c.gen.Add(1)
	if s.sync != nil {
		s.sync.Stop()
	}
	// entries stay cached but become evictable
	c.cache.Unpin(c.id, s.doc.ID)
	c.cache.CloseDocument(s.doc.ID)
	c.publish()

	c.metrics.SessionClosed()
	c.log.LogSessionClose(s.doc.ID)
	c.emit(Event{Kind: SessionClosed, DocumentID: s.doc.ID})
	return s.doc.ID
}

// Close ends the session and makes the reading position durable
func (c *Controller) Close(ctx context.Context) error {
	var docID string
	err := c.do(ctx, func() error {
		if c.active.Load() == nil {
			return ErrNoDocument
		}
		docID = c.detach()
		return nil
	})
	if err != nil {
		return err
	}
	return c.writer.Flush(ctx, docID)
}

// Flush makes the pending reading position of the open document durable
func (c *Controller) Flush(ctx context.Context) error {
	st := c.State()
	if !st.Open {
		return ErrNoDocument
	}
	return c.writer.Flush(ctx, st.DocumentID)
}

// Shutdown closes any open document, flushes pending writes and stops the
// controller. It is safe to call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	var errs []error
	if err := c.Close(ctx); err != nil && !errors.Is(err, ErrNoDocument) && !errors.Is(err, ErrShutdown) {
		errs = append(errs, err)
	}

	c.stopOnce.Do(func() {
		if err := c.writer.Close(ctx); err != nil {
			errs = append(errs, err)
		}

		close(c.quit)
		<-c.loopDone

		c.spawnMu.Lock()
		c.stopped = true
		c.spawnMu.Unlock()
		c.bgCancel()
		c.tasks.Wait()
		if c.ownPool {
			c.pool.Stop()
		}

		c.eventsMu.Lock()
		c.eventsClosed = true
		close(c.events)
		c.eventsMu.Unlock()
		<-c.dispatchDone
		c.log.Debug("controller stopped").Send()
	})
	return errors.Join(errs...)
}

// spawn runs fn in a tracked background goroutine
func (c *Controller) spawn(fn func()) {
	c.spawnMu.Lock()
	if c.stopped {
		c.spawnMu.Unlock()
		return
	}
	c.tasks.Add(1)
	c.spawnMu.Unlock()

	go func() {
		defer c.tasks.Done()
		fn()
	}()
}
