package session

import (
	"time"

	"github.com/nainya/docsession/pkg/playback"
	"github.com/nainya/docsession/pkg/render"
)

// EventKind classifies notifications to the presentation layer
type EventKind int

const (
	SessionOpened EventKind = iota + 1
	SessionClosed
	PageChanged
	PageReady
	PageFailed
	BookmarkSaved
	BookmarksUnsaved
	PlaybackChanged
	Desynchronized
)

func (k EventKind) String() string {
	switch k {
	case SessionOpened:
		return "session_opened"
	case SessionClosed:
		return "session_closed"
	case PageChanged:
		return "page_changed"
	case PageReady:
		return "page_ready"
	case PageFailed:
		return "page_failed"
	case BookmarkSaved:
		return "bookmark_saved"
	case BookmarksUnsaved:
		return "bookmarks_unsaved"
	case PlaybackChanged:
		return "playback_changed"
	case Desynchronized:
		return "desynchronized"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers in emission order
type Event struct {
	Kind       EventKind
	DocumentID string
	Page       int
	Zoom       float64

	// Artifact is set for PageReady and PageFailed (the placeholder)
	Artifact *render.Artifact
	// Err is set for failures
	Err error
	// State is the snapshot at emission time
	State State
}

// PlaybackInfo describes audio playback of the open document
type PlaybackInfo struct {
	State     playback.State
	Timestamp time.Duration
}

// State is an immutable snapshot of the session
type State struct {
	Open       bool
	DocumentID string
	Path       string
	PageCount  int
	Page       int
	Offset     float64
	Zoom       float64

	// Playback is nil when the document has no usable timing map or no clock
	Playback *PlaybackInfo

	// Dirty reports a reading position not yet durable
	Dirty bool

	// Generation advances on every navigation
	Generation uint64
}

const eventBuffer = 1024

// Subscribe registers fn for every subsequent event. Events are delivered on a
// single goroutine in emission order; fn must not call back into blocking
// controller methods. The returned function cancels the subscription.
func (c *Controller) Subscribe(fn func(Event)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Controller) emit(ev Event) {
	if ev.State == (State{}) {
		ev.State = c.State()
	}
	if ev.DocumentID == "" {
		ev.DocumentID = ev.State.DocumentID
	}

	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event buffer full, dropping event").
			Str("kind", ev.Kind.String()).
			Str("document", ev.DocumentID).
			Send()
	}
}

func (c *Controller) dispatch() {
	defer close(c.dispatchDone)
	for ev := range c.events {
		c.subMu.Lock()
		subs := make([]func(Event), 0, len(c.subs))
		for _, fn := range c.subs {
			subs = append(subs, fn)
		}
		c.subMu.Unlock()

		for _, fn := range subs {
			fn(ev)
		}
	}
}
