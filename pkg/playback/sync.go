package playback

import (
	"fmt"
	"sync"
	"time"
)

// State is the playback state
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Clock is the audio pipeline's playback clock
type Clock interface {
	// Position returns the current playback timestamp
	Position() time.Duration
	// Seek moves playback to ts
	Seek(ts time.Duration) error
}

// Synchronizer reconciles the audio clock with the displayed page.
// It derives every position from the timing map; the only state it keeps is the
// playback state and the page it last reported.
type Synchronizer struct {
	mu     sync.Mutex
	timing *TimingMap
	clock  Clock
	state  State
	page   int
}

// NewSynchronizer creates a stopped synchronizer for a document's timing map
func NewSynchronizer(timing *TimingMap, clock Clock) *Synchronizer {
	return &Synchronizer{timing: timing, clock: clock, state: Stopped, page: -1}
}

// Enabled reports whether playback-driven navigation is possible
func (s *Synchronizer) Enabled() bool {
	return !s.timing.Empty() && s.clock != nil
}

// State returns the current playback state
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Play transitions Stopped or Paused into Playing and returns the position the
// clock currently maps to, so a page turned by hand while paused is corrected.
func (s *Synchronizer) Play() (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled() {
		return Position{}, &SyncError{Kind: NoMapping, Page: -1}
	}
	if s.state == Playing {
		return Position{}, fmt.Errorf("%w: already playing", ErrInvalidTransition)
	}

	pos, err := s.timing.PositionAt(s.clock.Position())
	if err != nil {
		return Position{}, err
	}
	s.state = Playing
	s.page = pos.Page
	return pos, nil
}

// Pause transitions Playing into Paused
func (s *Synchronizer) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Playing {
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, s.state)
	}
	s.state = Paused
	return nil
}

// Stop transitions to Stopped from any state
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Stopped
	s.page = -1
}

// Tick samples the clock while Playing. changed reports whether the mapped page
// differs from the one last reported.
func (s *Synchronizer) Tick() (pos Position, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Playing {
		return Position{}, false, nil
	}

	pos, err = s.timing.PositionAt(s.clock.Position())
	if err != nil {
		return Position{}, false, err
	}
	changed = pos.Page != s.page
	s.page = pos.Page
	return pos, changed, nil
}

// ManualTurn reconciles a user page turn. While Playing the clock seeks to the
// start of the page; if the page has no timestamp playback pauses and a
// Desynchronized error is returned. In other states nothing happens: Play
// re-derives the page from the clock.
func (s *Synchronizer) ManualTurn(page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Playing {
		return nil
	}

	ts, err := s.timing.TimestampAt(page, 0)
	if err != nil {
		s.state = Paused
		return &SyncError{Kind: Desynchronized, Page: page, Timestamp: s.clock.Position()}
	}
	if err := s.clock.Seek(ts); err != nil {
		s.state = Paused
		return fmt.Errorf("%w: seek failed: %v", &SyncError{Kind: Desynchronized, Page: page, Timestamp: ts}, err)
	}
	s.page = page
	return nil
}

// ManualClock is a Clock driven explicitly by the host
type ManualClock struct {
	mu  sync.Mutex
	pos time.Duration
}

// Position returns the current timestamp
func (c *ManualClock) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Seek sets the current timestamp
func (c *ManualClock) Seek(ts time.Duration) error {
	if ts < 0 {
		return fmt.Errorf("negative timestamp %s", ts)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = ts
	return nil
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos += d
}
