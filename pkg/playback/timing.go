package playback

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Breakpoint links an audio timestamp to a document position
type Breakpoint struct {
	At     time.Duration
	Page   int
	Offset float64 // fraction of the page in [0,1)
}

func (b Breakpoint) position() float64 {
	return float64(b.Page) + b.Offset
}

// Position is a location in the document
type Position struct {
	Page   int
	Offset float64
}

func positionOf(v float64) Position {
	page := math.Floor(v)
	off := v - page
	if off >= 1-1e-9 {
		page++
		off = 0
	}
	return Position{Page: int(page), Offset: off}
}

// TimingMap is an immutable, ordered list of breakpoints for one document.
// Timestamps and positions are both non-decreasing.
type TimingMap struct {
	points []Breakpoint
}

// NewTimingMap validates and copies breakpoints. An empty list is valid.
func NewTimingMap(points []Breakpoint) (*TimingMap, error) {
	cp := make([]Breakpoint, len(points))
	copy(cp, points)

	for i, p := range cp {
		if p.At < 0 || p.Page < 0 || p.Offset < 0 || p.Offset >= 1 {
			return nil, fmt.Errorf("%w: breakpoint %d out of range", ErrInvalidTimingMap, i)
		}
		if i == 0 {
			continue
		}
		prev := cp[i-1]
		if p.At < prev.At || p.position() < prev.position() {
			return nil, fmt.Errorf("%w: breakpoint %d goes backwards", ErrInvalidTimingMap, i)
		}
	}

	return &TimingMap{points: cp}, nil
}

// Empty reports whether the map has no breakpoints (no synchronized audio)
func (m *TimingMap) Empty() bool {
	return m == nil || len(m.points) == 0
}

// Len returns the number of breakpoints
func (m *TimingMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.points)
}

// Breakpoints returns a copy of the breakpoints
func (m *TimingMap) Breakpoints() []Breakpoint {
	if m == nil {
		return nil
	}
	cp := make([]Breakpoint, len(m.points))
	copy(cp, m.points)
	return cp
}

// Duration returns the timestamp of the last breakpoint
func (m *TimingMap) Duration() time.Duration {
	if m.Empty() {
		return 0
	}
	return m.points[len(m.points)-1].At
}

// Validate checks every breakpoint addresses a page of a document with pageCount pages
func (m *TimingMap) Validate(pageCount int) error {
	if m.Empty() {
		return nil
	}
	if last := m.points[len(m.points)-1]; last.Page >= pageCount {
		return fmt.Errorf("%w: page %d beyond document of %d pages", ErrInvalidTimingMap, last.Page, pageCount)
	}
	return nil
}

// PositionAt maps a playback timestamp to a document position by interpolating
// between the bracketing breakpoints. Timestamps outside the map clamp to its ends.
func (m *TimingMap) PositionAt(ts time.Duration) (Position, error) {
	if m.Empty() {
		return Position{}, &SyncError{Kind: NoMapping, Page: -1, Timestamp: ts}
	}

	pts := m.points
	if ts <= pts[0].At {
		return Position{Page: pts[0].Page, Offset: pts[0].Offset}, nil
	}
	last := pts[len(pts)-1]
	if ts >= last.At {
		return Position{Page: last.Page, Offset: last.Offset}, nil
	}

	// First breakpoint strictly after ts; pts[i-1].At <= ts < pts[i].At
	i := sort.Search(len(pts), func(i int) bool { return pts[i].At > ts })
	a, b := pts[i-1], pts[i]

	frac := float64(ts-a.At) / float64(b.At-a.At)
	v := a.position() + frac*(b.position()-a.position())
	return positionOf(v), nil
}

// TimestampAt maps a document position back to a playback timestamp. Positions
// outside the mapped range have no timestamp. Where several timestamps map to the
// same position the earliest is returned.
func (m *TimingMap) TimestampAt(page int, offset float64) (time.Duration, error) {
	if m.Empty() {
		return 0, &SyncError{Kind: NoMapping, Page: page}
	}

	v := float64(page) + offset
	pts := m.points
	if v < pts[0].position() || v > pts[len(pts)-1].position() {
		return 0, &SyncError{Kind: NoMapping, Page: page}
	}

	// First breakpoint at or after the position
	i := sort.Search(len(pts), func(i int) bool { return pts[i].position() >= v })
	if pts[i].position() == v {
		return pts[i].At, nil
	}
	a, b := pts[i-1], pts[i]

	frac := (v - a.position()) / (b.position() - a.position())
	return a.At + time.Duration(math.Round(frac*float64(b.At-a.At))), nil
}
