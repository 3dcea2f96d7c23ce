package playback

import (
	"errors"
	"math"
	"testing"
	"time"
)

func mustMap(t *testing.T, pts []Breakpoint) *TimingMap {
	t.Helper()
	m, err := NewTimingMap(pts)
	if err != nil {
		t.Fatalf("NewTimingMap: %v", err)
	}
	return m
}

func sampleMap(t *testing.T) *TimingMap {
	return mustMap(t, []Breakpoint{
		{At: 0, Page: 0},
		{At: 10 * time.Second, Page: 5},
		{At: 20 * time.Second, Page: 10},
	})
}

func TestPositionAtInterpolates(t *testing.T) {
	m := sampleMap(t)

	tests := []struct {
		ts         time.Duration
		wantPage   int
		wantOffset float64
	}{
		{0, 0, 0},
		{5 * time.Second, 2, 0.5},
		{10 * time.Second, 5, 0},
		{15 * time.Second, 7, 0.5},
		{20 * time.Second, 10, 0},
		{time.Minute, 10, 0}, // clamps past the end
	}

	for _, tt := range tests {
		pos, err := m.PositionAt(tt.ts)
		if err != nil {
			t.Fatalf("PositionAt(%s): %v", tt.ts, err)
		}
		if pos.Page != tt.wantPage || math.Abs(pos.Offset-tt.wantOffset) > 1e-9 {
			t.Errorf("PositionAt(%s) = %+v, want page %d offset %v", tt.ts, pos, tt.wantPage, tt.wantOffset)
		}
	}
}

func TestTimestampAt(t *testing.T) {
	m := sampleMap(t)

	ts, err := m.TimestampAt(5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ts != 10*time.Second {
		t.Errorf("TimestampAt(5,0) = %s, want 10s", ts)
	}

	ts, err = m.TimestampAt(2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if ts != 5*time.Second {
		t.Errorf("TimestampAt(2,0.5) = %s, want 5s", ts)
	}

	if _, err := m.TimestampAt(11, 0); !errors.Is(err, ErrNoMapping) {
		t.Errorf("Expected ErrNoMapping beyond the map, got %v", err)
	}
}

func TestRoundTripWithinTolerance(t *testing.T) {
	m := sampleMap(t)
	for ts := time.Duration(0); ts <= 20*time.Second; ts += 750 * time.Millisecond {
		pos, err := m.PositionAt(ts)
		if err != nil {
			t.Fatal(err)
		}
		back, err := m.TimestampAt(pos.Page, pos.Offset)
		if err != nil {
			t.Fatal(err)
		}
		if d := back - ts; d > time.Millisecond || d < -time.Millisecond {
			t.Errorf("round trip %s -> %+v -> %s", ts, pos, back)
		}
	}
}

func TestPlateauReturnsEarliestTimestamp(t *testing.T) {
	// Audio keeps playing on page 3 between 10s and 30s
	m := mustMap(t, []Breakpoint{
		{At: 0, Page: 0},
		{At: 10 * time.Second, Page: 3},
		{At: 30 * time.Second, Page: 3},
		{At: 40 * time.Second, Page: 4},
	})

	ts, err := m.TimestampAt(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ts != 10*time.Second {
		t.Errorf("Expected earliest timestamp 10s, got %s", ts)
	}

	pos, _ := m.PositionAt(20 * time.Second)
	if pos.Page != 3 || pos.Offset != 0 {
		t.Errorf("Expected page 3 during plateau, got %+v", pos)
	}
}

func TestEmptyMapHasNoMapping(t *testing.T) {
	m := mustMap(t, nil)

	if !m.Empty() {
		t.Fatal("expected empty map")
	}
	if _, err := m.PositionAt(time.Second); !errors.Is(err, ErrNoMapping) {
		t.Errorf("Expected ErrNoMapping, got %v", err)
	}
	if _, err := m.TimestampAt(0, 0); !errors.Is(err, ErrNoMapping) {
		t.Errorf("Expected ErrNoMapping, got %v", err)
	}

	var nilMap *TimingMap
	if _, err := nilMap.PositionAt(0); !errors.Is(err, ErrNoMapping) {
		t.Errorf("nil map should behave as empty, got %v", err)
	}
}

func TestNewTimingMapRejectsNonMonotonic(t *testing.T) {
	tests := []struct {
		name string
		pts  []Breakpoint
	}{
		{"time backwards", []Breakpoint{{At: 10 * time.Second, Page: 1}, {At: 5 * time.Second, Page: 2}}},
		{"page backwards", []Breakpoint{{At: 0, Page: 4}, {At: time.Second, Page: 2}}},
		{"offset out of range", []Breakpoint{{At: 0, Page: 0, Offset: 1}}},
		{"negative page", []Breakpoint{{At: 0, Page: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTimingMap(tt.pts); !errors.Is(err, ErrInvalidTimingMap) {
				t.Errorf("Expected ErrInvalidTimingMap, got %v", err)
			}
		})
	}
}

func TestValidateAgainstPageCount(t *testing.T) {
	m := sampleMap(t)
	if err := m.Validate(11); err != nil {
		t.Errorf("11 pages should fit: %v", err)
	}
	if err := m.Validate(10); !errors.Is(err, ErrInvalidTimingMap) {
		t.Errorf("Expected ErrInvalidTimingMap for 10 pages, got %v", err)
	}
}

func TestSynchronizerStateMachine(t *testing.T) {
	clock := &ManualClock{}
	s := NewSynchronizer(sampleMap(t), clock)

	if s.State() != Stopped {
		t.Fatalf("Expected Stopped, got %s", s.State())
	}
	if err := s.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Pause while stopped: expected ErrInvalidTransition, got %v", err)
	}

	pos, err := s.Play()
	if err != nil {
		t.Fatal(err)
	}
	if pos.Page != 0 {
		t.Errorf("Expected page 0, got %d", pos.Page)
	}
	if _, err := s.Play(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Play while playing: expected ErrInvalidTransition, got %v", err)
	}

	clock.Advance(6 * time.Second)
	pos, changed, err := s.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if !changed || pos.Page != 3 {
		t.Errorf("Expected change to page 3, got %+v changed=%v", pos, changed)
	}
	if _, changed, _ := s.Tick(); changed {
		t.Error("second tick without clock movement must not report a change")
	}

	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	if _, changed, _ := s.Tick(); changed {
		t.Error("ticks while paused must be ignored")
	}

	// Manual navigation while paused is corrected on resume
	if err := s.ManualTurn(9); err != nil {
		t.Fatal(err)
	}
	pos, err = s.Play()
	if err != nil {
		t.Fatal(err)
	}
	if pos.Page != 3 {
		t.Errorf("Expected resume to re-derive page 3, got %d", pos.Page)
	}

	s.Stop()
	if s.State() != Stopped {
		t.Errorf("Expected Stopped, got %s", s.State())
	}
}

func TestManualTurnWhilePlayingSeeksClock(t *testing.T) {
	clock := &ManualClock{}
	s := NewSynchronizer(sampleMap(t), clock)
	if _, err := s.Play(); err != nil {
		t.Fatal(err)
	}

	if err := s.ManualTurn(5); err != nil {
		t.Fatal(err)
	}
	if clock.Position() != 10*time.Second {
		t.Errorf("Expected clock at 10s, got %s", clock.Position())
	}
	if s.State() != Playing {
		t.Errorf("Expected still playing, got %s", s.State())
	}
}

func TestManualTurnWithoutMappingDesynchronizes(t *testing.T) {
	clock := &ManualClock{}
	s := NewSynchronizer(sampleMap(t), clock)
	if _, err := s.Play(); err != nil {
		t.Fatal(err)
	}

	err := s.ManualTurn(12)
	if !errors.Is(err, ErrDesynchronized) {
		t.Fatalf("Expected ErrDesynchronized, got %v", err)
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Page != 12 {
		t.Errorf("Expected SyncError for page 12, got %v", err)
	}
	if s.State() != Paused {
		t.Errorf("Expected Paused after desync, got %s", s.State())
	}
}

func TestSynchronizerDisabledWithoutTiming(t *testing.T) {
	s := NewSynchronizer(mustMap(t, nil), &ManualClock{})
	if s.Enabled() {
		t.Fatal("expected synchronizer to be disabled")
	}
	if _, err := s.Play(); !errors.Is(err, ErrNoMapping) {
		t.Errorf("Expected ErrNoMapping, got %v", err)
	}
}
