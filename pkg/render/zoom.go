package render

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Ladder is the ordered set of zoom factors the decoder accepts. Keeping zoom
// discrete bounds the number of distinct cache keys per page.
type Ladder struct {
	rungs []float64
}

// DefaultLadder returns 0.5, 0.75, 1, 1.5, 2, 3
func DefaultLadder() Ladder {
	return Ladder{rungs: []float64{0.5, 0.75, 1, 1.5, 2, 3}}
}

// NewLadder validates and sorts zoom factors
func NewLadder(rungs []float64) (Ladder, error) {
	if len(rungs) == 0 {
		return Ladder{}, fmt.Errorf("zoom ladder: no rungs")
	}
	out := append([]float64(nil), rungs...)
	sort.Float64s(out)
	for i, z := range out {
		if z <= 0 || math.IsInf(z, 0) || math.IsNaN(z) {
			return Ladder{}, fmt.Errorf("zoom ladder: invalid factor %v", z)
		}
		if i > 0 && out[i-1] == z {
			return Ladder{}, fmt.Errorf("zoom ladder: duplicate factor %v", z)
		}
	}
	return Ladder{rungs: out}, nil
}

// Rungs returns a copy of the factors in ascending order
func (l Ladder) Rungs() []float64 {
	return append([]float64(nil), l.rungs...)
}

// Contains reports whether zoom is exactly a rung
func (l Ladder) Contains(zoom float64) bool {
	for _, z := range l.rungs {
		if z == zoom {
			return true
		}
	}
	return false
}

// Snap returns the rung closest to zoom, preferring the smaller on ties
func (l Ladder) Snap(zoom float64) float64 {
	if len(l.rungs) == 0 {
		return zoom
	}
	best := l.rungs[0]
	for _, z := range l.rungs[1:] {
		if math.Abs(z-zoom) < math.Abs(best-zoom) {
			best = z
		}
	}
	return best
}

// Key identifies one decoded page at one zoom level
type Key struct {
	DocumentID string
	Page       int
	Zoom       float64
}

func (k Key) String() string {
	return k.DocumentID + "/" + strconv.Itoa(k.Page) + "@" + strconv.FormatFloat(k.Zoom, 'g', -1, 64)
}
