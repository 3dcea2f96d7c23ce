package session

import (
	"fmt"
	"time"

	"github.com/nainya/docsession/pkg/bookmark"
	"github.com/nainya/docsession/pkg/render"
)

// Config holds the settings recognized at controller construction
type Config struct {
	// CacheBudget bounds decoded pages in memory, in bytes
	CacheBudget int64
	// PrefetchWindow is how many pages ahead are decoded speculatively
	PrefetchWindow int
	// PinRadius is the number of pages each side of the current one that are
	// never evicted. Negative means PrefetchWindow.
	PinRadius int
	// DebounceInterval spaces last-read writes during continuous navigation
	DebounceInterval time.Duration
	// ZoomLadder lists the supported zoom factors
	ZoomLadder []float64
	// DefaultZoom is the zoom a document opens at; snapped to the ladder
	DefaultZoom float64
	// Workers sizes the decode pool when the controller creates it
	Workers int
	// MaxPixels caps a single decoded page for the default rasterizer
	MaxPixels int64
}

// DefaultConfig returns the stock configuration
func DefaultConfig() Config {
	return Config{
		CacheBudget:      256 << 20,
		PrefetchWindow:   2,
		PinRadius:        -1,
		DebounceInterval: bookmark.DefaultDebounceInterval,
		ZoomLadder:       render.DefaultLadder().Rungs(),
		DefaultZoom:      1,
		MaxPixels:        render.DefaultMaxPixels,
	}
}

// normalize validates cfg and fills derived values
func (cfg Config) normalize() (Config, render.Ladder, error) {
	if cfg.CacheBudget <= 0 {
		return cfg, render.Ladder{}, fmt.Errorf("session: cache budget must be positive, got %d", cfg.CacheBudget)
	}
	if cfg.PrefetchWindow < 0 {
		return cfg, render.Ladder{}, fmt.Errorf("session: negative prefetch window %d", cfg.PrefetchWindow)
	}
	if cfg.PinRadius < 0 {
		cfg.PinRadius = cfg.PrefetchWindow
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = bookmark.DefaultDebounceInterval
	}

	rungs := cfg.ZoomLadder
	if len(rungs) == 0 {
		rungs = render.DefaultLadder().Rungs()
	}
	ladder, err := render.NewLadder(rungs)
	if err != nil {
		return cfg, render.Ladder{}, fmt.Errorf("session: %w", err)
	}
	if cfg.DefaultZoom <= 0 {
		cfg.DefaultZoom = 1
	}
	cfg.DefaultZoom = ladder.Snap(cfg.DefaultZoom)
	cfg.ZoomLadder = ladder.Rungs()
	return cfg, ladder, nil
}
