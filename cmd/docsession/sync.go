package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/docsession/pkg/document"
	"github.com/nainya/docsession/pkg/playback"
	"github.com/nainya/docsession/pkg/session"
)

var (
	syncTiming string
	syncFollow time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync <pdf> <timestamp>",
	Short: "Map an audio timestamp to a document position",
	Long: `Map an audio timestamp (e.g. 1m30s) to a page using the document's
timing sidecar (<pdf>.timing.yaml).

With --follow the command plays from the timestamp in real time and prints
each page turn until the duration elapses.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", args[1], err)
		}

		path := syncTiming
		if path == "" {
			path = document.SidecarPath(args[0])
		}
		timing, err := document.LoadTiming(path)
		if err != nil {
			return err
		}

		pos, err := timing.PositionAt(ts)
		if err != nil {
			return err
		}
		if syncFollow <= 0 {
			return output(map[string]any{
				"timestamp": ts.String(),
				"page":      pos.Page + 1,
				"offset":    pos.Offset,
				"duration":  timing.Duration().String(),
			})
		}
		return follow(cmd, args[0], timing, ts)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncTiming, "timing", "", "timing file (default: <pdf>.timing.yaml)")
	syncCmd.Flags().DurationVar(&syncFollow, "follow", 0, "play in real time for this long, printing page turns")
}

func follow(cmd *cobra.Command, pdf string, timing *playback.TimingMap, start time.Duration) error {
	ctx := cmd.Context()
	clock := newWallClock(start)

	store, err := env.openStore()
	if err != nil {
		return err
	}
	c, err := env.newController(store, clock)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Shutdown(shutdownCtx); err != nil {
			env.log.Warn("shutdown incomplete").Err(err).Send()
		}
	}()

	cancel := c.Subscribe(func(ev session.Event) {
		switch ev.Kind {
		case session.PageChanged:
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tpage %d\n", clock.Position().Truncate(time.Millisecond), ev.Page+1)
		case session.Desynchronized, session.PageFailed:
			env.log.Warn(ev.Kind.String()).Int("page", ev.Page).Err(ev.Err).Send()
		}
	})
	defer cancel()

	if _, err := c.Open(ctx, document.Ref{Path: pdf, Timing: timing}); err != nil {
		return err
	}
	if err := c.Play(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(syncFollow)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return c.Stop(ctx)
		case <-ticker.C:
			if _, err := c.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// wallClock is a playback clock that advances in real time
type wallClock struct {
	mu    sync.Mutex
	base  time.Duration
	since time.Time
}

func newWallClock(start time.Duration) *wallClock {
	return &wallClock{base: start, since: time.Now()}
}

func (c *wallClock) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base + time.Since(c.since)
}

func (c *wallClock) Seek(ts time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base, c.since = ts, time.Now()
	return nil
}
