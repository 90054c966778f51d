package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"gridmap/internal/cache"
	"gridmap/internal/grid"
	"gridmap/internal/imagery"
	"gridmap/internal/session"
	"gridmap/internal/utils/naming"
)

const (
	// snapshotPoll re-plans the frame even without a redraw
	snapshotPoll = 250 * time.Millisecond

	// metadataWait is how long tiles may stay absent, waiting for region
	// metadata, before the snapshot is taken without them
	metadataWait = 3 * time.Second
)

// SnapshotOptions describe one rendered map image
type SnapshotOptions struct {
	Center  *grid.GlobalPosition
	Zoom    float64
	Width   int
	Height  int
	Out     string
	Timeout time.Duration

	// Progress draws a progress bar on stderr
	Progress bool
}

// frameProgress counts the tiles of a frame by state
type frameProgress struct {
	Total   int
	Ready   int
	Failed  int
	Pending int
	Absent  int
}

func countTiles(items []session.DrawItem) frameProgress {
	var p frameProgress
	for _, item := range items {
		if item.Kind != session.KindTile {
			continue
		}
		p.Total++
		switch item.State {
		case cache.Ready:
			p.Ready++
		case cache.Failed:
			p.Failed++
		case cache.Pending:
			p.Pending++
		default:
			p.Absent++
		}
	}
	return p
}

// Settled reports whether waiting longer can change the frame. Absent tiles
// only settle once no metadata has arrived for metadataWait.
func (p frameProgress) Settled(quietFor time.Duration) bool {
	if p.Pending > 0 {
		return false
	}
	return p.Absent == 0 || quietFor >= metadataWait
}

// Snapshot renders the map around a center to an image file, waiting until
// every visible tile has loaded or failed. It returns the written path.
func (a *App) Snapshot(ctx context.Context, opts SnapshotOptions) (string, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return "", fmt.Errorf("snapshot size must be positive, got %dx%d", opts.Width, opts.Height)
	}

	s := a.session
	s.Resize(opts.Width, opts.Height)
	if opts.Zoom != 0 && !s.SetZoom(opts.Zoom) {
		min, max := s.ZoomLimits()
		return "", fmt.Errorf("zoom %g outside %g..%g", opts.Zoom, min, max)
	}
	if opts.Center != nil {
		s.CenterAt(*opts.Center)
	} else if !s.Centered() {
		return "", fmt.Errorf("no map center given and none saved")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	redraw := make(chan struct{}, 1)
	a.SetRedrawListener(func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})
	defer a.SetRedrawListener(nil)

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("[Snapshot] tiles"),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	ticker := time.NewTicker(snapshotPoll)
	defer ticker.Stop()

	start := time.Now()
	lastChange := start
	var last frameProgress
	var items []session.DrawItem
	for {
		items = s.Frame()
		p := countTiles(items)
		if p != last {
			last = p
			lastChange = time.Now()
		}
		if bar != nil {
			bar.ChangeMax(p.Total)
			_ = bar.Set(p.Ready + p.Failed)
		}
		if p.Settled(time.Since(lastChange)) {
			break
		}

		select {
		case <-ctx.Done():
			if bar != nil {
				_ = bar.Finish()
			}
			return "", fmt.Errorf("snapshot incomplete (%d of %d tiles): %w", p.Ready+p.Failed, p.Total, ctx.Err())
		case <-redraw:
		case <-ticker.C:
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	view := s.View()
	path, err := a.snapshotPath(opts.Out, view)
	if err != nil {
		return "", err
	}

	img := imagery.Compose(view.Width, view.Height, items, imagery.DefaultComposeOptions())
	if err := imagery.SaveSnapshot(path, img, view); err != nil {
		return "", err
	}

	log.Printf("[Snapshot] Saved %s (%d ready, %d failed, %d without image) in %s",
		path, last.Ready, last.Failed, last.Absent, time.Since(start).Round(time.Millisecond))
	a.tracker.Track("snapshot_saved", map[string]interface{}{
		"width":  view.Width,
		"height": view.Height,
		"zoom":   view.Zoom,
		"tiles":  last.Total,
		"failed": last.Failed,
	})
	return path, nil
}

// snapshotPath resolves the output file. An empty path or a directory gets a
// generated name inside the snapshot directory.
func (a *App) snapshotPath(out string, view grid.ViewState) (string, error) {
	a.mu.Lock()
	dir := a.settings.SnapshotDir
	source := a.settings.TileSource
	a.mu.Unlock()

	if out != "" {
		info, err := os.Stat(out)
		if err != nil || !info.IsDir() {
			if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return "", fmt.Errorf("failed to create output directory: %w", err)
			}
			return out, nil
		}
		dir = out
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	h, _, _ := grid.GlobalToRegionHandle(view.Center.X, view.Center.Y, view.RegionSize)
	ext := strings.TrimPrefix(imagery.Extension(imagery.FormatPNG), ".")
	name := naming.GenerateSnapshotFilename(source, a.regions.Name(h), view.Center.X, view.Center.Y, view.Zoom, ext)
	return filepath.Join(dir, name), nil
}
