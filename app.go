package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"

	"gridmap/internal/cache"
	"gridmap/internal/common"
	"gridmap/internal/config"
	"gridmap/internal/downloads"
	"gridmap/internal/fetcher"
	"gridmap/internal/grid"
	"gridmap/internal/gridfeed"
	"gridmap/internal/imagery"
	"gridmap/internal/ratelimit"
	"gridmap/internal/regions"
	"gridmap/internal/session"
	"gridmap/internal/telemetry"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// redrawDebounce coalesces bursts of tile completions into one repaint
const redrawDebounce = 50 * time.Millisecond

// App wires settings, caches, downloads and the map session together
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings     *config.Settings
	settingsPath string
	mu           sync.Mutex
	devMode      bool

	disk      *cache.PersistentTileCache
	rateLimit *ratelimit.Handler
	client    *fetcher.Client
	manager   *downloads.Manager
	tiles     *cache.TileCache
	regions   *regions.Store
	feed      *gridfeed.Client
	session   *session.Session
	tracker   *telemetry.Tracker

	redrawMu  sync.Mutex
	onRedraw  func()
	debounced func(func())

	feedDone  chan struct{}
	closeOnce sync.Once
}

// AppOptions are the command-line overrides applied on top of settings
type AppOptions struct {
	SettingsPath string
	DevMode      bool
	NoDiskCache  bool

	// Self places the user's marker at a world position
	Self *grid.GlobalPosition
}

// decodeTile adapts imagery decoding to the tile cache
func decodeTile(data []byte) (cache.Payload, error) {
	tile, err := imagery.Decode(data)
	if err != nil {
		return nil, err
	}
	return tile, nil
}

// NewApp builds every component from the settings file
func NewApp(opts AppOptions) (*App, error) {
	if opts.SettingsPath == "" {
		opts.SettingsPath = config.GetSettingsPath()
	}

	settings, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", opts.SettingsPath, err)
	}
	log.Printf("Settings loaded from: %s", opts.SettingsPath)
	log.Printf("Tile source: %s", common.DisplayName(settings.TileSource))

	verbose := settings.Verbose || opts.DevMode
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		ctx:          ctx,
		cancel:       cancel,
		settings:     settings,
		settingsPath: opts.SettingsPath,
		devMode:      opts.DevMode,
		regions:      regions.NewStore(),
		debounced:    debounce.New(redrawDebounce),
	}

	a.tracker = a.newTracker()

	// Disk cache is optional; downloads work without it
	if !opts.NoDiskCache {
		cacheDir := cache.GetCacheDir()
		disk, err := cache.NewPersistentTileCache(cacheDir, settings.Cache.MaxSizeMB, settings.Cache.TTLDays)
		if err != nil {
			log.Printf("Failed to initialize disk cache: %v", err)
		} else {
			a.disk = disk
			log.Printf("Disk cache initialized at %s (max %d MB)", cacheDir, settings.Cache.MaxSizeMB)
		}
	}

	a.rateLimit = ratelimit.NewHandler(nil)
	a.rateLimit.SetOnRateLimit(func(e ratelimit.Event) {
		log.Printf("[RateLimit] %s", e.Message)
		a.tracker.Track("rate_limited", map[string]interface{}{"host": e.Host, "status": e.StatusCode, "attempt": e.RetryAttempt})
	})

	clientOpts := fetcher.Options{
		RequestsPerSecond: settings.RequestsPerSecond,
		Burst:             settings.Burst,
		Timeout:           2 * settings.FetchTimeout(),
		RateLimit:         a.rateLimit,
		Verbose:           verbose,
	}
	if a.disk != nil {
		clientOpts.Disk = a.disk
	}
	a.client = fetcher.NewClient(clientOpts)

	a.manager, err = downloads.New(a.client, downloads.Options{
		MaxParallel:    settings.MaxParallel,
		DefaultTimeout: settings.FetchTimeout(),
		ShutdownGrace:  settings.ShutdownGrace(),
		Verbose:        verbose,
		TrackEvent:     a.tracker.Track,
	})
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("failed to create download manager: %w", err)
	}

	a.tiles, err = cache.NewTileCache(a.manager, cache.DecoderFunc(decodeTile), cache.Options{
		Timeout: settings.FetchTimeout(),
		Verbose: verbose,
	})
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	source, err := fetcher.NewSource(settings.TileSource, settings.AssetServiceURL, settings.ExternalTemplate, settings.RegionSize, a.regions)
	if err != nil {
		a.closePartial()
		return nil, err
	}

	sessionCfg := session.Config{
		Viewport:     grid.NewViewport(settings.ViewportConfig()),
		Cache:        a.tiles,
		Source:       source,
		Regions:      a.regions,
		Manager:      a.manager,
		LabelMaxZoom: settings.LabelMaxZoom,
		// external tiles need no metadata, so there is nothing to prefetch on arrival
		Prefetch: !settings.DisablePrefetch && settings.TileSource == common.SourceAsset,
		Verbose:  verbose,
	}

	if settings.GridFeedURL != "" {
		a.feed, err = gridfeed.NewClient(a.regions, gridfeed.Options{
			URL:        settings.GridFeedURL,
			RegionSize: settings.RegionSize,
			Verbose:    verbose,
		})
		if err != nil {
			a.closePartial()
			return nil, fmt.Errorf("failed to create grid feed: %w", err)
		}
		sessionCfg.Blocks = a.feed
	}

	if opts.Self != nil {
		self := *opts.Self
		size := settings.RegionSize
		sessionCfg.Self = session.SelfLocatorFunc(func() (grid.RegionHandle, float64, float64, bool) {
			h, lx, ly := grid.GlobalToRegionHandle(self.X, self.Y, size)
			return h, lx, ly, true
		})
	}

	a.session, err = session.New(sessionCfg)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("failed to create map session: %w", err)
	}
	a.session.OnRedraw(a.scheduleRedraw)
	a.session.OnZoomChanged(func(zoom float64) {
		if verbose {
			log.Printf("Zoom changed to %.2f m/px", zoom)
		}
	})
	a.session.OnTargetChanged(func(t session.TargetMarker) {
		log.Printf("Target set: %s", t.Label)
	})

	return a, nil
}

func (a *App) newTracker() *telemetry.Tracker {
	if a.settings.DisableTelemetry || PostHogKey == "" {
		return telemetry.New("", "", "", AppVersion)
	}
	homeDir, _ := os.UserHomeDir()
	id, err := telemetry.LoadInstallID(filepath.Join(homeDir, ".gridmap", "install_id"))
	if err != nil {
		log.Printf("Failed to persist install id: %v", err)
	}
	return telemetry.New(PostHogKey, PostHogHost, id, AppVersion)
}

// startup starts background work: the grid feed, when configured
func (a *App) startup() {
	a.tracker.Track("app_started", map[string]interface{}{"source": a.settings.TileSource})
	if a.feed == nil {
		return
	}
	a.feedDone = make(chan struct{})
	go func() {
		defer close(a.feedDone)
		a.feed.Run(a.ctx)
	}()
}

// SetRedrawListener sets the function called, debounced, whenever the map
// needs repainting
func (a *App) SetRedrawListener(fn func()) {
	a.redrawMu.Lock()
	a.onRedraw = fn
	a.redrawMu.Unlock()
}

func (a *App) scheduleRedraw() {
	a.debounced(func() {
		a.redrawMu.Lock()
		fn := a.onRedraw
		a.redrawMu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Session returns the map session
func (a *App) Session() *session.Session {
	return a.session
}

// closePartial releases what NewApp created before failing
func (a *App) closePartial() {
	if a.manager != nil {
		a.manager.Shutdown()
	}
	if a.tiles != nil {
		a.tiles.Close()
	}
	if a.disk != nil {
		a.disk.Close()
	}
	if a.rateLimit != nil {
		a.rateLimit.Close()
	}
	a.tracker.Close()
	a.cancel()
}

// Shutdown stops the feed, then the session (download manager before tile
// cache), then flushes the disk index and telemetry
func (a *App) Shutdown() {
	a.closeOnce.Do(func() {
		a.cancel()
		if a.feedDone != nil {
			<-a.feedDone
		}
		a.session.Close()
		if a.disk != nil {
			if err := a.disk.Close(); err != nil {
				log.Printf("Failed to write disk cache index: %v", err)
			}
		}
		a.rateLimit.Close()
		a.tracker.Close()
	})
}
