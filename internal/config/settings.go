package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"gridmap/internal/cache"
	"gridmap/internal/common"
	"gridmap/internal/downloads"
	"gridmap/internal/fetcher"
	"gridmap/internal/grid"
	"gridmap/internal/session"
)

// Settings are the persistent map preferences
type Settings struct {
	// Tile source: "asset" or "external"
	TileSource       string `json:"tileSource"`
	AssetServiceURL  string `json:"assetServiceURL"`
	ExternalTemplate string `json:"externalTemplate"`

	// Grid feed for region metadata; empty disables it
	GridFeedURL string `json:"gridFeedURL"`

	// Map geometry and zoom (meters per pixel)
	RegionSize   uint32  `json:"regionSize"`
	Zoom         float64 `json:"zoom"`
	MinZoom      float64 `json:"minZoom"`
	MaxZoom      float64 `json:"maxZoom"`
	ZoomStep     float64 `json:"zoomStep"`
	LabelMaxZoom float64 `json:"labelMaxZoom"`

	// Downloads
	MaxParallel        int     `json:"maxParallel"`
	AssetTimeoutSec    int     `json:"assetTimeoutSec"`
	ExternalTimeoutSec int     `json:"externalTimeoutSec"`
	ShutdownGraceSec   int     `json:"shutdownGraceSec"`
	RequestsPerSecond  float64 `json:"requestsPerSecond"`
	Burst              int     `json:"burst"`
	DisablePrefetch    bool    `json:"disablePrefetch"`

	// Disk and memory cache
	Cache cache.Config `json:"cache"`

	// Snapshots
	SnapshotDir string `json:"snapshotDir"`

	// Last viewed position in world meters, restored on start when set
	LastCenterX float64 `json:"lastCenterX,omitempty"`
	LastCenterY float64 `json:"lastCenterY,omitempty"`

	DisableTelemetry bool `json:"disableTelemetry"`
	Verbose          bool `json:"verbose"`
}

// DefaultSettings returns default settings
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()

	return &Settings{
		TileSource:         common.SourceAsset,
		AssetServiceURL:    "http://asset-cdn.example.net",
		ExternalTemplate:   fetcher.DefaultExternalTemplate,
		RegionSize:         grid.DefaultRegionSize,
		Zoom:               grid.DefaultZoom,
		MinZoom:            grid.DefaultMinZoom,
		MaxZoom:            grid.DefaultMaxZoom,
		ZoomStep:           session.ZoomStep,
		LabelMaxZoom:       session.DefaultLabelMaxZoom,
		MaxParallel:        downloads.DefaultParallel,
		AssetTimeoutSec:    int(downloads.DefaultAssetTimeout / time.Second),
		ExternalTimeoutSec: int(downloads.DefaultExternalTimeout / time.Second),
		ShutdownGraceSec:   int(downloads.DefaultShutdownGrace / time.Second),
		RequestsPerSecond:  fetcher.DefaultRequestsPerSecond,
		Burst:              fetcher.DefaultBurst,
		Cache:              *cache.DefaultConfig(),
		SnapshotDir:        filepath.Join(homeDir, "Pictures", "gridmap"),
	}
}

// FetchTimeout returns the per-tile timeout for the configured source
func (s *Settings) FetchTimeout() time.Duration {
	if s.TileSource == common.SourceExternal {
		return time.Duration(s.ExternalTimeoutSec) * time.Second
	}
	return time.Duration(s.AssetTimeoutSec) * time.Second
}

// ShutdownGrace returns how long shutdown waits for in-flight downloads
func (s *Settings) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSec) * time.Second
}

// LastCenter returns the saved map center, if any
func (s *Settings) LastCenter() (grid.GlobalPosition, bool) {
	if s.LastCenterX == 0 && s.LastCenterY == 0 {
		return grid.GlobalPosition{}, false
	}
	return grid.GlobalPosition{X: s.LastCenterX, Y: s.LastCenterY}, true
}

// ViewportConfig returns the viewport parameters
func (s *Settings) ViewportConfig() grid.ViewportConfig {
	return grid.ViewportConfig{
		RegionSize: s.RegionSize,
		MinZoom:    s.MinZoom,
		MaxZoom:    s.MaxZoom,
		Zoom:       s.Zoom,
	}
}

// Validate checks the settings for values the map cannot run with
func (s *Settings) Validate() error {
	switch s.TileSource {
	case common.SourceAsset:
		if s.AssetServiceURL == "" {
			return fmt.Errorf("assetServiceURL is required for the asset tile source")
		}
	case common.SourceExternal:
	default:
		return fmt.Errorf("invalid tile source: %s (must be %s or %s)", s.TileSource, common.SourceAsset, common.SourceExternal)
	}

	if s.RegionSize == 0 {
		return fmt.Errorf("regionSize must be positive")
	}
	if s.MinZoom <= 0 || s.MaxZoom < s.MinZoom {
		return fmt.Errorf("zoom limits must satisfy 0 < minZoom <= maxZoom, got %g..%g", s.MinZoom, s.MaxZoom)
	}
	if s.Zoom < s.MinZoom || s.Zoom > s.MaxZoom {
		return fmt.Errorf("zoom %g outside %g..%g", s.Zoom, s.MinZoom, s.MaxZoom)
	}
	if s.MaxParallel < 1 || s.MaxParallel > downloads.MaxParallel {
		return fmt.Errorf("maxParallel must be between 1 and %d, got %d", downloads.MaxParallel, s.MaxParallel)
	}
	if s.AssetTimeoutSec <= 0 || s.ExternalTimeoutSec <= 0 {
		return fmt.Errorf("fetch timeouts must be positive")
	}
	if s.RequestsPerSecond <= 0 || s.Burst < 1 {
		return fmt.Errorf("requestsPerSecond and burst must be positive")
	}
	if s.Cache.MaxSizeMB <= 0 {
		return fmt.Errorf("cache.maxSizeMB must be positive")
	}
	return nil
}

// GetSettingsPath returns the settings file path
func GetSettingsPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".gridmap", "settings", "settings.json")
}

// LoadSettings reads settings from path, merging defaults into missing fields.
// A missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	cacheConfig, err := cache.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cache settings: %w", err)
	}
	settings.Cache = *cacheConfig

	// Merge with defaults for any missing fields
	defaults := DefaultSettings()
	if settings.TileSource == "" {
		settings.TileSource = defaults.TileSource
	}
	if settings.AssetServiceURL == "" {
		settings.AssetServiceURL = defaults.AssetServiceURL
	}
	if settings.ExternalTemplate == "" {
		settings.ExternalTemplate = defaults.ExternalTemplate
	}
	if settings.RegionSize == 0 {
		settings.RegionSize = defaults.RegionSize
	}
	if settings.Zoom == 0 {
		settings.Zoom = defaults.Zoom
	}
	if settings.MinZoom == 0 {
		settings.MinZoom = defaults.MinZoom
	}
	if settings.MaxZoom == 0 {
		settings.MaxZoom = defaults.MaxZoom
	}
	if settings.ZoomStep == 0 {
		settings.ZoomStep = defaults.ZoomStep
	}
	if settings.LabelMaxZoom == 0 {
		settings.LabelMaxZoom = defaults.LabelMaxZoom
	}
	if settings.MaxParallel == 0 {
		settings.MaxParallel = defaults.MaxParallel
	}
	if settings.AssetTimeoutSec == 0 {
		settings.AssetTimeoutSec = defaults.AssetTimeoutSec
	}
	if settings.ExternalTimeoutSec == 0 {
		settings.ExternalTimeoutSec = defaults.ExternalTimeoutSec
	}
	if settings.ShutdownGraceSec == 0 {
		settings.ShutdownGraceSec = defaults.ShutdownGraceSec
	}
	if settings.RequestsPerSecond == 0 {
		settings.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if settings.Burst == 0 {
		settings.Burst = defaults.Burst
	}
	if settings.SnapshotDir == "" {
		settings.SnapshotDir = defaults.SnapshotDir
	}

	return &settings, nil
}

// SaveSettings writes settings to path, creating its directory
func SaveSettings(path string, settings *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}
