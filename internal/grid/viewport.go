package grid

import (
	"sync"

	"github.com/paulmach/orb"
)

// Zoom limits and default, in meters per pixel
const (
	DefaultZoom    = 1.25
	DefaultMinZoom = 0.5
	DefaultMaxZoom = 6.0
)

// ViewportConfig holds the fixed parameters of a viewport
type ViewportConfig struct {
	RegionSize uint32
	MinZoom    float64
	MaxZoom    float64
	Zoom       float64
	Width      int
	Height     int
}

// DefaultViewportConfig returns the map control defaults
func DefaultViewportConfig() ViewportConfig {
	return ViewportConfig{
		RegionSize: DefaultRegionSize,
		MinZoom:    DefaultMinZoom,
		MaxZoom:    DefaultMaxZoom,
		Zoom:       DefaultZoom,
	}
}

// Viewport is the visible window onto the world grid. All methods are safe for
// concurrent use; derived values are recomputed under the same lock as zoom.
type Viewport struct {
	mu         sync.RWMutex
	regionSize uint32
	minZoom    float64
	maxZoom    float64

	center         GlobalPosition
	zoom           float64
	pixelsPerMeter float64
	edgePixels     int
	width, height  int
}

// ViewState is a consistent copy of the viewport taken under its lock
type ViewState struct {
	Center         GlobalPosition `json:"center"`
	Zoom           float64        `json:"zoom"`
	PixelsPerMeter float64        `json:"pixelsPerMeter"`
	EdgePixels     int            `json:"edgePixels"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	RegionSize     uint32         `json:"regionSize"`
}

// NewViewport creates a viewport. Bad limits fall back to defaults and an
// out-of-range initial zoom is clamped.
func NewViewport(cfg ViewportConfig) *Viewport {
	if cfg.RegionSize == 0 {
		cfg.RegionSize = DefaultRegionSize
	}
	if cfg.MinZoom <= 0 || cfg.MaxZoom < cfg.MinZoom {
		cfg.MinZoom, cfg.MaxZoom = DefaultMinZoom, DefaultMaxZoom
	}
	zoom := cfg.Zoom
	if zoom < cfg.MinZoom {
		zoom = cfg.MinZoom
	}
	if zoom > cfg.MaxZoom {
		zoom = cfg.MaxZoom
	}

	v := &Viewport{
		regionSize: cfg.RegionSize,
		minZoom:    cfg.MinZoom,
		maxZoom:    cfg.MaxZoom,
	}
	v.setSizeLocked(cfg.Width, cfg.Height)
	v.setZoomLocked(zoom)
	return v
}

// SetZoom updates the zoom. Values outside [min, max] are ignored and false is returned.
func (v *Viewport) SetZoom(zoom float64) bool {
	if zoom < v.minZoom || zoom > v.maxZoom || zoom != zoom {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setZoomLocked(zoom)
	return true
}

func (v *Viewport) setZoomLocked(zoom float64) {
	v.zoom = zoom
	v.pixelsPerMeter = 1 / zoom
	v.edgePixels = int(float64(v.regionSize) / zoom)
	if v.edgePixels < 1 {
		v.edgePixels = 1
	}
}

// Zoom returns the current zoom in meters per pixel
func (v *Viewport) Zoom() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.zoom
}

// ZoomLimits returns the accepted zoom range
func (v *Viewport) ZoomLimits() (min, max float64) {
	return v.minZoom, v.maxZoom
}

// SetCenter moves the center of the view
func (v *Viewport) SetCenter(p GlobalPosition) {
	v.mu.Lock()
	v.center = p
	v.mu.Unlock()
}

// Center returns the center of the view
func (v *Viewport) Center() GlobalPosition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.center
}

// SetSize sets the pixel dimensions. Negative values are treated as zero.
func (v *Viewport) SetSize(width, height int) {
	v.mu.Lock()
	v.setSizeLocked(width, height)
	v.mu.Unlock()
}

func (v *Viewport) setSizeLocked(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	v.width, v.height = width, height
}

// Pan moves the center by a pixel delta as a drag would: dragging right moves
// the world right (center left), dragging down moves the center north.
func (v *Viewport) Pan(dx, dy float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	// drawn scale, so the map follows the pointer at any zoom
	ratio := float64(v.edgePixels) / float64(v.regionSize)
	v.center.X -= dx / ratio
	v.center.Y += dy / ratio
}

// State returns a consistent snapshot for one frame
func (v *Viewport) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return ViewState{
		Center:         v.center,
		Zoom:           v.zoom,
		PixelsPerMeter: v.pixelsPerMeter,
		EdgePixels:     v.edgePixels,
		Width:          v.width,
		Height:         v.height,
		RegionSize:     v.regionSize,
	}
}

// RegionSize returns the region edge length in meters
func (v *Viewport) RegionSize() uint32 {
	return v.regionSize
}

// WorldToPixel converts a world position to viewport pixels
func (v *Viewport) WorldToPixel(p GlobalPosition) (px, py float64) {
	return v.State().WorldToPixel(p)
}

// PixelToWorld converts viewport pixels to a world position
func (v *Viewport) PixelToWorld(px, py float64) GlobalPosition {
	return v.State().PixelToWorld(px, py)
}

// Ratio is on-screen pixels per meter at the rounded edge length
func (s ViewState) Ratio() float64 {
	return float64(s.EdgePixels) / float64(s.RegionSize)
}

// WorldToPixel converts a world position to viewport pixels. North is up, so
// world Y grows upward while pixel Y grows downward.
func (s ViewState) WorldToPixel(p GlobalPosition) (px, py float64) {
	r := s.Ratio()
	px = float64(s.Width)/2 + (p.X-s.Center.X)*r
	py = float64(s.Height)/2 - (p.Y-s.Center.Y)*r
	return px, py
}

// PixelToWorld is the inverse of WorldToPixel
func (s ViewState) PixelToWorld(px, py float64) GlobalPosition {
	r := s.Ratio()
	return GlobalPosition{
		X: s.Center.X + (px-float64(s.Width)/2)/r,
		Y: s.Center.Y - (py-float64(s.Height)/2)/r,
	}
}

// WorldBounds returns the world-space rectangle visible in the viewport
func (s ViewState) WorldBounds() orb.Bound {
	tl := s.PixelToWorld(0, 0)
	br := s.PixelToWorld(float64(s.Width), float64(s.Height))
	return orb.Bound{
		Min: orb.Point{tl.X, br.Y},
		Max: orb.Point{br.X, tl.Y},
	}
}
