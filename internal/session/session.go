package session

import (
	"image"
	"log"
	"sync"

	"github.com/samber/lo"

	"gridmap/internal/cache"
	"gridmap/internal/common"
	"gridmap/internal/grid"
	"gridmap/internal/planner"
	"gridmap/internal/regions"
)

// DefaultLabelMaxZoom is the zoom below which region names are drawn on tiles
const DefaultLabelMaxZoom = 3.0

// MarkerSize is the edge of the square a marker is drawn in, in pixels
const MarkerSize = 12

// ZoomStep is the zoom change of one wheel notch
const ZoomStep = 0.25

// TileCache is the part of the tile cache a session uses
type TileCache interface {
	Request(h grid.RegionHandle, ref string) cache.TileView
	OnInvalidate(fn func(grid.RegionHandle))
	Close()
}

// TileSource maps a region to the resource reference of its tile image. It
// returns "" while the region's metadata is unknown.
type TileSource interface {
	Ref(h grid.RegionHandle) string
}

// RegionDirectory provides region metadata as it arrives
type RegionDirectory interface {
	Lookup(h grid.RegionHandle) (regions.Region, bool)
	Subscribe(fn func(regions.Region))
}

// SelfLocator reports the region the user stands in and the position inside it
type SelfLocator interface {
	Locate() (h grid.RegionHandle, localX, localY float64, ok bool)
}

// SelfLocatorFunc adapts a function to SelfLocator
type SelfLocatorFunc func() (grid.RegionHandle, float64, float64, bool)

// Locate calls f()
func (f SelfLocatorFunc) Locate() (grid.RegionHandle, float64, float64, bool) {
	return f()
}

// BlockRequester asks the grid for the metadata of a range of regions
type BlockRequester interface {
	RequestBlocks(b common.TileBounds) error
}

// Shutdowner is anything that must be stopped before the tile cache closes
type Shutdowner interface {
	Shutdown()
}

// Config wires a session to its collaborators. Viewport, Cache and Source are
// required; the rest may be nil.
type Config struct {
	Viewport *grid.Viewport
	Cache    TileCache
	Source   TileSource
	Regions  RegionDirectory
	Self     SelfLocator
	Blocks   BlockRequester
	Manager  Shutdowner

	// LabelMaxZoom hides region names at this zoom and above (default 3)
	LabelMaxZoom float64

	// Prefetch requests a region's tile as soon as its metadata arrives
	Prefetch bool

	Verbose bool
}

// Session is one map view: it plans the viewport, requests tiles and
// produces the ordered draw list for each frame
type Session struct {
	viewport *grid.Viewport
	cache    TileCache
	source   TileSource
	regions  RegionDirectory
	self     SelfLocator
	blocks   BlockRequester
	manager  Shutdowner
	tracker  *regions.BlockTracker

	labelMaxZoom float64
	prefetch     bool
	verbose      bool

	mu       sync.Mutex
	centered bool
	target   *TargetMarker

	onRedraw        func()
	onZoomChanged   func(zoom float64)
	onTargetChanged func(TargetMarker)

	closeOnce sync.Once
}

// New creates a session and subscribes it to tile invalidations and region
// arrivals
func New(cfg Config) (*Session, error) {
	if cfg.Viewport == nil {
		return nil, errMissing("viewport")
	}
	if cfg.Cache == nil {
		return nil, errMissing("tile cache")
	}
	if cfg.Source == nil {
		return nil, errMissing("tile source")
	}
	if cfg.LabelMaxZoom <= 0 {
		cfg.LabelMaxZoom = DefaultLabelMaxZoom
	}

	s := &Session{
		viewport:     cfg.Viewport,
		cache:        cfg.Cache,
		source:       cfg.Source,
		regions:      cfg.Regions,
		self:         cfg.Self,
		blocks:       cfg.Blocks,
		manager:      cfg.Manager,
		tracker:      regions.NewBlockTracker(),
		labelMaxZoom: cfg.LabelMaxZoom,
		prefetch:     cfg.Prefetch,
		verbose:      cfg.Verbose,
	}

	s.cache.OnInvalidate(func(grid.RegionHandle) { s.redraw() })
	if s.regions != nil {
		s.regions.Subscribe(s.handleRegion)
	}

	return s, nil
}

// OnRedraw sets the listener called whenever the frame needs repainting
func (s *Session) OnRedraw(fn func()) {
	s.mu.Lock()
	s.onRedraw = fn
	s.mu.Unlock()
}

// OnZoomChanged sets the listener called after an accepted zoom change
func (s *Session) OnZoomChanged(fn func(zoom float64)) {
	s.mu.Lock()
	s.onZoomChanged = fn
	s.mu.Unlock()
}

// OnTargetChanged sets the listener called when a target is set on a known region
func (s *Session) OnTargetChanged(fn func(TargetMarker)) {
	s.mu.Lock()
	s.onTargetChanged = fn
	s.mu.Unlock()
}

func (s *Session) redraw() {
	s.mu.Lock()
	fn := s.onRedraw
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// handleRegion runs for each region metadata update
func (s *Session) handleRegion(r regions.Region) {
	if s.prefetch && r.HasMapImage() {
		if ref := s.source.Ref(r.Handle); ref != "" {
			s.cache.Request(r.Handle, ref)
		}
	}
	s.redraw()
}

// Frame plans the viewport and returns what to draw, in order: tiles bottom
// row first and left to right, then the self marker, then the target marker.
// Nothing is drawn until the map has been centered.
func (s *Session) Frame() []DrawItem {
	s.mu.Lock()
	centered := s.centered
	var target *TargetMarker
	if s.target != nil {
		t := *s.target
		target = &t
	}
	s.mu.Unlock()

	if !centered {
		return nil
	}

	state := s.viewport.State()
	placements := planner.PlanState(state)
	showLabels := state.Zoom < s.labelMaxZoom

	selfHandle, selfX, selfY, selfOK := s.locateSelf()

	items := make([]DrawItem, 0, len(placements)+2)
	for _, p := range placements {
		view := s.cache.Request(p.Handle, s.source.Ref(p.Handle))
		item := DrawItem{
			Kind:    KindTile,
			Handle:  p.Handle,
			Rect:    p.Rect,
			Image:   view.Image,
			State:   view.State,
			Current: selfOK && planner.IsRegion(p.Handle, selfHandle),
		}
		if showLabels && view.State != cache.Failed {
			item.Label = s.regionName(p.Handle)
		}
		items = append(items, item)
	}

	s.requestBlocks(placements, state.RegionSize)

	if selfOK && lo.ContainsBy(placements, func(p planner.Placement) bool { return p.Handle == selfHandle }) {
		px, py := state.WorldToPixel(grid.GlobalFromRegion(selfHandle, selfX, selfY))
		items = append(items, DrawItem{
			Kind:    KindSelf,
			Handle:  selfHandle,
			Rect:    markerRect(px, py),
			Current: true,
		})
	}

	if target != nil && state.WorldBounds().Contains(target.Position.Point()) {
		px, py := state.WorldToPixel(target.Position)
		items = append(items, DrawItem{
			Kind:   KindTarget,
			Handle: target.Handle,
			Rect:   markerRect(px, py),
			Label:  target.Label,
		})
	}

	return items
}

func markerRect(px, py float64) image.Rectangle {
	x, y := int(px), int(py)
	return image.Rect(x-MarkerSize/2, y-MarkerSize/2, x+MarkerSize/2, y+MarkerSize/2)
}

func (s *Session) locateSelf() (grid.RegionHandle, float64, float64, bool) {
	if s.self == nil {
		return 0, 0, 0, false
	}
	return s.self.Locate()
}

func (s *Session) regionName(h grid.RegionHandle) string {
	if s.regions == nil {
		return ""
	}
	r, ok := s.regions.Lookup(h)
	if !ok {
		return ""
	}
	return r.Name
}

// requestBlocks asks for the metadata of the planned range once per distinct range
func (s *Session) requestBlocks(placements []planner.Placement, size uint32) {
	if s.blocks == nil {
		return
	}
	bounds, ok := planner.Bounds(placements, size)
	if !ok || !s.tracker.Mark(bounds) {
		return
	}

	go func() {
		if err := s.blocks.RequestBlocks(bounds); err != nil {
			// allow a later frame to ask again
			s.tracker.Forget(bounds)
			if s.verbose {
				log.Printf("[Session] Map block request %s failed: %v", bounds.Key(), err)
			}
		}
	}()
}

// CenterOn centers the view on a position inside a region and marks the map centered
func (s *Session) CenterOn(h grid.RegionHandle, localX, localY float64) {
	s.CenterAt(grid.GlobalFromRegion(h, localX, localY))
}

// CenterAt centers the view on a world position and marks the map centered
func (s *Session) CenterAt(pos grid.GlobalPosition) {
	s.viewport.SetCenter(pos)

	s.mu.Lock()
	s.centered = true
	s.mu.Unlock()

	s.redraw()
}

// Centered reports whether the map has been centered yet
func (s *Session) Centered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.centered
}

// Pan drags the map by a pixel delta
func (s *Session) Pan(dx, dy float64) {
	s.viewport.Pan(dx, dy)
	s.redraw()
}

// Resize sets the viewport size in pixels
func (s *Session) Resize(width, height int) {
	s.viewport.SetSize(width, height)
	s.redraw()
}

// SetZoom sets the zoom. Out-of-range values are ignored and report false.
func (s *Session) SetZoom(zoom float64) bool {
	if !s.viewport.SetZoom(zoom) {
		return false
	}

	s.mu.Lock()
	fn := s.onZoomChanged
	s.mu.Unlock()

	if fn != nil {
		fn(zoom)
	}
	s.redraw()
	return true
}

// ZoomBy changes the zoom by step meters per pixel
func (s *Session) ZoomBy(step float64) bool {
	return s.SetZoom(s.viewport.Zoom() + step)
}

// ZoomLimits returns the accepted zoom range
func (s *Session) ZoomLimits() (min, max float64) {
	return s.viewport.ZoomLimits()
}

// View returns the current viewport state
func (s *Session) View() grid.ViewState {
	return s.viewport.State()
}

// Close stops the download manager, then releases every tile
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.manager != nil {
			s.manager.Shutdown()
		}
		s.cache.Close()
	})
}
