package session

import (
	"gridmap/internal/grid"
	"gridmap/internal/utils/naming"
)

// SetTargetAtPixel places the target marker at a viewport pixel, replacing
// any earlier target. The target-changed listener fires only when the
// region under the pixel is known; the returned bool reports the same.
func (s *Session) SetTargetAtPixel(px, py float64) (TargetMarker, bool) {
	state := s.viewport.State()
	pos := state.PixelToWorld(px, py)
	h, localX, localY := grid.GlobalToRegionHandle(pos.X, pos.Y, state.RegionSize)

	marker := TargetMarker{
		Position: pos,
		Handle:   h,
		LocalX:   localX,
		LocalY:   localY,
	}

	known := false
	if s.regions != nil {
		if r, ok := s.regions.Lookup(h); ok {
			known = true
			marker.RegionName = r.Name
			marker.Label = naming.TargetLabel(r.Name, localX, localY)
		}
	}

	s.mu.Lock()
	s.target = &marker
	fn := s.onTargetChanged
	s.mu.Unlock()

	if known && fn != nil {
		fn(marker)
	}
	s.redraw()
	return marker, known
}

// Target returns the current target marker
func (s *Session) Target() (TargetMarker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return TargetMarker{}, false
	}
	return *s.target, true
}

// ClearTarget removes the target marker
func (s *Session) ClearTarget() {
	s.mu.Lock()
	s.target = nil
	s.mu.Unlock()

	s.redraw()
}
