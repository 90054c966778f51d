package planner

import (
	"image"
	"math"

	"gridmap/internal/common"
	"gridmap/internal/grid"
)

// Placement is one region to draw and where to draw it
type Placement struct {
	Handle grid.RegionHandle
	Rect   image.Rectangle
}

// maxIndex keeps packed origins inside 32 bits
func maxIndex(size uint32) int64 {
	return int64(math.MaxUint32) / int64(size)
}

// Plan returns the regions intersecting the viewport, bottom row first and left
// to right within a row. Rectangles of neighbouring regions share edges, so the
// result tiles the viewport with no gaps or overlaps.
func Plan(v *grid.Viewport) []Placement {
	return PlanState(v.State())
}

// PlanState plans from a viewport snapshot
func PlanState(s grid.ViewState) []Placement {
	if s.Width <= 0 || s.Height <= 0 {
		return nil
	}
	size := s.RegionSize
	if size == 0 {
		size = grid.DefaultRegionSize
	}
	edge := int64(s.EdgePixels)
	if edge < 1 {
		edge = 1
	}
	w, h := int64(s.Width), int64(s.Height)
	ratio := float64(edge) / float64(size)

	// center region index and its pixel anchor (left edge, bottom edge)
	cx := int64(math.Floor(s.Center.X / float64(size)))
	cy := int64(math.Floor(s.Center.Y / float64(size)))
	localX := s.Center.X - float64(cx)*float64(size)
	localY := s.Center.Y - float64(cy)*float64(size)
	anchorX := int64(math.Floor(float64(w)/2 - localX*ratio))
	anchorY := int64(math.Floor(float64(h)/2 + localY*ratio))

	left := func(ix int64) int64 { return anchorX + (ix-cx)*edge }
	bottom := func(iy int64) int64 { return anchorY - (iy-cy)*edge }

	// one column / row behind the visible edge, then skip what does not intersect
	startX := cx - floorDiv(anchorX, edge) - 1
	for left(startX)+edge <= 0 {
		startX++
	}
	startY := cy - floorDiv(h-anchorY, edge) - 1
	for bottom(startY)-edge >= h {
		startY++
	}

	limit := maxIndex(size)
	placements := make([]Placement, 0, int((w/edge+2)*(h/edge+2)))
	for iy := startY; bottom(iy) > 0; iy++ {
		if iy < 0 {
			continue
		}
		if iy > limit {
			break
		}
		by := bottom(iy)
		for ix := startX; left(ix) < w; ix++ {
			if ix < 0 {
				continue
			}
			if ix > limit {
				break
			}
			lx := left(ix)
			placements = append(placements, Placement{
				Handle: grid.HandleFromIndex(uint32(ix), uint32(iy), size),
				Rect:   image.Rect(int(lx), int(by-edge), int(lx+edge), int(by)),
			})
		}
	}
	return placements
}

// IsRegion reports whether h is the region the user currently stands in
func IsRegion(h, self grid.RegionHandle) bool {
	return h == self
}

// Bounds returns the region index range covered by a plan
func Bounds(placements []Placement, size uint32) (common.TileBounds, bool) {
	if len(placements) == 0 {
		return common.TileBounds{}, false
	}
	tiles := make([]common.Tile, len(placements))
	for i, p := range placements {
		tiles[i] = indexedTile{handle: p.Handle, size: size}
	}
	b, err := common.CalculateTileBounds(tiles)
	if err != nil {
		return common.TileBounds{}, false
	}
	return b, true
}

type indexedTile struct {
	handle grid.RegionHandle
	size   uint32
}

func (t indexedTile) GetColumn() int {
	ix, _ := t.handle.Index(t.size)
	return int(ix)
}

func (t indexedTile) GetRow() int {
	_, iy := t.handle.Index(t.size)
	return int(iy)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
