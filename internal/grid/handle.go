package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// DefaultRegionSize is the edge length of one region in meters
const DefaultRegionSize uint32 = 256

// RegionHandle packs the meter origin of a region: gridX in the high 32 bits, gridY in the low 32 bits
type RegionHandle uint64

// PackHandle builds a handle from the region origin in meters
func PackHandle(gridX, gridY uint32) RegionHandle {
	return RegionHandle(uint64(gridX)<<32 | uint64(gridY))
}

// Grid returns the region origin in meters
func (h RegionHandle) Grid() (gridX, gridY uint32) {
	return uint32(uint64(h) >> 32), uint32(uint64(h) & 0xFFFFFFFF)
}

// HandleFromIndex builds a handle from region indices (origin divided by region size)
func HandleFromIndex(ix, iy uint32, size uint32) RegionHandle {
	return PackHandle(ix*size, iy*size)
}

// Index returns the region indices, i.e. the origin divided by region size
func (h RegionHandle) Index(size uint32) (ix, iy uint32) {
	if size == 0 {
		size = DefaultRegionSize
	}
	gx, gy := h.Grid()
	return gx / size, gy / size
}

// Bound returns the world-space square covered by the region
func (h RegionHandle) Bound(size uint32) orb.Bound {
	gx, gy := h.Grid()
	min := orb.Point{float64(gx), float64(gy)}
	return orb.Bound{Min: min, Max: orb.Point{min[0] + float64(size), min[1] + float64(size)}}
}

func (h RegionHandle) String() string {
	gx, gy := h.Grid()
	return fmt.Sprintf("%d,%d", gx, gy)
}

// ParseHandle parses the "gridX,gridY" form produced by String
func ParseHandle(s string) (RegionHandle, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, fmt.Errorf("invalid region handle %q: want gridX,gridY", s)
	}
	gx, err := strconv.ParseUint(strings.TrimSpace(xs), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid region handle %q: %w", s, err)
	}
	gy, err := strconv.ParseUint(strings.TrimSpace(ys), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid region handle %q: %w", s, err)
	}
	return PackHandle(uint32(gx), uint32(gy)), nil
}

// MarshalText encodes the handle as "gridX,gridY" so JSON clients never see a 64-bit number
func (h RegionHandle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes the "gridX,gridY" form
func (h *RegionHandle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// GlobalPosition is a world-space position in meters
type GlobalPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point converts the position to an orb point
func (p GlobalPosition) Point() orb.Point {
	return orb.Point{p.X, p.Y}
}

// RegionOrigin floors v to a multiple of size. Floor, not truncation, so that
// negative positions land in the region below them.
func RegionOrigin(v float64, size uint32) float64 {
	s := float64(size)
	return math.Floor(v/s) * s
}

// GlobalToRegionHandle returns the handle of the region containing (x, y) and the
// offset inside it. Local offsets are always in [0, size). Negative origins wrap
// when packed and are never produced by the planner.
func GlobalToRegionHandle(x, y float64, size uint32) (handle RegionHandle, localX, localY float64) {
	if size == 0 {
		size = DefaultRegionSize
	}
	gx := RegionOrigin(x, size)
	gy := RegionOrigin(y, size)
	localX = x - gx
	localY = y - gy
	// x - floor(x/s)*s can round up to s for tiny negative x
	if localX >= float64(size) {
		gx += float64(size)
		localX = 0
	}
	if localY >= float64(size) {
		gy += float64(size)
		localY = 0
	}
	return PackHandle(wrap32(gx), wrap32(gy)), localX, localY
}

// GlobalFromRegion rebuilds a global position from a handle and local offset
func GlobalFromRegion(h RegionHandle, localX, localY float64) GlobalPosition {
	gx, gy := h.Grid()
	return GlobalPosition{X: float64(gx) + localX, Y: float64(gy) + localY}
}

func wrap32(v float64) uint32 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return uint32(int64(v))
}
