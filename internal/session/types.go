package session

import (
	"fmt"
	"image"

	"gridmap/internal/cache"
	"gridmap/internal/grid"
)

// Kind says what a draw item is
type Kind int

const (
	KindTile Kind = iota
	KindSelf
	KindTarget
)

func (k Kind) String() string {
	switch k {
	case KindSelf:
		return "self"
	case KindTarget:
		return "target"
	default:
		return "tile"
	}
}

// MarshalText encodes the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// DrawItem is one thing to paint at a pixel rectangle. Image is nil for
// tiles that are not ready and for markers.
type DrawItem struct {
	Kind    Kind              `json:"kind"`
	Handle  grid.RegionHandle `json:"handle"`
	Rect    image.Rectangle   `json:"rect"`
	Image   image.Image       `json:"-"`
	State   cache.State       `json:"state"`
	Label   string            `json:"label,omitempty"`
	Current bool              `json:"current,omitempty"`
}

// TargetMarker is a position the user selected on the map
type TargetMarker struct {
	Position   grid.GlobalPosition `json:"position"`
	Handle     grid.RegionHandle   `json:"handle"`
	LocalX     float64             `json:"localX"`
	LocalY     float64             `json:"localY"`
	RegionName string              `json:"regionName,omitempty"`
	Label      string              `json:"label,omitempty"`
}

func errMissing(what string) error {
	return fmt.Errorf("session requires a %s", what)
}
