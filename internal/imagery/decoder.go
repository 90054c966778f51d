package imagery

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"gridmap/internal/downloads"
)

// MaxTileEdge rejects images larger than this many pixels on either side
const MaxTileEdge = 4096

// Tile is a decoded region map image
type Tile struct {
	mu     sync.RWMutex
	img    image.Image
	format string
}

// Image returns the decoded image, or nil once released
func (t *Tile) Image() image.Image {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.img
}

// Format returns the codec name the tile was decoded with
func (t *Tile) Format() string {
	return t.format
}

// Release drops the pixel data
func (t *Tile) Release() {
	t.mu.Lock()
	t.img = nil
	t.mu.Unlock()
}

// Decode decodes tile bytes in any registered format (jpeg, png, gif, webp,
// bmp, tiff). Every failure wraps downloads.ErrDecode.
func Decode(data []byte) (*Tile, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", downloads.ErrDecode)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", downloads.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxTileEdge || cfg.Height > MaxTileEdge {
		return nil, fmt.Errorf("%w: unsupported size %dx%d", downloads.ErrDecode, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", downloads.ErrDecode, format, err)
	}

	return &Tile{img: img, format: format}, nil
}
