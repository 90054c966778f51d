package imagery

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"gridmap/internal/downloads"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecode_Formats(t *testing.T) {
	src := solid(8, 8, color.RGBA{200, 10, 10, 255})

	tests := []struct {
		name   string
		encode func(*bytes.Buffer) error
	}{
		{"png", func(b *bytes.Buffer) error { return png.Encode(b, src) }},
		{"jpeg", func(b *bytes.Buffer) error { return jpeg.Encode(b, src, nil) }},
		{"gif", func(b *bytes.Buffer) error { return gif.Encode(b, src, nil) }},
		{"bmp", func(b *bytes.Buffer) error { return bmp.Encode(b, src) }},
		{"tiff", func(b *bytes.Buffer) error { return tiff.Encode(b, src, nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tt.encode(&buf); err != nil {
				t.Fatalf("encode: %v", err)
			}
			tile, err := Decode(buf.Bytes())
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if tile.Format() != tt.name {
				t.Errorf("Format() = %q, want %q", tile.Format(), tt.name)
			}
			if got := tile.Image().Bounds(); got != image.Rect(0, 0, 8, 8) {
				t.Errorf("bounds = %v, want 8x8", got)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	var wide bytes.Buffer
	if err := png.Encode(&wide, image.NewGray(image.Rect(0, 0, MaxTileEdge+1, 1))); err != nil {
		t.Fatalf("encode: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("<html>not found</html>")},
		{"truncated png", wide.Bytes()[:20]},
		{"too wide", wide.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile, err := Decode(tt.data)
			if !errors.Is(err, downloads.ErrDecode) {
				t.Errorf("Decode() error = %v, want ErrDecode", err)
			}
			if tile != nil {
				t.Error("Decode() returned a tile on error")
			}
		})
	}
}

func TestTile_Release(t *testing.T) {
	var buf bytes.Buffer
	png.Encode(&buf, solid(2, 2, color.White))

	tile, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	tile.Release()
	if tile.Image() != nil {
		t.Error("Image() after Release is not nil")
	}
	tile.Release()
}
