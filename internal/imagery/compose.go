package imagery

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"gridmap/internal/cache"
	"gridmap/internal/session"
)

// ComposeOptions controls how a frame is painted
type ComposeOptions struct {
	Background  color.Color
	Placeholder color.Color
	FailedColor color.Color
	TextColor   color.Color
	TextBacking color.Color
	SelfColor   color.Color
	TargetColor color.Color

	// Scaler resamples tiles into their rectangles. Defaults to ApproxBiLinear.
	Scaler xdraw.Scaler
}

// DefaultComposeOptions returns the map control colors
func DefaultComposeOptions() ComposeOptions {
	return ComposeOptions{
		Background:  color.NRGBA{0x04, 0x04, 0x4B, 0xFF},
		Placeholder: color.NRGBA{0x14, 0x14, 0x5A, 0xFF},
		FailedColor: color.NRGBA{0x3C, 0x14, 0x28, 0xFF},
		TextColor:   color.NRGBA{0xC8, 0xC8, 0xC8, 0xFF},
		TextBacking: color.NRGBA{0x00, 0x00, 0x00, 0xA0},
		SelfColor:   color.NRGBA{0x2E, 0xCC, 0x40, 0xFF},
		TargetColor: color.NRGBA{0xFF, 0x41, 0x36, 0xFF},
		Scaler:      xdraw.ApproxBiLinear,
	}
}

// Compose paints a session frame into a width x height image
func Compose(width, height int, items []session.DrawItem, opts ComposeOptions) *image.RGBA {
	if opts.Scaler == nil {
		opts.Scaler = xdraw.ApproxBiLinear
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	fillRect(dst, dst.Bounds(), opts.Background)

	for _, item := range items {
		switch item.Kind {
		case session.KindTile:
			drawTile(dst, item, opts)
		case session.KindSelf:
			drawSelf(dst, item.Rect, opts.SelfColor)
		case session.KindTarget:
			drawTarget(dst, item.Rect, opts.TargetColor)
			if item.Label != "" {
				c := centerOf(item.Rect)
				drawLabel(dst, item.Label, c.X-8, c.Y+14, color.White, opts.TextBacking)
			}
		}
	}

	return dst
}

func drawTile(dst *image.RGBA, item session.DrawItem, opts ComposeOptions) {
	switch {
	case item.Image != nil:
		opts.Scaler.Scale(dst, item.Rect, item.Image, item.Image.Bounds(), xdraw.Src, nil)
	case item.State == cache.Failed:
		fillRect(dst, item.Rect, opts.FailedColor)
	case item.State == cache.Pending:
		fillRect(dst, item.Rect, opts.Placeholder)
	}

	if item.Label != "" {
		// bottom-left corner, just inside the tile
		drawLabel(dst, item.Label, item.Rect.Min.X+2, item.Rect.Max.Y-16, opts.TextColor, opts.TextBacking)
	}
}

func drawSelf(dst *image.RGBA, r image.Rectangle, c color.Color) {
	fillRect(dst, r.Inset(2), c)
	strokeRect(dst, r, color.White, 1)
}

func drawTarget(dst *image.RGBA, r image.Rectangle, c color.Color) {
	mid := centerOf(r)
	fillRect(dst, image.Rect(r.Min.X, mid.Y-1, r.Max.X, mid.Y+1), c)
	fillRect(dst, image.Rect(mid.X-1, r.Min.Y, mid.X+1, r.Max.Y), c)
	strokeRect(dst, r, c, 1)
}

func centerOf(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	xdraw.Draw(dst, r, &image.Uniform{C: c}, image.Point{}, xdraw.Over)
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color, width int) {
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), c)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// drawLabel prints text with its top-left corner at (x, y) over a backing box
func drawLabel(dst *image.RGBA, text string, x, y int, fg, bg color.Color) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	fillRect(dst, image.Rect(x-1, y, x+w+1, y+face.Height), bg)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(x, y+face.Ascent),
	}
	d.DrawString(text)
}
