package imagery

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"gridmap/internal/grid"
)

// Snapshot formats
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatTIFF = "tiff"
)

// FormatFromPath picks an output format from a file extension, defaulting to PNG
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".tif", ".tiff":
		return FormatTIFF
	default:
		return FormatPNG
	}
}

// Extension returns the file extension for a format, including the dot
func Extension(format string) string {
	switch format {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tif"
	default:
		return ".png"
	}
}

// Encode writes img to w in the given format
func Encode(w io.Writer, img image.Image, format string) error {
	var err error
	switch format {
	case FormatPNG, "":
		err = (&png.Encoder{CompressionLevel: png.DefaultCompression}).Encode(w, img)
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return fmt.Errorf("unsupported snapshot format %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return nil
}

// WorldFile returns the six-line world file that ties snapshot pixels to grid
// meters: pixel size in X, two rotation terms, negative pixel size in Y, then
// the center of the top-left pixel.
func WorldFile(state grid.ViewState) string {
	pixel := 1 / state.Ratio()
	bounds := state.WorldBounds()
	x := bounds.Min[0] + pixel/2
	y := bounds.Max[1] - pixel/2
	return fmt.Sprintf("%.6f\n0.000000\n0.000000\n%.6f\n%.6f\n%.6f\n", pixel, -pixel, x, y)
}

// worldFileExt follows the usual convention: first and last letter of the
// image extension plus "w"
func worldFileExt(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if len(ext) < 2 {
		return ".wld"
	}
	return "." + ext[:1] + ext[len(ext)-1:] + "w"
}

// SaveSnapshot writes img to path, choosing the format from the extension, and
// a world file alongside it
func SaveSnapshot(path string, img image.Image, state grid.ViewState) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := Encode(f, img, FormatFromPath(path)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	worldPath := strings.TrimSuffix(path, filepath.Ext(path)) + worldFileExt(path)
	if err := os.WriteFile(worldPath, []byte(WorldFile(state)), 0644); err != nil {
		return fmt.Errorf("failed to write world file: %w", err)
	}
	return nil
}
