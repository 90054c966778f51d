package naming

import (
	"fmt"
)

// GenerateSnapshotFilename creates a standardized snapshot filename
// Format: {source}_{x}_{y}_z{zoom}.{ext}, or {source}_{region}_z{zoom}.{ext}
// when the center region has a name
func GenerateSnapshotFilename(source, regionName string, centerX, centerY, zoom float64, ext string) string {
	z := SanitizeCoordinate(zoom)
	if name := SanitizeName(regionName); name != "" {
		return fmt.Sprintf("%s_%s_z%s.%s", source, name, z, ext)
	}
	return fmt.Sprintf("%s_%s_%s_z%s.%s", source, SanitizeCoordinate(centerX), SanitizeCoordinate(centerY), z, ext)
}
