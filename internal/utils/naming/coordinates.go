package naming

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatLocal formats an in-region coordinate as a whole number, rounding
// halves away from zero
func FormatLocal(v float64) string {
	return strconv.FormatInt(int64(math.Round(v)), 10)
}

// TargetLabel builds the caption drawn next to the target marker:
// "{name} ({x}, {y})". It is empty while the region name is unknown.
func TargetLabel(name string, localX, localY float64) string {
	if name == "" {
		return ""
	}
	return fmt.Sprintf("%s (%s, %s)", name, FormatLocal(localX), FormatLocal(localY))
}

// SanitizeCoordinate formats a world coordinate for use in filenames.
// A leading 'm' marks negative values and the decimal point becomes 'p' for
// Windows compatibility.
func SanitizeCoordinate(coord float64) string {
	s := strconv.FormatFloat(math.Abs(coord), 'f', -1, 64)
	s = strings.Replace(s, ".", "p", 1)
	if coord < 0 {
		return "m" + s
	}
	return s
}

// SanitizeName lowercases a region name and replaces anything that is not a
// letter or digit with '_'
func SanitizeName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
