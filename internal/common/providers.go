package common

// Tile source identifiers used in settings and logs
const (
	// SourceAsset fetches region map images by their image ID from the asset service
	SourceAsset = "asset"

	// SourceExternal fetches pre-rendered tiles addressed by region index
	SourceExternal = "external"

	// DisplayNameAsset is the human-readable name of SourceAsset
	DisplayNameAsset = "Region map images"

	// DisplayNameExternal is the human-readable name of SourceExternal
	DisplayNameExternal = "External map tiles"
)

// DisplayName returns the human-readable name of a tile source
func DisplayName(source string) string {
	switch source {
	case SourceExternal:
		return DisplayNameExternal
	default:
		return DisplayNameAsset
	}
}
