package fetcher

import (
	"fmt"
	"strconv"
	"strings"

	"gridmap/internal/common"
	"gridmap/internal/grid"
	"gridmap/internal/regions"
)

// DefaultExternalTemplate addresses pre-rendered region tiles by grid index
const DefaultExternalTemplate = "http://map.secondlife.com/map-1-{x}-{y}-objects.jpg"

// RegionLookup resolves region metadata by handle
type RegionLookup interface {
	Lookup(h grid.RegionHandle) (regions.Region, bool)
}

// AssetSource addresses a region's map image by its image ID. Regions whose
// metadata is unknown, that do not exist, or that have no map image get no ref.
type AssetSource struct {
	BaseURL string
	Regions RegionLookup
}

// Ref returns the texture URL for h, or "" while it cannot be built
func (s AssetSource) Ref(h grid.RegionHandle) string {
	r, ok := s.Regions.Lookup(h)
	if !ok || !r.HasMapImage() {
		return ""
	}
	return strings.TrimRight(s.BaseURL, "/") + "/?texture_id=" + r.ImageID.String()
}

// ExternalSource fills a URL template with the region's grid indices. It
// needs no region metadata.
type ExternalSource struct {
	Template   string
	RegionSize uint32
}

// Ref returns the tile URL for h
func (s ExternalSource) Ref(h grid.RegionHandle) string {
	ix, iy := h.Index(s.RegionSize)
	return strings.NewReplacer(
		"{x}", strconv.FormatUint(uint64(ix), 10),
		"{y}", strconv.FormatUint(uint64(iy), 10),
	).Replace(s.Template)
}

// TileSource maps a region to the reference of its tile image
type TileSource interface {
	Ref(h grid.RegionHandle) string
}

// NewSource builds the tile source named by mode
func NewSource(mode, assetBaseURL, externalTemplate string, regionSize uint32, lookup RegionLookup) (TileSource, error) {
	switch mode {
	case common.SourceAsset, "":
		if assetBaseURL == "" {
			return nil, fmt.Errorf("asset source requires an asset service URL")
		}
		if lookup == nil {
			return nil, fmt.Errorf("asset source requires region metadata")
		}
		return AssetSource{BaseURL: assetBaseURL, Regions: lookup}, nil
	case common.SourceExternal:
		if externalTemplate == "" {
			externalTemplate = DefaultExternalTemplate
		}
		if !strings.Contains(externalTemplate, "{x}") || !strings.Contains(externalTemplate, "{y}") {
			return nil, fmt.Errorf("external tile template must contain {x} and {y}: %q", externalTemplate)
		}
		return ExternalSource{Template: externalTemplate, RegionSize: regionSize}, nil
	default:
		return nil, fmt.Errorf("unknown tile source %q", mode)
	}
}
