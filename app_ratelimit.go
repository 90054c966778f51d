package main

import (
	"gridmap/internal/cache"
	"gridmap/internal/ratelimit"
)

// Rate limit management

// ManualRetryRateLimit clears the backoff on a tile host
func (a *App) ManualRetryRateLimit(host string) {
	if a.rateLimit != nil {
		a.rateLimit.ManualRetry(host)
	}
}

// GetRateLimitStatus returns the current rate limit state for a host
func (a *App) GetRateLimitStatus(host string) *ratelimit.Event {
	if a.rateLimit != nil {
		return a.rateLimit.State(host)
	}
	return nil
}

// LimitedHosts lists every host still backing off
func (a *App) LimitedHosts() []ratelimit.Event {
	if a.rateLimit != nil {
		return a.rateLimit.Limited()
	}
	return nil
}

// Cache management

// CacheStats describes the disk cache
type CacheStats struct {
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
	MaxBytes  int64   `json:"maxBytes"`
	SizeMB    float64 `json:"sizeMB"`
	MaxMB     float64 `json:"maxMB"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	CachePath string  `json:"cachePath"`
}

// GetCacheStats returns current disk cache statistics
func (a *App) GetCacheStats() CacheStats {
	if a.disk == nil {
		return CacheStats{CachePath: cache.GetCacheDir()}
	}

	s := a.disk.Stats()
	return CacheStats{
		Entries:   s.Entries,
		SizeBytes: s.SizeBytes,
		MaxBytes:  s.MaxBytes,
		SizeMB:    float64(s.SizeBytes) / 1024 / 1024,
		MaxMB:     float64(s.MaxBytes) / 1024 / 1024,
		Hits:      s.Hits,
		Misses:    s.Misses,
		CachePath: s.Path,
	}
}

// ClearCache removes all cached tiles from disk and memory
func (a *App) ClearCache() error {
	if a.tiles != nil {
		a.tiles.Clear()
	}
	if a.disk != nil {
		return a.disk.Clear()
	}
	return nil
}

// Stats collects tile, download, disk and rate limit counters
func (a *App) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tiles":       a.tiles.Stats(),
		"downloads":   a.manager.Stats(),
		"disk":        a.GetCacheStats(),
		"rateLimited": a.LimitedHosts(),
		"regions":     a.regions.Len(),
	}
}
