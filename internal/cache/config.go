package cache

import (
	"os"
	"path/filepath"
	goruntime "runtime"

	"github.com/goccy/go-json"
)

// AppName names the per-user cache directory
const AppName = "gridmap"

// Config represents cache configuration
type Config struct {
	MaxSizeMB int `json:"maxSizeMB"`
	TTLDays   int `json:"ttlDays"`

	// EncodedTiles bounds the PNG-encoded tiles the tile server keeps
	EncodedTiles int `json:"encodedTiles"`
}

// DefaultEncodedTiles is the default size of the tile server's PNG cache
const DefaultEncodedTiles = 256

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSizeMB:    250, // 250 MB on disk
		TTLDays:      30,
		EncodedTiles: DefaultEncodedTiles,
	}
}

// LoadConfig reads the "cache" section of a settings file, falling back to
// defaults for anything missing
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return config, err
	}

	var fileConfig struct {
		Cache *Config `json:"cache"`
	}
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return config, err
	}

	if fileConfig.Cache != nil {
		if fileConfig.Cache.MaxSizeMB > 0 {
			config.MaxSizeMB = fileConfig.Cache.MaxSizeMB
		}
		if fileConfig.Cache.TTLDays > 0 {
			config.TTLDays = fileConfig.Cache.TTLDays
		}
		if fileConfig.Cache.EncodedTiles > 0 {
			config.EncodedTiles = fileConfig.Cache.EncodedTiles
		}
	}

	return config, nil
}

// GetCacheDir returns the OS-specific directory for downloaded tiles
func GetCacheDir() string {
	homeDir, _ := os.UserHomeDir()

	switch goruntime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Caches", AppName, "tiles")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(appData, AppName, "cache", "tiles")
	default:
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}
		return filepath.Join(cacheHome, AppName, "tiles")
	}
}
