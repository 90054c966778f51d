package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/goccy/go-json"

	"gridmap/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns a copy of the active settings
func (a *App) GetSettings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.settings
}

// SaveSettings validates and saves settings. Most take effect on restart.
func (a *App) SaveSettings(settings *config.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := config.SaveSettings(a.settingsPath, settings); err != nil {
		return err
	}
	a.settings = settings

	log.Printf("Settings saved. Cache and download settings will apply on next restart.")
	return nil
}

// SaveMapPosition remembers the current view for the next start
func (a *App) SaveMapPosition() error {
	view := a.session.View()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings.LastCenterX = view.Center.X
	a.settings.LastCenterY = view.Center.Y
	a.settings.Zoom = view.Zoom

	if err := config.SaveSettings(a.settingsPath, a.settings); err != nil {
		return err
	}

	log.Printf("Saved map position: x=%.1f, y=%.1f, zoom=%.2f", view.Center.X, view.Center.Y, view.Zoom)
	return nil
}

// setSetting changes one field, addressed by its JSON key ("zoom",
// "cache.maxSizeMB"), and validates the result. The value is parsed as JSON
// when it can be, and taken as a string otherwise.
func setSetting(s *config.Settings, key, value string) (*config.Settings, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	var v interface{}
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}

	path := strings.Split(key, ".")
	node := doc
	for _, part := range path[:len(path)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unknown setting %q", key)
		}
		node = child
	}
	last := path[len(path)-1]
	if _, ok := node[last]; !ok && !isOmittedKey(last) {
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	node[last] = v

	data, err = json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	var updated config.Settings
	if err := json.Unmarshal(data, &updated); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	return &updated, nil
}

// isOmittedKey reports keys that are left out of the JSON while zero
func isOmittedKey(key string) bool {
	return key == "lastCenterX" || key == "lastCenterY"
}

// formatSettings renders settings as indented JSON
func formatSettings(s *config.Settings) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal settings: %w", err)
	}
	return string(data), nil
}
