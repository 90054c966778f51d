package telemetry

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

// Tracker sends usage events to PostHog. Without a key it does nothing.
type Tracker struct {
	client     posthog.Client
	distinctID string
	version    string

	mu     sync.Mutex
	closed bool
}

// New creates a tracker. An empty key disables tracking.
func New(key, host, distinctID, version string) *Tracker {
	t := &Tracker{distinctID: distinctID, version: version}
	if key == "" {
		return t
	}

	client, err := posthog.NewWithConfig(key, posthog.Config{Endpoint: host})
	if err != nil {
		log.Printf("[Telemetry] Failed to initialize PostHog: %v", err)
		return t
	}
	t.client = client
	return t
}

// Enabled reports whether events are sent anywhere
func (t *Tracker) Enabled() bool {
	return t != nil && t.client != nil
}

// Track enqueues an event. It matches the trackEvent callback shape used
// across the app.
func (t *Tracker) Track(event string, props map[string]interface{}) {
	if !t.Enabled() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	properties := posthog.NewProperties().
		Set("os", goruntime.GOOS).
		Set("arch", goruntime.GOARCH).
		Set("version", t.version)
	for k, v := range props {
		properties.Set(k, v)
	}

	if err := t.client.Enqueue(posthog.Capture{
		DistinctId: t.distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		log.Printf("[Telemetry] Failed to enqueue %s: %v", event, err)
	}
}

// Close flushes pending events
func (t *Tracker) Close() error {
	if !t.Enabled() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.client.Close()
}

// LoadInstallID returns the anonymous install ID stored at path, creating it
// on first use
func LoadInstallID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id.String(), nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return id, fmt.Errorf("failed to create install id directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return id, fmt.Errorf("failed to write install id: %w", err)
	}
	return id, nil
}
