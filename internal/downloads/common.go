package downloads

import (
	"errors"
	"fmt"
	"time"
)

// Constants for validation and defaults
const (
	DefaultParallel        = 10 // Default number of concurrent tile fetches
	MaxParallel            = 64
	DefaultAssetTimeout    = 30 * time.Second
	DefaultExternalTimeout = 20 * time.Second
	DefaultShutdownGrace   = 5 * time.Second
)

// Error taxonomy. Every completion error wraps exactly one of these.
var (
	ErrFetchTimeout        = errors.New("tile fetch timed out")
	ErrFetchTransport      = errors.New("tile fetch failed")
	ErrDecode              = errors.New("tile decode failed")
	ErrCancelledByShutdown = errors.New("tile fetch cancelled by shutdown")

	// ErrShutdown is returned by Enqueue once the manager has been shut down
	ErrShutdown = errors.New("download manager is shut down")
)

// Options configures a Manager
type Options struct {
	// MaxParallel bounds the number of in-flight fetches (default 10)
	MaxParallel int

	// DefaultTimeout applies to jobs that carry no timeout of their own
	DefaultTimeout time.Duration

	// ShutdownGrace bounds how long Shutdown waits for in-flight fetches
	ShutdownGrace time.Duration

	// Verbose enables per-job logging
	Verbose bool

	// TrackEvent receives analytics events, may be nil
	TrackEvent func(event string, properties map[string]interface{})
}

// Validate checks option ranges
func (o Options) Validate() error {
	if o.MaxParallel < 0 || o.MaxParallel > MaxParallel {
		return fmt.Errorf("max parallel %d out of range [1, %d]", o.MaxParallel, MaxParallel)
	}
	if o.DefaultTimeout < 0 {
		return fmt.Errorf("default timeout must not be negative: %s", o.DefaultTimeout)
	}
	if o.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown grace must not be negative: %s", o.ShutdownGrace)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.MaxParallel == 0 {
		o.MaxParallel = DefaultParallel
	}
	if o.DefaultTimeout == 0 {
		o.DefaultTimeout = DefaultAssetTimeout
	}
	if o.ShutdownGrace == 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	return o
}

// Stats is a snapshot of manager counters
type Stats struct {
	Queued    int   `json:"queued"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}
