package downloads

import (
	"context"
	"time"

	"gridmap/internal/grid"
)

// Job is one tile fetch. The manager replies exactly once on Reply unless
// it is shut down first.
type Job struct {
	ID      string
	Handle  grid.RegionHandle
	Ref     string
	Timeout time.Duration
	Reply   chan<- Result
}

// Result is the completion of a Job. Err is nil on success and otherwise
// wraps ErrFetchTimeout or ErrFetchTransport.
type Result struct {
	JobID  string
	Handle grid.RegionHandle
	Ref    string
	Data   []byte
	Err    error
}

// Fetcher retrieves the bytes behind a resource reference
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FetchFunc adapts a function to Fetcher
type FetchFunc func(ctx context.Context, ref string) ([]byte, error)

// Fetch calls f(ctx, ref)
func (f FetchFunc) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return f(ctx, ref)
}
