package cache

import (
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridmap/internal/downloads"
	"gridmap/internal/grid"
)

// State is the lifecycle of one tile
type State int

const (
	Absent State = iota
	Pending
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "absent"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Payload is a decoded tile image. Release drops the pixel data and is called
// exactly once, when the cache stops owning the payload.
type Payload interface {
	Image() image.Image
	Release()
}

// Decoder turns fetched bytes into a payload
type Decoder interface {
	Decode(data []byte) (Payload, error)
}

// DecoderFunc adapts a function to Decoder
type DecoderFunc func(data []byte) (Payload, error)

// Decode calls f(data)
func (f DecoderFunc) Decode(data []byte) (Payload, error) {
	return f(data)
}

// Enqueuer accepts download jobs without blocking
type Enqueuer interface {
	Enqueue(job downloads.Job) error
}

// TileView is a copy of a cache entry handed to callers
type TileView struct {
	Handle grid.RegionHandle
	State  State
	Ref    string
	Image  image.Image
	Err    error
}

// Options configures a TileCache
type Options struct {
	// Timeout is attached to every download job
	Timeout time.Duration

	// Verbose enables per-tile logging
	Verbose bool
}

const resultBuffer = 64

type entry struct {
	state   State
	ref     string
	jobID   string
	payload Payload
	err     error

	// evicted marks a Pending entry dropped by Evict or Clear. It stays as a
	// tombstone holding jobID until that job's result arrives.
	evicted bool
}

func (e *entry) view(h grid.RegionHandle) TileView {
	if e.evicted {
		return TileView{Handle: h, State: Absent}
	}
	v := TileView{Handle: h, State: e.state, Ref: e.ref, Err: e.err}
	if e.payload != nil {
		v.Image = e.payload.Image()
	}
	return v
}

// TileCache tracks the state of every requested tile. One mutex guards the
// entry map and is never held across a fetch or a decode. Tiles are kept
// until Evict, Clear or Close.
type TileCache struct {
	mu      sync.Mutex
	entries map[grid.RegionHandle]*entry
	closed  bool

	enqueuer Enqueuer
	decoder  Decoder
	opts     Options
	results  chan downloads.Result

	listenerMu sync.RWMutex
	listeners  []func(grid.RegionHandle)

	stopCollector chan struct{}
	collectorDone chan struct{}
	closeOnce     sync.Once
}

// NewTileCache creates a cache that sends jobs to enqueuer and decodes
// completed downloads with decoder. It starts the result collector.
func NewTileCache(enqueuer Enqueuer, decoder Decoder, opts Options) (*TileCache, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative: %s", opts.Timeout)
	}

	c := &TileCache{
		entries:       make(map[grid.RegionHandle]*entry),
		enqueuer:      enqueuer,
		decoder:       decoder,
		opts:          opts,
		results:       make(chan downloads.Result, resultBuffer),
		stopCollector: make(chan struct{}),
		collectorDone: make(chan struct{}),
	}

	go c.collect()

	return c, nil
}

// release drops the payload of a settled entry
func (e *entry) release() {
	if e.payload != nil {
		e.payload.Release()
		e.payload = nil
	}
}

// Request returns the tile for h, enqueueing one download if the tile is
// absent. An empty ref means the region metadata is not known yet; the tile
// stays Absent and nothing is enqueued.
func (c *TileCache) Request(h grid.RegionHandle, ref string) TileView {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return TileView{Handle: h, State: Absent}
	}

	if e, ok := c.entries[h]; ok {
		// an evicted download still in flight is taken back instead of started twice
		if e.evicted {
			if ref == "" {
				c.mu.Unlock()
				return TileView{Handle: h, State: Absent}
			}
			e.evicted = false
			v := e.view(h)
			c.mu.Unlock()
			return v
		}
		// a new ref (e.g. the region's map image changed) replaces a settled tile
		if ref == "" || e.ref == ref || e.state == Pending {
			v := e.view(h)
			c.mu.Unlock()
			return v
		}
		e.release()
	}

	if ref == "" {
		c.mu.Unlock()
		return TileView{Handle: h, State: Absent}
	}

	v := c.startLocked(h, ref)
	c.mu.Unlock()

	if v.State == Failed {
		c.notify(h)
	}
	return v
}

// startLocked creates a Pending entry and enqueues its job. When the enqueue
// fails the entry is Failed and the caller notifies after unlocking.
func (c *TileCache) startLocked(h grid.RegionHandle, ref string) TileView {
	e := &entry{state: Pending, ref: ref, jobID: uuid.NewString()}
	c.entries[h] = e

	err := c.enqueuer.Enqueue(downloads.Job{
		ID:      e.jobID,
		Handle:  h,
		Ref:     ref,
		Timeout: c.opts.Timeout,
		Reply:   c.results,
	})
	if err != nil {
		log.Printf("[TileCache] Failed to enqueue %s: %v", h, err)
		e.state = Failed
		e.err = err
	} else if c.opts.Verbose {
		log.Printf("[TileCache] Requested %s (%s)", h, ref)
	}
	return e.view(h)
}

// Peek returns the tile for h without enqueueing anything
func (c *TileCache) Peek(h grid.RegionHandle) TileView {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[h]; ok {
		return e.view(h)
	}
	return TileView{Handle: h, State: Absent}
}

// Retry re-enqueues a Failed tile. It reports whether a download was started.
func (c *TileCache) Retry(h grid.RegionHandle) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	e, ok := c.entries[h]
	if !ok || e.evicted || e.state != Failed {
		c.mu.Unlock()
		return false
	}
	v := c.startLocked(h, e.ref)
	c.mu.Unlock()

	if v.State == Failed {
		c.notify(h)
		return false
	}
	return true
}

// Evict releases the tile for h and resets it to Absent. A download still in
// flight for h is kept as a tombstone and discarded when it completes.
func (c *TileCache) Evict(h grid.RegionHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[h]; ok {
		c.evictLocked(h, e)
	}
}

func (c *TileCache) evictLocked(h grid.RegionHandle, e *entry) {
	if e.state == Pending {
		e.evicted = true
		return
	}
	e.release()
	delete(c.entries, h)
}

// Clear releases every tile
func (c *TileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for h, e := range c.entries {
		c.evictLocked(h, e)
	}
}

// OnInvalidate registers fn to be called, with no lock held, whenever a tile
// becomes Ready or Failed
func (c *TileCache) OnInvalidate(fn func(grid.RegionHandle)) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

func (c *TileCache) notify(h grid.RegionHandle) {
	c.listenerMu.RLock()
	listeners := make([]func(grid.RegionHandle), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(h)
	}
}

func (c *TileCache) collect() {
	defer close(c.collectorDone)

	for {
		select {
		case res := <-c.results:
			c.complete(res)
		case <-c.stopCollector:
			return
		}
	}
}

func (c *TileCache) isCurrent(res downloads.Result) bool {
	e, ok := c.entries[res.Handle]
	return ok && !c.closed && e.state == Pending && e.jobID == res.JobID
}

func (c *TileCache) complete(res downloads.Result) {
	c.mu.Lock()
	current := c.isCurrent(res)
	if current && c.entries[res.Handle].evicted {
		delete(c.entries, res.Handle)
		current = false
	}
	c.mu.Unlock()

	if !current {
		if c.opts.Verbose {
			log.Printf("[TileCache] Ignoring stale result for %s", res.Handle)
		}
		return
	}

	start := time.Now()
	var payload Payload
	err := res.Err
	if err == nil {
		payload, err = c.decoder.Decode(res.Data)
		if err == nil && payload == nil {
			err = fmt.Errorf("%w: decoder returned no image", downloads.ErrDecode)
		}
		if err != nil && !errors.Is(err, downloads.ErrDecode) {
			err = fmt.Errorf("%w: %w", downloads.ErrDecode, err)
		}
	}

	c.mu.Lock()
	if !c.isCurrent(res) {
		c.mu.Unlock()
		if payload != nil {
			payload.Release()
		}
		return
	}
	e := c.entries[res.Handle]
	if e.evicted {
		delete(c.entries, res.Handle)
		c.mu.Unlock()
		if payload != nil {
			payload.Release()
		}
		if c.opts.Verbose {
			log.Printf("[TileCache] Discarded result for evicted %s", res.Handle)
		}
		return
	}
	if err != nil {
		if payload != nil {
			payload.Release()
		}
		e.state = Failed
		e.err = err
	} else {
		e.state = Ready
		e.payload = payload
	}
	c.mu.Unlock()

	if err != nil {
		log.Printf("[TileCache] Tile %s failed: %v", res.Handle, err)
	} else if c.opts.Verbose {
		log.Printf("[TileCache] Tile %s ready (decoded in %s)", res.Handle, time.Since(start).Round(time.Millisecond))
	}

	c.notify(res.Handle)
}

// Stats counts tiles per state
func (c *TileCache) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := map[string]int{
		Pending.String(): 0,
		Ready.String():   0,
		Failed.String():  0,
	}
	for _, e := range c.entries {
		if e.evicted {
			continue
		}
		stats[e.state.String()]++
	}
	return stats
}

// Close stops the collector and releases every tile. Later requests return Absent.
func (c *TileCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCollector)
		<-c.collectorDone

		c.mu.Lock()
		c.closed = true
		for _, e := range c.entries {
			e.release()
		}
		c.entries = make(map[grid.RegionHandle]*entry)
		c.mu.Unlock()
	})
}
