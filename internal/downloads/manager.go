package downloads

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Manager runs tile fetches with bounded concurrency. Jobs are admitted in
// FIFO order while a slot is free; each admitted job replies exactly once.
type Manager struct {
	fetcher Fetcher
	opts    Options
	sem     *semaphore.Weighted

	mu     sync.Mutex
	queue  []Job
	active map[string]context.CancelFunc

	// taskAdded wakes the dispatcher; capacity 1 so signals coalesce
	taskAdded chan struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc
	done       atomic.Bool

	// deliverMu is held shared while replying and exclusively once by Shutdown
	deliverMu      sync.RWMutex
	inflight       sync.WaitGroup
	dispatcherDone chan struct{}
	shutdownOnce   sync.Once

	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New creates a manager and starts its dispatcher
func New(fetcher Fetcher, opts Options) (*Manager, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid download options: %w", err)
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		fetcher:        fetcher,
		opts:           opts,
		sem:            semaphore.NewWeighted(int64(opts.MaxParallel)),
		queue:          make([]Job, 0),
		active:         make(map[string]context.CancelFunc),
		taskAdded:      make(chan struct{}, 1),
		ctx:            ctx,
		cancelFunc:     cancel,
		dispatcherDone: make(chan struct{}),
	}

	go m.dispatch()

	log.Printf("[DownloadManager] Started with %d parallel slots", opts.MaxParallel)
	return m, nil
}

// Enqueue adds a job to the back of the queue. It never blocks.
func (m *Manager) Enqueue(job Job) error {
	if job.Reply == nil {
		return fmt.Errorf("job for %s has no reply channel", job.Ref)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	m.mu.Lock()
	if m.done.Load() {
		m.mu.Unlock()
		return ErrShutdown
	}
	m.queue = append(m.queue, job)
	m.mu.Unlock()

	m.signal()

	if m.opts.Verbose {
		log.Printf("[DownloadManager] Queued %s (%s) for %s", job.ID, job.Handle, job.Ref)
	}
	return nil
}

func (m *Manager) signal() {
	select {
	case m.taskAdded <- struct{}{}:
	default:
	}
}

// dispatch admits jobs until no slot is free or the queue is empty, then sleeps
// until a job is added, a job completes or the manager shuts down.
func (m *Manager) dispatch() {
	defer close(m.dispatcherDone)

	for {
		for m.admitNext() {
		}

		select {
		case <-m.taskAdded:
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) admitNext() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil || len(m.queue) == 0 {
		return false
	}
	if !m.sem.TryAcquire(1) {
		return false
	}

	job := m.queue[0]
	m.queue[0] = Job{}
	m.queue = m.queue[1:]

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	m.active[job.ID] = cancel
	m.inflight.Add(1)

	go m.run(ctx, job, timeout)
	return true
}

func (m *Manager) run(ctx context.Context, job Job, timeout time.Duration) {
	defer m.inflight.Done()

	start := time.Now()
	data, err := m.fetcher.Fetch(ctx, job.Ref)
	err = m.classify(ctx, job, timeout, err)

	m.finish(job.ID)

	if errors.Is(err, ErrCancelledByShutdown) {
		if m.opts.Verbose {
			log.Printf("[DownloadManager] Dropped %s after shutdown", job.ID)
		}
		return
	}

	if err != nil {
		m.failed.Add(1)
		log.Printf("[DownloadManager] Fetch failed for %s: %v", job.Handle, err)
		m.trackEvent("tile_fetch_failed", map[string]interface{}{
			"timeout": errors.Is(err, ErrFetchTimeout),
		})
		data = nil
	} else {
		m.completed.Add(1)
		if m.opts.Verbose {
			log.Printf("[DownloadManager] Fetched %s (%d bytes) in %s", job.Handle, len(data), time.Since(start).Round(time.Millisecond))
		}
	}

	m.deliver(job, Result{
		JobID:  job.ID,
		Handle: job.Handle,
		Ref:    job.Ref,
		Data:   data,
		Err:    err,
	})
}

// classify maps a fetch error onto the error taxonomy
func (m *Manager) classify(ctx context.Context, job Job, timeout time.Duration, err error) error {
	if m.done.Load() || m.ctx.Err() != nil {
		return ErrCancelledByShutdown
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFetchTimeout) || errors.Is(err, ErrFetchTransport) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrFetchTimeout, job.Ref, timeout)
	}
	return fmt.Errorf("%w: %w", ErrFetchTransport, err)
}

// finish removes the job from the active set and frees its slot
func (m *Manager) finish(id string) {
	m.mu.Lock()
	cancel, ok := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()

	if ok {
		cancel()
		m.sem.Release(1)
	}
	m.signal()
}

func (m *Manager) deliver(job Job, res Result) {
	m.deliverMu.RLock()
	defer m.deliverMu.RUnlock()

	if m.done.Load() || m.ctx.Err() != nil {
		return
	}
	select {
	case <-m.ctx.Done():
	case job.Reply <- res:
		return
	}
}

func (m *Manager) trackEvent(event string, properties map[string]interface{}) {
	if m.opts.TrackEvent != nil {
		m.opts.TrackEvent(event, properties)
	}
}

// Shutdown stops the manager. Queued jobs are dropped without replies,
// in-flight fetches are cancelled and no Result is delivered once Shutdown
// returns. It waits up to the grace period for fetch goroutines to exit and
// is safe to call more than once.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		m.done.Store(true)
		dropped := len(m.queue)
		m.queue = nil
		active := len(m.active)
		m.mu.Unlock()

		m.cancelFunc()
		m.dropped.Add(int64(dropped))

		// wait for replies that started before done was set
		m.deliverMu.Lock()
		m.deliverMu.Unlock()

		<-m.dispatcherDone

		waitCh := make(chan struct{})
		go func() {
			m.inflight.Wait()
			close(waitCh)
		}()

		select {
		case <-waitCh:
		case <-time.After(m.opts.ShutdownGrace):
			log.Printf("[DownloadManager] Shutdown grace of %s elapsed with fetches still running", m.opts.ShutdownGrace)
		}

		m.trackEvent("download_manager_shutdown", map[string]interface{}{
			"dropped": dropped,
			"active":  active,
		})
		log.Printf("[DownloadManager] Shut down (dropped %d queued, cancelled %d active)", dropped, active)
	})
}

// ActiveCount returns the number of in-flight fetches
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Stats returns a snapshot of the manager counters
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	queued, active := len(m.queue), len(m.active)
	m.mu.Unlock()

	return Stats{
		Queued:    queued,
		Active:    active,
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
		Dropped:   m.dropped.Load(),
	}
}

// IsShutdown reports whether Shutdown has been called
func (m *Manager) IsShutdown() bool {
	return m.done.Load()
}
