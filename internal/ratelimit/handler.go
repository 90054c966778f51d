package ratelimit

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Backoff lists the wait after each consecutive rate-limit response from a host
type Backoff struct {
	Intervals  []time.Duration
	MaxRetries int
}

// DefaultBackoff suits a tile host: short waits, since map tiles are small
// and the user is looking at the map
func DefaultBackoff() *Backoff {
	return &Backoff{
		Intervals: []time.Duration{
			30 * time.Second,
			1 * time.Minute,
			2 * time.Minute,
			5 * time.Minute,
		},
		MaxRetries: 8,
	}
}

func (b *Backoff) interval(attempt int) time.Duration {
	if attempt < len(b.Intervals) {
		return b.Intervals[attempt]
	}
	return b.Intervals[len(b.Intervals)-1]
}

// Event describes a host that answered with a rate-limit status
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	Host         string    `json:"host"`
	StatusCode   int       `json:"statusCode"`
	RetryAttempt int       `json:"retryAttempt"`
	NextRetryAt  time.Time `json:"nextRetryAt"`
	Message      string    `json:"message"`
}

// Handler tracks rate-limited hosts. A host stays limited until its backoff
// elapses, ManualRetry is called, or it answers normally again.
type Handler struct {
	mu          sync.RWMutex
	limited     map[string]*Event
	backoff     *Backoff
	onRateLimit func(Event)
	onRetry     func(Event)
	onRecovered func(host string)
	autoRetry   bool
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHandler creates a handler. A nil backoff uses DefaultBackoff.
func NewHandler(backoff *Backoff) *Handler {
	if backoff == nil || len(backoff.Intervals) == 0 {
		backoff = DefaultBackoff()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		limited:   make(map[string]*Event),
		backoff:   backoff,
		autoRetry: true,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetOnRateLimit sets the callback for new rate-limit events
func (h *Handler) SetOnRateLimit(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = fn
}

// SetOnRetry sets the callback fired when a backoff elapses or a manual retry is requested
func (h *Handler) SetOnRetry(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRetry = fn
}

// SetOnRecovered sets the callback fired when a limited host answers normally
func (h *Handler) SetOnRecovered(fn func(host string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = fn
}

// SetAutoRetry enables or disables the retry notification after each backoff
func (h *Handler) SetAutoRetry(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoRetry = enabled
}

// IsRateLimited reports whether requests to host should wait
func (h *Handler) IsRateLimited(host string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.limited[host]
	return ok && h.now().Before(e.NextRetryAt)
}

// CheckResponse inspects a response from host and reports whether it was a
// rate-limit answer (429, 503 or 509)
func (h *Handler) CheckResponse(host string, resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 509:
		h.record(host, resp.StatusCode, retryAfter(resp.Header.Get("Retry-After")))
		return true
	default:
		h.recover(host)
		return false
	}
}

// retryAfter parses a Retry-After header given in seconds
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (h *Handler) record(host string, status int, hint time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	attempt := 0
	if prev, ok := h.limited[host]; ok {
		attempt = prev.RetryAttempt + 1
	}

	wait := h.backoff.interval(attempt)
	if hint > wait {
		wait = hint
	}
	now := h.now()

	event := Event{
		Timestamp:    now,
		Host:         host,
		StatusCode:   status,
		RetryAttempt: attempt,
		NextRetryAt:  now.Add(wait),
		Message:      fmt.Sprintf("%s answered HTTP %d; tile downloads from it pause for %s", host, status, wait),
	}
	h.limited[host] = &event

	log.Printf("[RateLimit] %s rate limited (attempt %d). Next retry at %s",
		host, attempt, event.NextRetryAt.Format(time.RFC3339))

	if h.onRateLimit != nil {
		go h.onRateLimit(event)
	}
	if h.autoRetry && attempt < h.backoff.MaxRetries {
		go h.scheduleRetry(event, wait)
	}
}

func (h *Handler) scheduleRetry(event Event, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-h.ctx.Done():
		return
	}

	h.mu.RLock()
	current, ok := h.limited[event.Host]
	stale := !ok || !current.Timestamp.Equal(event.Timestamp)
	fn := h.onRetry
	h.mu.RUnlock()

	if stale {
		return
	}

	log.Printf("[RateLimit] Backoff for %s elapsed after %s", event.Host, wait)
	if fn != nil {
		fn(event)
	}
}

func (h *Handler) recover(host string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.limited[host]; !ok {
		return
	}
	delete(h.limited, host)
	log.Printf("[RateLimit] %s recovered", host)

	if h.onRecovered != nil {
		go h.onRecovered(host)
	}
}

// ManualRetry clears the limit on host so the next request goes out immediately
func (h *Handler) ManualRetry(host string) {
	h.mu.Lock()
	event, ok := h.limited[host]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.limited, host)
	fn := h.onRetry
	h.mu.Unlock()

	log.Printf("[RateLimit] Manual retry requested for %s", host)
	if fn != nil {
		go fn(*event)
	}
}

// State returns a copy of the current event for host, or nil
func (h *Handler) State(host string) *Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if e, ok := h.limited[host]; ok {
		c := *e
		return &c
	}
	return nil
}

// Limited returns a copy of every host still inside its backoff
func (h *Handler) Limited() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	events := make([]Event, 0, len(h.limited))
	for _, e := range h.limited {
		if now.Before(e.NextRetryAt) {
			events = append(events, *e)
		}
	}
	return events
}

// Close stops pending retry timers
func (h *Handler) Close() {
	h.cancel()
}
