// Package concurrency provides a single process-wide semaphore over LLM
// calls. It must be constructed explicitly by the process entry point and
// injected into every LLMClient; default construction (NewController with a
// small capacity) is permitted only in tests, never as a package-level
// singleton reached via ambient lookup.
package concurrency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrConcurrencyLimit is returned by Acquire when the timeout elapses before
// a permit becomes available.
var ErrConcurrencyLimit = errors.New("concurrency: acquire timed out")

// Stats is a snapshot of Controller counters, exposed for health/metrics
// endpoints.
type Stats struct {
	Capacity         int
	Active           int
	Waiting          int
	TotalAcquired    int64
	TotalTimeouts    int64
	TotalRateLimits  int64
}

// Controller is a weighted semaphore bounding the number of in-flight LLM
// calls across every engine in the process. Safe for concurrent use; the
// only mutable state is protected by mu, and acquisition itself is
// implemented with a buffered channel used as a counting semaphore.
type Controller struct {
	capacity int
	sem      chan struct{}

	mu              sync.Mutex
	active          int
	waiting         int
	totalAcquired   int64
	totalTimeouts   int64
	totalRateLimits int64

	activeGauge  prometheus.Gauge
	waitingGauge prometheus.Gauge
	acquiredCtr  prometheus.Counter
	timeoutCtr   prometheus.Counter
	rateLimitCtr prometheus.Counter
}

// NewController constructs a ConcurrencyController with the given capacity
// (llm_concurrency_limit). Metrics are registered against reg; pass nil to
// skip registration (used in tests that construct multiple controllers,
// which would otherwise collide on the default registerer).
func NewController(capacity int, reg prometheus.Registerer) *Controller {
	if capacity <= 0 {
		capacity = 1
	}

	c := &Controller{
		capacity: capacity,
		sem:      make(chan struct{}, capacity),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "magi_concurrency_active",
			Help: "Number of LLM calls currently holding a concurrency permit.",
		}),
		waitingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "magi_concurrency_waiting",
			Help: "Number of callers currently blocked waiting for a permit.",
		}),
		acquiredCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "magi_concurrency_acquired_total",
			Help: "Total number of permits successfully acquired.",
		}),
		timeoutCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "magi_concurrency_timeouts_total",
			Help: "Total number of Acquire calls that timed out.",
		}),
		rateLimitCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "magi_concurrency_rate_limits_total",
			Help: "Total number of rate-limit responses observed by NoteRateLimit.",
		}),
	}

	if reg != nil {
		reg.MustRegister(c.activeGauge, c.waitingGauge, c.acquiredCtr, c.timeoutCtr, c.rateLimitCtr)
	}

	return c
}

// Acquire blocks until a permit is available or timeout elapses (zero or
// negative timeout means wait indefinitely, bounded only by ctx). On
// success it returns a release func that must be called exactly once,
// typically via defer, to return the permit.
func (c *Controller) Acquire(ctx context.Context, timeout time.Duration) (release func(), err error) {
	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.mu.Lock()
	c.waiting++
	c.waitingGauge.Set(float64(c.waiting))
	c.mu.Unlock()

	release = func() {
		c.mu.Lock()
		c.active--
		c.activeGauge.Set(float64(c.active))
		c.mu.Unlock()
		<-c.sem
	}

	select {
	case c.sem <- struct{}{}:
		c.mu.Lock()
		c.waiting--
		c.active++
		c.totalAcquired++
		c.waitingGauge.Set(float64(c.waiting))
		c.activeGauge.Set(float64(c.active))
		c.acquiredCtr.Inc()
		c.mu.Unlock()
		return release, nil
	case <-waitCtx.Done():
		c.mu.Lock()
		c.waiting--
		c.totalTimeouts++
		c.waitingGauge.Set(float64(c.waiting))
		c.timeoutCtr.Inc()
		c.mu.Unlock()
		return nil, ErrConcurrencyLimit
	}
}

// NoteRateLimit records that an LLMClient observed a rate-limit response,
// for operator visibility on the health/metrics surface. It does not affect
// the semaphore itself.
func (c *Controller) NoteRateLimit() {
	c.mu.Lock()
	c.totalRateLimits++
	c.mu.Unlock()
	c.rateLimitCtr.Inc()
}

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Capacity:        c.capacity,
		Active:          c.active,
		Waiting:         c.waiting,
		TotalAcquired:   c.totalAcquired,
		TotalTimeouts:   c.totalTimeouts,
		TotalRateLimits: c.totalRateLimits,
	}
}
