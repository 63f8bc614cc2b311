// Package streaming implements the bounded event queue that sits between a
// ConsensusEngine and its EventBroadcaster. Grounded on pkg/events'
// ConnectionManager drop-oldest fan-out and the bounded-channel discipline
// used throughout the teacher's queue package, generalized here with the
// critical/normal priority split spec.md requires: a critical event (final
// result, terminal phase) is never silently dropped.
package streaming

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/codeready-toolchain/magi/pkg/config"
)

// Priority classifies an emitted event for overflow handling purposes.
type Priority int

const (
	// Normal events may be dropped (drop policy) or time out (backpressure
	// policy) under queue pressure.
	Normal Priority = iota
	// Critical events (phase=RESOLVED, final result, terminal errors) are
	// never dropped: the emitter evicts oldest Normal entries to make room,
	// and applies backpressure regardless of policy if none remain.
	Critical
)

// Event is one item flowing through the queue.
type Event struct {
	Type       string
	Content    any
	Priority   Priority
	EnqueuedAt time.Time
}

// ErrStreamingTimeout is returned by Emit for a Normal event under the
// backpressure policy when the queue stays full for streaming_emit_timeout.
var ErrStreamingTimeout = errors.New("streaming: emit timed out waiting for queue room")

// ErrClosed is returned by Emit once the emitter has been closed.
var ErrClosed = errors.New("streaming: emitter closed")

// Metrics is a snapshot of Emitter counters.
type Metrics struct {
	EmittedCount   int64
	DroppedCount   int64
	LastDropReason string
	TTFB           time.Duration
}

// Emitter is a bounded, priority-aware async queue. One Emitter belongs to
// exactly one ConsensusEngine for the lifetime of a session.
type Emitter struct {
	capacity    int
	policy      config.StreamingOverflowPolicy
	emitTimeout time.Duration

	mu      sync.Mutex
	queue   []Event
	closed  bool
	roomCh  chan struct{}
	itemCh  chan struct{}
	created time.Time

	emittedCount   int64
	droppedCount   int64
	lastDropReason string
	ttfb           time.Duration
	gotFirst       bool
}

// NewEmitter constructs an Emitter with the given queue size, overflow
// policy, and (for backpressure) emit timeout.
func NewEmitter(capacity int, policy config.StreamingOverflowPolicy, emitTimeout time.Duration) *Emitter {
	if capacity <= 0 {
		capacity = 100
	}
	if emitTimeout <= 0 {
		emitTimeout = 2 * time.Second
	}
	return &Emitter{
		capacity:    capacity,
		policy:      policy,
		emitTimeout: emitTimeout,
		roomCh:      make(chan struct{}),
		itemCh:      make(chan struct{}),
		created:     time.Now(),
	}
}

// Emit enqueues an event, applying the overflow policy when the queue is
// full. See package doc for the critical/normal distinction.
func (e *Emitter) Emit(ctx context.Context, eventType string, content any, priority Priority) error {
	ev := Event{Type: eventType, Content: content, Priority: priority, EnqueuedAt: time.Now()}

	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return ErrClosed
		}

		if len(e.queue) < e.capacity {
			e.enqueueLocked(ev)
			e.mu.Unlock()
			return nil
		}

		// Full. Drop policy (any priority) or a critical event under any
		// policy tries to evict the oldest Normal entry first.
		if e.policy == config.StreamingOverflowDrop || priority == Critical {
			if idx, ok := e.oldestNormalLocked(); ok {
				e.evictLocked(idx, "queue full, evicted oldest normal event")
				e.mu.Unlock()
				continue
			}
		}

		if priority == Critical {
			// Queue is full of critical entries only: apply backpressure
			// regardless of policy rather than ever drop a critical event.
			room := e.roomCh
			e.mu.Unlock()
			select {
			case <-room:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		switch e.policy {
		case config.StreamingOverflowBackpressure:
			room := e.roomCh
			e.mu.Unlock()
			timer := time.NewTimer(e.emitTimeout)
			select {
			case <-room:
				timer.Stop()
				continue
			case <-timer.C:
				return ErrStreamingTimeout
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		default:
			// Drop policy, queue full of critical entries only: nothing
			// non-critical to evict, so the new Normal event is dropped.
			e.droppedCount++
			e.lastDropReason = "queue full of critical events, dropped new normal event"
			e.mu.Unlock()
			return nil
		}
	}
}

// enqueueLocked appends ev and wakes one waiting consumer. Caller holds mu.
func (e *Emitter) enqueueLocked(ev Event) {
	e.queue = append(e.queue, ev)
	e.emittedCount++
	if !e.gotFirst {
		e.gotFirst = true
		e.ttfb = time.Since(e.created)
	}
	e.notifyItemLocked()
}

// oldestNormalLocked returns the index of the oldest Normal-priority entry,
// or false if the queue holds only Critical entries.
func (e *Emitter) oldestNormalLocked() (int, bool) {
	for i, ev := range e.queue {
		if ev.Priority == Normal {
			return i, true
		}
	}
	return 0, false
}

// evictLocked removes the entry at idx, counts the drop, and wakes anyone
// waiting for room. Caller holds mu.
func (e *Emitter) evictLocked(idx int, reason string) {
	e.queue = append(e.queue[:idx], e.queue[idx+1:]...)
	e.droppedCount++
	e.lastDropReason = reason
	e.notifyRoomLocked()
}

func (e *Emitter) notifyRoomLocked() {
	close(e.roomCh)
	e.roomCh = make(chan struct{})
}

func (e *Emitter) notifyItemLocked() {
	close(e.itemCh)
	e.itemCh = make(chan struct{})
}

// Next blocks until an event is available, the emitter closes (returns
// false), or ctx is cancelled (returns false).
func (e *Emitter) Next(ctx context.Context) (Event, bool) {
	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			ev := e.queue[0]
			e.queue = e.queue[1:]
			e.notifyRoomLocked()
			e.mu.Unlock()
			return ev, true
		}
		if e.closed {
			e.mu.Unlock()
			return Event{}, false
		}
		item := e.itemCh
		e.mu.Unlock()

		select {
		case <-item:
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// Close marks the emitter closed: pending Emit/Next calls waiting on room
// or items are released and any subsequent Emit returns ErrClosed. Already
// queued events remain available to Next until drained.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.notifyRoomLocked()
	e.notifyItemLocked()
}

// Metrics returns a snapshot of the emitter's counters.
func (e *Emitter) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Metrics{
		EmittedCount:   e.emittedCount,
		DroppedCount:   e.droppedCount,
		LastDropReason: e.lastDropReason,
		TTFB:           e.ttfb,
	}
}
