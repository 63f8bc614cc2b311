package events

import (
	"sync"

	"github.com/google/uuid"
)

// subscriberQueueSize bounds each subscriber's outgoing channel. Overflow
// applies drop-oldest, favoring recency for UIs, exactly as the teacher's
// ConnectionManager.Broadcast does for WebSocket sends.
const subscriberQueueSize = 64

type subscriber struct {
	id string
	ch chan []byte
}

// room holds every subscriber for one session.
type room struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// Broadcaster owns one room per active session: a set of bounded
// subscriber queues. Publish snapshots the subscriber list under a lock and
// sends outside it, so a slow or stalled subscriber never blocks Publish or
// concurrent Subscribe/Unsubscribe calls.
type Broadcaster struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{rooms: make(map[string]*room)}
}

// Subscribe registers a new observer for sessionID and returns its inbound
// channel plus an Unsubscribe func that must be called exactly once when
// the observer disconnects.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan []byte, func()) {
	r := b.getOrCreateRoom(sessionID)

	sub := &subscriber{id: uuid.New().String(), ch: make(chan []byte, subscriberQueueSize)}

	r.mu.Lock()
	r.subscribers[sub.id] = sub
	r.mu.Unlock()

	unsubscribe := func() {
		r.mu.Lock()
		delete(r.subscribers, sub.id)
		empty := len(r.subscribers) == 0
		r.mu.Unlock()
		if empty {
			b.removeRoomIfEmpty(sessionID)
		}
	}

	return sub.ch, unsubscribe
}

// Publish delivers payload to every subscriber of sessionID. A subscriber
// whose queue is full has its oldest queued message dropped to make room
// (drop-oldest), per §4.14's no-history, favor-recency policy. Publishing
// to a session with no subscribers is a no-op.
func (b *Broadcaster) Publish(sessionID string, payload []byte) {
	b.mu.RLock()
	r, ok := b.rooms[sessionID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.RLock()
	subs := make([]*subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		enqueueDropOldest(s.ch, payload)
	}
}

// enqueueDropOldest attempts a non-blocking send; on a full channel it
// discards the oldest queued message and retries once. Under concurrent
// senders a retry may still find the channel full (another goroutine
// refilled it first); in that rare case the new message is dropped instead
// of blocking Publish.
func enqueueDropOldest(ch chan []byte, payload []byte) {
	select {
	case ch <- payload:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- payload:
	default:
	}
}

// CloseSession tears down a session's room, closing every subscriber
// channel so their forwarding goroutines exit. Called once a session
// reaches a terminal phase and the final/error event has been published.
func (b *Broadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	r, ok := b.rooms[sessionID]
	delete(b.rooms, sessionID)
	b.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subscribers {
		close(s.ch)
	}
	r.subscribers = nil
}

func (b *Broadcaster) getOrCreateRoom(sessionID string) *room {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[sessionID]
	if !ok {
		r = &room{subscribers: make(map[string]*subscriber)}
		b.rooms[sessionID] = r
	}
	return r
}

func (b *Broadcaster) removeRoomIfEmpty(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rooms[sessionID]; ok {
		r.mu.RLock()
		empty := len(r.subscribers) == 0
		r.mu.RUnlock()
		if empty {
			delete(b.rooms, sessionID)
		}
	}
}

// SubscriberCount reports how many observers are attached to sessionID,
// used by /api/health-style diagnostics and tests.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	r, ok := b.rooms[sessionID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}
