// Package session owns session lifecycle: creation, TTL expiry,
// cancellation, and bridging one ConsensusEngine's streaming events to the
// EventBroadcaster. Grounded on the teacher's pkg/session.Manager
// (in-memory map + RWMutex) generalized with a TTL sweep (teacher's
// pkg/cleanup.Service ticker idiom) and per-session cancellation (teacher's
// queue.WorkerPool.activeSessions cancel-function registry).
package session

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/magi/pkg/config"
	"github.com/codeready-toolchain/magi/pkg/engine"
)

// Options carries the per-session overrides accepted by POST /api/sessions.
type Options struct {
	Model      string
	MaxRounds  int
	TimeoutSec int
}

// Status is the coarse lifecycle status reported on session creation and
// cancellation responses (distinct from engine.Phase, which tracks the
// deliberation state machine in detail).
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusRunning    Status = "RUNNING"
	StatusCancelling Status = "CANCELLING"
	StatusCancelled  Status = "CANCELLED"
)

// Session is one deliberation run. Mutated only by its owning background
// task (per §3's ownership rule); Snapshot gives callers (the REST/WS
// layer) a consistent read-only copy.
type Session struct {
	mu sync.RWMutex

	id         string
	prompt     string
	options    Options
	podID      string
	phase      engine.Phase
	progress   int
	unitStates map[config.PersonaName]engine.UnitState
	final      *engine.FinalResult
	errMessage string

	createdAt       time.Time
	expiresAt       time.Time
	cancelRequested bool
	cancel          func()
	timedOutFlag    bool
}

// View is a point-in-time, safe-to-share copy of a Session's state.
type View struct {
	ID              string
	Prompt          string
	Options         Options
	PodID           string
	Phase           engine.Phase
	Progress        int
	UnitStates      map[config.PersonaName]engine.UnitState
	Final           *engine.FinalResult
	ErrorMessage    string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	CancelRequested bool
}

func newSession(id, prompt, podID string, opts Options, ttl time.Duration, cancel func()) *Session {
	now := time.Now()
	unitStates := make(map[config.PersonaName]engine.UnitState, len(config.AllPersonas()))
	for _, p := range config.AllPersonas() {
		unitStates[p] = engine.UnitIdle
	}
	return &Session{
		id:         id,
		prompt:     prompt,
		options:    opts,
		podID:      podID,
		phase:      engine.PhaseQueued,
		unitStates: unitStates,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
		cancel:     cancel,
	}
}

// ID returns the session's identifier without requiring a Snapshot.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a consistent, independently readable copy of the
// session's current state.
func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unitStates := make(map[config.PersonaName]engine.UnitState, len(s.unitStates))
	for k, v := range s.unitStates {
		unitStates[k] = v
	}

	return View{
		ID:              s.id,
		Prompt:          s.prompt,
		Options:         s.options,
		PodID:           s.podID,
		Phase:           s.phase,
		Progress:        s.progress,
		UnitStates:      unitStates,
		Final:           s.final,
		ErrorMessage:    s.errMessage,
		CreatedAt:       s.createdAt,
		ExpiresAt:       s.expiresAt,
		CancelRequested: s.cancelRequested,
	}
}

func (s *Session) setPhase(p engine.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *Session) setFinal(f engine.FinalResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = engine.PhaseResolved
	s.final = &f
}

func (s *Session) setError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = engine.PhaseError
	s.errMessage = message
}

func (s *Session) setProgress(pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = pct
}

func (s *Session) setUnitState(name config.PersonaName, state engine.UnitState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitStates[name] = state
}

// markTimedOut flags the session as having hit its per-session timeout. Must
// be called before the run loop's cancel func, so that once engine.Run
// returns ErrCancelled the manager can tell a timeout apart from an explicit
// user cancellation.
func (s *Session) markTimedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timedOutFlag = true
}

func (s *Session) timedOut() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timedOutFlag
}

func (s *Session) isTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase.Terminal()
}

// requestCancel flips the cancel flag (idempotently) and invokes the
// context cancel func. Returns CANCELLING if the phase hadn't yet reached a
// terminal boundary, CANCELLED if it already had — resolving spec.md's
// cancel/cancelling wording ambiguity without introducing a dedicated
// "cancelling" phase value.
func (s *Session) requestCancel() Status {
	s.mu.Lock()
	alreadyTerminal := s.phase.Terminal()
	s.cancelRequested = true
	s.mu.Unlock()

	s.cancel()

	if alreadyTerminal {
		return StatusCancelled
	}
	return StatusCancelling
}

func (s *Session) expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.After(s.expiresAt)
}
