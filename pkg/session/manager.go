package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/magi/pkg/concurrency"
	"github.com/codeready-toolchain/magi/pkg/config"
	"github.com/codeready-toolchain/magi/pkg/consensusagent"
	"github.com/codeready-toolchain/magi/pkg/engine"
	"github.com/codeready-toolchain/magi/pkg/events"
	"github.com/codeready-toolchain/magi/pkg/guardrails"
	"github.com/codeready-toolchain/magi/pkg/llmclient"
	"github.com/codeready-toolchain/magi/pkg/persona"
	"github.com/codeready-toolchain/magi/pkg/quorum"
	"github.com/codeready-toolchain/magi/pkg/schema"
	"github.com/codeready-toolchain/magi/pkg/security"
	"github.com/codeready-toolchain/magi/pkg/streaming"
	"github.com/codeready-toolchain/magi/pkg/tokenbudget"
)

// ErrInvalidPrompt is returned by Create when prompt is empty or exceeds the
// maximum accepted length.
var ErrInvalidPrompt = errors.New("session: prompt must be between 1 and 8000 characters")

// ErrAtCapacity is returned by Create when max_concurrent_sessions is
// already in use.
var ErrAtCapacity = errors.New("session: at max concurrent sessions")

// ErrNotFound is returned by Cancel and Get for an unknown session id.
var ErrNotFound = errors.New("session: not found")

const maxPromptRunes = 8000

// TransportResolver resolves the llmclient.Transport to use for a named LLM
// provider. Concrete provider SDK wiring (OpenAI, Anthropic, Gemini, ...) is
// an external concern behind this interface; Manager only depends on it.
type TransportResolver interface {
	Resolve(provider string) (llmclient.Transport, error)
}

// Notifier delivers an optional out-of-band notification once a session
// reaches a terminal state. Implementations must be nil-safe and fail-open:
// a delivery failure is logged by the implementation, never propagated back
// to block or fail the session.
type Notifier interface {
	NotifyResolved(ctx context.Context, sessionID string, result engine.FinalResult)
	NotifyFailed(ctx context.Context, sessionID string, reason string)
}

// Deps bundles every shared, process-wide collaborator Manager needs to
// build and drive a session's Engine. Every field but Notifier is required;
// Notifier may be nil to disable terminal-state notifications entirely.
type Deps struct {
	Config      *config.Config
	Personas    *persona.Manager
	Transports  TransportResolver
	Concurrency *concurrency.Controller
	VoteSchema  *schema.Validator
	TokenBudget *tokenbudget.Manager
	Security    *security.Filter
	Guardrails  *guardrails.Adapter
	Broadcaster *events.Broadcaster
	Notifier    Notifier
}

// Created is the result of a successful Manager.Create call.
type Created struct {
	ID     string
	Status Status
}

// Manager owns every active Session: admission control against
// max_concurrent_sessions, construction of one Engine per session,
// pumping its streaming.Emitter into the shared EventBroadcaster, TTL
// sweeping, and cancellation. Grounded on the teacher's pkg/session.Manager
// (in-memory map + RWMutex) generalized with a TTL sweep (teacher's
// pkg/cleanup.Service ticker idiom) and per-session cancellation (teacher's
// queue.WorkerPool.activeSessions cancel-function registry).
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session

	admission chan struct{}

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewManager constructs a Manager and starts its TTL sweep goroutine. Call
// Stop during graceful shutdown to stop the sweep goroutine cleanly.
func NewManager(deps Deps) *Manager {
	maxConcurrent := deps.Config.Defaults.Session.MaxConcurrentSessions
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	m := &Manager{
		deps:      deps,
		sessions:  make(map[string]*Session),
		admission: make(chan struct{}, maxConcurrent),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	go m.sweepLoop()
	return m
}

// Stop halts the TTL sweep goroutine and waits for it to exit. It does not
// cancel in-flight sessions; callers that want a clean shutdown should
// cancel those separately (e.g. by cancelling the process context each
// session's Run honors).
func (m *Manager) Stop() {
	close(m.stopSweep)
	<-m.sweepDone
}

// Broadcaster returns the shared EventBroadcaster, for the HTTP layer to
// Subscribe observers to a session's room.
func (m *Manager) Broadcaster() *events.Broadcaster {
	return m.deps.Broadcaster
}

// WSPath returns the observer WebSocket path for a session id.
func WSPath(id string) string {
	return "/ws/sessions/" + id
}

// Create admits a new session if under max_concurrent_sessions, builds its
// Engine from the shared configuration plus any per-session Options
// override, and starts it on a background goroutine. It returns immediately
// with the session's id and initial status.
func (m *Manager) Create(opts Options, prompt string) (Created, error) {
	n := len([]rune(prompt))
	if n == 0 || n > maxPromptRunes {
		return Created{}, ErrInvalidPrompt
	}

	select {
	case m.admission <- struct{}{}:
	default:
		return Created{}, ErrAtCapacity
	}

	eng, emitter, err := m.buildEngine(opts)
	if err != nil {
		<-m.admission
		return Created{}, fmt.Errorf("session: failed to build engine: %w", err)
	}

	id := uuid.New().String()
	ttl := m.deps.Config.Defaults.Session.SessionTTL
	runCtx, cancel := context.WithCancel(context.Background())
	sess := newSession(id, prompt, "", opts, ttl, cancel)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	timeout := m.deps.Config.Defaults.Session.SessionTimeout
	if opts.TimeoutSec > 0 {
		timeout = time.Duration(opts.TimeoutSec) * time.Second
	}

	go m.run(sess, runCtx, cancel, eng, emitter, prompt, timeout)

	return Created{ID: id, Status: StatusQueued}, nil
}

// Cancel requests cancellation of a running session.
func (m *Manager) Cancel(id string) (Status, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}
	return sess.requestCancel(), nil
}

// Get returns a point-in-time snapshot of session id.
func (m *Manager) Get(id string) (View, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return View{}, false
	}
	return sess.Snapshot(), true
}

// buildEngine constructs one session's Engine from shared process-wide
// configuration and collaborators, applying opts' per-session overrides
// (model, max_rounds). A fresh quorum.Manager, streaming.Emitter, and set of
// consensusagent.Agent/llmclient.Client are built per call, since those hold
// session-scoped mutable state; Security, Guardrails, TokenBudget, and
// VoteSchema are shared, since they hold none.
func (m *Manager) buildEngine(opts Options) (*engine.Engine, *streaming.Emitter, error) {
	cfg := m.deps.Config
	agents := make(map[config.PersonaName]*consensusagent.Agent, len(config.AllPersonas()))

	for _, name := range config.AllPersonas() {
		p, err := m.deps.Personas.Get(name)
		if err != nil {
			return nil, nil, err
		}

		personaCfg, err := cfg.GetPersona(name)
		if err != nil {
			return nil, nil, err
		}

		resolved := resolveLLMConfig(personaCfg.LLM)
		if opts.Model != "" {
			resolved.Model = opts.Model
		}

		transport, err := m.deps.Transports.Resolve(resolved.Provider)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving transport for persona %s: %w", name, err)
		}

		client := llmclient.NewClient(transport, m.deps.Concurrency, resolved)
		agents[name] = consensusagent.NewAgent(p, client, m.deps.VoteSchema, cfg.Defaults.Quorum.RetriesPerAgent)
	}

	qm := quorum.NewManager(config.AllPersonas(), cfg.Defaults.Quorum.QuorumThreshold, cfg.Defaults.Quorum.RetriesPerAgent)
	emitter := streaming.NewEmitter(cfg.Defaults.Streaming.QueueSize, cfg.Defaults.Streaming.OverflowPolicy, cfg.Defaults.Streaming.EmitTimeout)

	debateRounds := cfg.Defaults.Engine.DebateRounds
	if opts.MaxRounds > 0 {
		debateRounds = opts.MaxRounds
	}

	eng := engine.New(agents, m.deps.Security, m.deps.Guardrails, m.deps.TokenBudget, qm, emitter, engine.Options{
		DebateRounds:    debateRounds,
		RoundTimeout:    cfg.Defaults.Engine.RoundTimeout,
		OverallTimeout:  cfg.Defaults.Engine.OverallTimeout,
		TokenBudget:     cfg.Defaults.TokenBudget.MaxTokens,
		VotingThreshold: cfg.Defaults.Quorum.VotingThreshold,
	})

	return eng, emitter, nil
}

// resolveLLMConfig dereferences a persona's fully-merged PersonaLLMConfig
// (guaranteed non-nil pointer fields once config.Load's merge pipeline has
// run) into the plain-value ResolvedConfig llmclient.Client expects.
func resolveLLMConfig(p config.PersonaLLMConfig) llmclient.ResolvedConfig {
	var temperature float64
	if p.Temperature != nil {
		temperature = *p.Temperature
	}
	var maxTokens int
	if p.MaxTokens != nil {
		maxTokens = *p.MaxTokens
	}
	var timeout time.Duration
	if p.Timeout != nil {
		timeout = *p.Timeout
	}
	var retryCount int
	if p.RetryCount != nil {
		retryCount = *p.RetryCount
	}
	return llmclient.ResolvedConfig{
		Provider:    p.Provider,
		Model:       p.Model,
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Timeout:     timeout,
		RetryCount:  retryCount,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// run drives one session's Engine to completion, pumping its emitted events
// to the broadcaster and reconciling the session's own bookkeeping once Run
// returns. Always releases its admission slot and its session-level context
// on return.
func (m *Manager) run(sess *Session, ctx context.Context, cancel context.CancelFunc, eng *engine.Engine, emitter *streaming.Emitter, prompt string, timeout time.Duration) {
	defer func() { <-m.admission }()
	defer cancel()

	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			sess.markTimedOut()
			cancel()
		})
		defer timer.Stop()
	}

	pumpDone := make(chan struct{})
	go m.pump(sess, emitter, pumpDone)

	result, err := eng.Run(ctx, prompt)
	emitter.Close()
	<-pumpDone

	switch {
	case err == nil:
		sess.setFinal(result)
		if m.deps.Notifier != nil {
			m.deps.Notifier.NotifyResolved(context.Background(), sess.ID(), result)
		}
	case errors.Is(err, engine.ErrCancelled):
		if sess.timedOut() {
			// The engine already emitted a best-effort phase=CANCELLED event
			// before Run returned ErrCancelled; correct the record with an
			// explicit TIMEOUT error event so connected observers see the
			// real cause, and record the session itself as ERROR rather
			// than CANCELLED.
			sess.setError("session timed out")
			m.publishTimeout(sess)
			if m.deps.Notifier != nil {
				m.deps.Notifier.NotifyFailed(context.Background(), sess.ID(), "session timed out")
			}
		} else {
			sess.setPhase(engine.PhaseCancelled)
		}
	default:
		sess.setError(err.Error())
		if m.deps.Notifier != nil {
			m.deps.Notifier.NotifyFailed(context.Background(), sess.ID(), err.Error())
		}
	}

	m.deps.Broadcaster.CloseSession(sess.ID())
}

// publishTimeout emits a corrective error{TIMEOUT} event directly to the
// broadcaster, since the engine's own emitter has already been closed by the
// time the manager distinguishes a timeout from a plain cancellation.
func (m *Manager) publishTimeout(sess *Session) {
	payload, err := events.Build(sess.ID(), engine.EventTypeError, engine.ErrorEvent{
		Code:    engine.ErrCodeTimeout,
		Message: "session timed out",
	})
	if err != nil {
		slog.Error("session: failed to build timeout event", "session_id", sess.ID(), "error", err)
		return
	}
	m.deps.Broadcaster.Publish(sess.ID(), payload)
}

// pump drains emitter until the engine closes it (and the queue is fully
// drained), wrapping each event into the wire envelope, publishing it, and
// applying the same transition to the Session's own bookkeeping so that a
// GET-style snapshot and the WS stream never disagree. Runs on a background
// context so a cancelled session still gets its terminal events flushed.
func (m *Manager) pump(sess *Session, emitter *streaming.Emitter, done chan<- struct{}) {
	defer close(done)

	ctx := context.Background()
	for {
		ev, ok := emitter.Next(ctx)
		if !ok {
			return
		}

		payload, err := events.Build(sess.ID(), ev.Type, ev.Content)
		if err != nil {
			slog.Error("session: failed to build event envelope", "session_id", sess.ID(), "type", ev.Type, "error", err)
			continue
		}
		m.deps.Broadcaster.Publish(sess.ID(), payload)

		applyBookkeeping(sess, ev)
	}
}

// applyBookkeeping mirrors a streamed event's transition onto the Session's
// own state. Final and terminal-error transitions are intentionally left to
// run's own setFinal/setError calls, which carry the engine's typed result
// rather than its JSON projection.
func applyBookkeeping(sess *Session, ev streaming.Event) {
	switch c := ev.Content.(type) {
	case engine.PhaseEvent:
		if c.Phase != engine.PhaseCancelled && c.Phase != engine.PhaseError && c.Phase != engine.PhaseResolved {
			sess.setPhase(c.Phase)
		}
	case engine.ProgressEvent:
		sess.setProgress(c.Pct)
	case engine.UnitEvent:
		sess.setUnitState(c.Unit, c.State)
	}
}

// sweepLoop periodically removes expired sessions, requesting cancellation
// of any that are still running. Grounded on the teacher's
// pkg/cleanup.Service ticker idiom.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	interval := m.deps.Config.Defaults.Session.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		if !sess.expired(now) {
			continue
		}
		if !sess.isTerminal() {
			sess.requestCancel()
		}
		delete(m.sessions, id)
	}
}
