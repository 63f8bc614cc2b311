// Package engine implements the consensus state machine: Thinking, Debate,
// and Voting phases orchestrated across three persona agents, with
// security/guardrail vetting, token-budget enforcement, quorum tracking,
// and streaming event emission. Grounded on the teacher's
// queue.RealSessionExecutor stage-sequencing (pkg/queue/executor.go),
// restructured from a DB-backed chain-of-stages into the fixed
// THINKING→DEBATE→VOTING→RESOLVED state machine.
package engine

import "github.com/codeready-toolchain/magi/pkg/config"

// Phase is one stage of the deliberation state machine. Transitions are
// monotonic along QUEUED→THINKING→DEBATE→VOTING→RESOLVED; CANCELLED and
// ERROR are terminal and may replace any non-terminal phase.
type Phase string

const (
	PhaseQueued    Phase = "QUEUED"
	PhaseThinking  Phase = "THINKING"
	PhaseDebate    Phase = "DEBATE"
	PhaseVoting    Phase = "VOTING"
	PhaseResolved  Phase = "RESOLVED"
	PhaseCancelled Phase = "CANCELLED"
	PhaseError     Phase = "ERROR"
)

// Terminal reports whether phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseResolved || p == PhaseCancelled || p == PhaseError
}

// UnitState is one persona's progress within the current phase. Once
// VOTED, a persona emits no further unit state events for the session.
type UnitState string

const (
	UnitIdle     UnitState = "IDLE"
	UnitThinking UnitState = "THINKING"
	UnitDebating UnitState = "DEBATING"
	UnitVoting   UnitState = "VOTING"
	UnitVoted    UnitState = "VOTED"
)

// ErrorCode is the closed set of error codes carried on an error event.
type ErrorCode string

const (
	ErrCodeCore      ErrorCode = "MAGI_CORE_ERROR"
	ErrCodeTimeout   ErrorCode = "TIMEOUT"
	ErrCodeCancelled ErrorCode = "CANCELLED"
	ErrCodeInternal  ErrorCode = "INTERNAL"
)

// VoteRecord is one persona's cast vote as carried on a FinalResult.
type VoteRecord struct {
	Vote       config.Vote
	Reason     string
	Conditions []string
}

// FinalResult is the outcome of a resolved session.
type FinalResult struct {
	Decision         config.Vote
	Votes            map[config.PersonaName]VoteRecord
	Summary          string
	ExitCode         int
	PartialResults   bool
	ExcludedPersonas []config.PersonaName
}

// Progress bands per phase, linearly interpolated within DEBATE across
// rounds (§4.12).
const (
	ProgressThinkingStart = 10
	ProgressThinkingEnd   = 40
	ProgressDebateStart   = 40
	ProgressDebateEnd     = 80
	ProgressVotingStart   = 80
	ProgressVotingEnd     = 99
	ProgressResolved      = 100
)

// DebateProgress linearly interpolates progress within the DEBATE band
// across round (1-indexed) of totalRounds.
func DebateProgress(round, totalRounds int) int {
	if totalRounds <= 0 {
		return ProgressDebateStart
	}
	span := ProgressDebateEnd - ProgressDebateStart
	return ProgressDebateStart + (span*round)/totalRounds
}

// Event content payloads. The engine constructs these and hands them to a
// streaming.Emitter; pkg/events wraps them into the wire envelope
// (schema_version, session_id, ts, type) without re-deriving their fields.
type (
	PhaseEvent struct {
		Phase Phase `json:"phase"`
	}
	ProgressEvent struct {
		Pct int `json:"pct"`
	}
	UnitEvent struct {
		Unit    config.PersonaName `json:"unit"`
		State   UnitState          `json:"state"`
		Message string             `json:"message,omitempty"`
		Score   *float64           `json:"score,omitempty"`
	}
	LogEvent struct {
		Level string             `json:"level"`
		Unit  config.PersonaName `json:"unit,omitempty"`
		Lines []string           `json:"lines"`
	}
	FinalEvent struct {
		Decision         config.Vote                          `json:"decision"`
		Votes            map[config.PersonaName]VoteEventEntry `json:"votes"`
		Summary          string                                `json:"summary,omitempty"`
		PartialResults   bool                                  `json:"partial_results"`
		ExcludedPersonas []config.PersonaName                  `json:"excluded_personas,omitempty"`
	}
	VoteEventEntry struct {
		Vote       config.Vote `json:"vote"`
		Reason     string      `json:"reason"`
		Conditions []string    `json:"conditions,omitempty"`
	}
	ErrorEvent struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	}
)

// Event type discriminants, matching the wire `type` field (§6).
const (
	EventTypePhase    = "phase"
	EventTypeProgress = "progress"
	EventTypeUnit     = "unit"
	EventTypeLog      = "log"
	EventTypeFinal    = "final"
	EventTypeError    = "error"
)
