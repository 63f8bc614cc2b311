// Package quorum tracks which personas are still alive for a session and
// decides, phase by phase, whether the session can continue with a partial
// result or must fail safe. Shaped like the teacher's config.SuccessPolicy
// (all/any) enum-driven decision, generalized to unanimous/majority vote
// tallying and alive-count thresholds.
package quorum

import (
	"fmt"
	"sort"
	"sync"

	"github.com/codeready-toolchain/magi/pkg/config"
)

// State is a snapshot of the quorum manager's bookkeeping, suitable for
// inclusion in log/error events.
type State struct {
	Alive            int
	QuorumThreshold  int
	RetriesLeft      map[config.PersonaName]int
	PartialResults   bool
	ExcludedPersonas []config.PersonaName
}

// Manager tracks per-persona alive/excluded state and retry budget across
// one session. Owned exclusively by one ConsensusEngine.
type Manager struct {
	mu sync.Mutex

	totalAgents     int
	quorumThreshold int
	retriesPerAgent int

	alive       map[config.PersonaName]bool
	retriesLeft map[config.PersonaName]int
	excluded    []config.PersonaName
}

// NewManager constructs a QuorumManager for the given fixed personas.
func NewManager(personas []config.PersonaName, quorumThreshold, retriesPerAgent int) *Manager {
	alive := make(map[config.PersonaName]bool, len(personas))
	retries := make(map[config.PersonaName]int, len(personas))
	for _, p := range personas {
		alive[p] = true
		retries[p] = retriesPerAgent
	}
	return &Manager{
		totalAgents:     len(personas),
		quorumThreshold: quorumThreshold,
		retriesPerAgent: retriesPerAgent,
		alive:           alive,
		retriesLeft:     retries,
	}
}

// NoteFailure records a transient failure for persona. It returns true once
// the persona's retry budget is exhausted, at which point the caller should
// call Exclude.
func (m *Manager) NoteFailure(name config.PersonaName) (retriesExhausted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	left, ok := m.retriesLeft[name]
	if !ok {
		return true
	}
	if left <= 0 {
		return true
	}
	m.retriesLeft[name] = left - 1
	return m.retriesLeft[name] <= 0
}

// Exclude permanently removes persona from the alive set, e.g. after
// schema-retry exhaustion (ErrSchemaRetryExceeded) or transport exhaustion.
// Idempotent.
func (m *Manager) Exclude(name config.PersonaName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.alive[name] {
		return
	}
	m.alive[name] = false
	m.excluded = append(m.excluded, name)
}

// AliveCount returns how many personas are currently alive.
func (m *Manager) AliveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aliveCountLocked()
}

func (m *Manager) aliveCountLocked() int {
	n := 0
	for _, alive := range m.alive {
		if alive {
			n++
		}
	}
	return n
}

// QuorumMet reports whether enough personas remain alive to produce a
// valid (possibly partial) result.
func (m *Manager) QuorumMet() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aliveCountLocked() >= m.quorumThreshold
}

// AlivePersonas returns the currently alive personas in canonical order.
func (m *Manager) AlivePersonas() []config.PersonaName {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []config.PersonaName
	for _, p := range config.AllPersonas() {
		if m.alive[p] {
			out = append(out, p)
		}
	}
	return out
}

// State returns a snapshot for logging/error reporting.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	retries := make(map[config.PersonaName]int, len(m.retriesLeft))
	for k, v := range m.retriesLeft {
		retries[k] = v
	}
	excluded := make([]config.PersonaName, len(m.excluded))
	copy(excluded, m.excluded)
	sort.Slice(excluded, func(i, j int) bool { return excluded[i] < excluded[j] })

	return State{
		Alive:            m.aliveCountLocked(),
		QuorumThreshold:  m.quorumThreshold,
		RetriesLeft:      retries,
		PartialResults:   len(excluded) > 0,
		ExcludedPersonas: excluded,
	}
}

// FailSafeMessage formats the quorum-loss error message prescribed by §7:
// "quorum loss: <excluded set>".
func (s State) FailSafeMessage() string {
	return fmt.Sprintf("quorum loss: %v", s.ExcludedPersonas)
}

// Tally counts alive votes by outcome.
type Tally struct {
	Approve     int
	Deny        int
	Conditional int
}

// Decide applies the voting_threshold decision rule (§4.8) to produce the
// final decision from a tally over aliveCount alive personas.
func Decide(tally Tally, aliveCount int, threshold config.VotingThreshold) config.Vote {
	switch threshold {
	case config.VotingThresholdUnanimous:
		if tally.Deny >= 1 {
			return config.VoteDeny
		}
		if tally.Approve == aliveCount && aliveCount > 0 {
			return config.VoteApprove
		}
		return config.VoteConditional
	default: // majority
		if tally.Approve >= 2 {
			return config.VoteApprove
		}
		if tally.Deny >= 2 {
			return config.VoteDeny
		}
		return config.VoteConditional
	}
}

// TallyVotes builds a Tally from a set of cast votes.
func TallyVotes(votes map[config.PersonaName]config.Vote) Tally {
	var t Tally
	for _, v := range votes {
		switch v {
		case config.VoteApprove:
			t.Approve++
		case config.VoteDeny:
			t.Deny++
		case config.VoteConditional:
			t.Conditional++
		}
	}
	return t
}
