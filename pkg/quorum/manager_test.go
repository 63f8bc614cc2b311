package quorum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/magi/pkg/config"
)

func newTestManager() *Manager {
	return NewManager(config.AllPersonas(), 2, 1)
}

func TestNoteFailureExhaustsRetryBudget(t *testing.T) {
	m := newTestManager()
	require.False(t, m.NoteFailure(config.PersonaCasper))
	require.True(t, m.NoteFailure(config.PersonaCasper))
}

func TestExcludeReducesAliveCount(t *testing.T) {
	m := newTestManager()
	require.Equal(t, 3, m.AliveCount())
	m.Exclude(config.PersonaCasper)
	require.Equal(t, 2, m.AliveCount())
	require.True(t, m.QuorumMet())
}

func TestExcludeIsIdempotent(t *testing.T) {
	m := newTestManager()
	m.Exclude(config.PersonaCasper)
	m.Exclude(config.PersonaCasper)
	require.Equal(t, []config.PersonaName{config.PersonaCasper}, m.State().ExcludedPersonas)
}

func TestQuorumLostBelowThreshold(t *testing.T) {
	m := newTestManager()
	m.Exclude(config.PersonaCasper)
	m.Exclude(config.PersonaBalthasar)
	require.False(t, m.QuorumMet())
	require.Equal(t, 1, m.AliveCount())
}

func TestStatePartialResultsFlag(t *testing.T) {
	m := newTestManager()
	require.False(t, m.State().PartialResults)
	m.Exclude(config.PersonaCasper)
	require.True(t, m.State().PartialResults)
}

func TestFailSafeMessageFormat(t *testing.T) {
	m := newTestManager()
	m.Exclude(config.PersonaMelchior)
	m.Exclude(config.PersonaBalthasar)
	msg := m.State().FailSafeMessage()
	require.Contains(t, msg, "quorum loss:")
	require.Contains(t, msg, string(config.PersonaMelchior))
}

func TestDecideUnanimousRequiresAllApprove(t *testing.T) {
	tally := Tally{Approve: 2, Conditional: 1}
	require.Equal(t, config.VoteConditional, Decide(tally, 3, config.VotingThresholdUnanimous))

	tally = Tally{Approve: 3}
	require.Equal(t, config.VoteApprove, Decide(tally, 3, config.VotingThresholdUnanimous))
}

func TestDecideUnanimousAnyDenyWins(t *testing.T) {
	tally := Tally{Approve: 2, Deny: 1}
	require.Equal(t, config.VoteDeny, Decide(tally, 3, config.VotingThresholdUnanimous))
}

func TestDecideMajority(t *testing.T) {
	require.Equal(t, config.VoteApprove, Decide(Tally{Approve: 2, Conditional: 1}, 3, config.VotingThresholdMajority))
	require.Equal(t, config.VoteConditional, Decide(Tally{Approve: 1, Deny: 1, Conditional: 1}, 3, config.VotingThresholdMajority))
	require.Equal(t, config.VoteDeny, Decide(Tally{Deny: 2, Approve: 1}, 3, config.VotingThresholdMajority))
}

func TestTallyVotes(t *testing.T) {
	votes := map[config.PersonaName]config.Vote{
		config.PersonaMelchior:  config.VoteApprove,
		config.PersonaBalthasar: config.VoteApprove,
		config.PersonaCasper:    config.VoteDeny,
	}
	tally := TallyVotes(votes)
	require.Equal(t, Tally{Approve: 2, Deny: 1}, tally)
}
