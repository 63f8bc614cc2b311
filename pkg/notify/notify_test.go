package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/magi/pkg/config"
	"github.com/codeready-toolchain/magi/pkg/engine"
)

func TestNew(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		assert.Nil(t, New("", "C123", "https://example.com"))
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		assert.Nil(t, New("xoxb-test", "", "https://example.com"))
	})

	t.Run("returns notifier when configured", func(t *testing.T) {
		assert.NotNil(t, New("xoxb-test", "C123", "https://example.com"))
	})
}

func TestSlackNotifier_NilReceiver(t *testing.T) {
	var n *SlackNotifier

	// Neither call should panic on a nil receiver.
	n.NotifyResolved(context.Background(), "sess-1", engine.FinalResult{Decision: config.VoteApprove})
	n.NotifyFailed(context.Background(), "sess-1", "quorum loss")
}

func TestSummarize(t *testing.T) {
	result := engine.FinalResult{
		Decision: config.VoteApprove,
		Votes: map[config.PersonaName]engine.VoteRecord{
			config.PersonaMelchior:  {Vote: config.VoteApprove, Reason: "evidence is sound"},
			config.PersonaBalthasar: {Vote: config.VoteApprove, Reason: "impact is acceptable"},
		},
		PartialResults:   true,
		ExcludedPersonas: []config.PersonaName{config.PersonaCasper},
	}

	out := summarize(result)
	assert.Contains(t, out, "Decision: APPROVE")
	assert.Contains(t, out, "MELCHIOR-1: APPROVE — evidence is sound")
	assert.Contains(t, out, "BALTHASAR-2: APPROVE — impact is acceptable")
	assert.Contains(t, out, "partial result")
	assert.Contains(t, out, "CASPER-3")
}
