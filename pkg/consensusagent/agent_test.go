package consensusagent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/magi/pkg/concurrency"
	"github.com/codeready-toolchain/magi/pkg/config"
	"github.com/codeready-toolchain/magi/pkg/llmclient"
	"github.com/codeready-toolchain/magi/pkg/persona"
	"github.com/codeready-toolchain/magi/pkg/schema"
)

const voteSchemaDoc = `{
	"type": "object",
	"required": ["vote", "reason"],
	"properties": {
		"vote": {"enum": ["APPROVE", "DENY", "CONDITIONAL"]},
		"reason": {"type": "string"},
		"conditions": {"type": "array", "items": {"type": "string"}}
	}
}`

type scriptedTransport struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedTransport) Complete(ctx context.Context, cfg llmclient.ResolvedConfig, req llmclient.Request) (llmclient.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return llmclient.Response{}, s.errs[i]
	}
	if i < len(s.responses) {
		return llmclient.Response{Content: s.responses[i]}, nil
	}
	return llmclient.Response{Content: s.responses[len(s.responses)-1]}, nil
}

func newTestAgent(t *testing.T, transport llmclient.Transport) *Agent {
	t.Helper()
	v, err := schema.CompileString("vote", "mem://vote.json", voteSchemaDoc)
	require.NoError(t, err)

	ctrl := concurrency.NewController(4, nil)
	client := llmclient.NewClient(transport, ctrl, llmclient.ResolvedConfig{RetryCount: 1})

	p := persona.Persona{Name: config.PersonaMelchior, BaseInstruction: "You are MELCHIOR-1."}
	return NewAgent(p, client, v, 3)
}

func TestThinkReturnsContent(t *testing.T) {
	a := newTestAgent(t, &scriptedTransport{responses: []string{"my analysis"}})
	out, err := a.Think(context.Background(), "Should we ship feature X?")
	require.NoError(t, err)
	require.Equal(t, "my analysis", out.Content)
	require.Equal(t, string(config.PersonaMelchior), out.Persona)
}

func TestThinkWrapsTransportError(t *testing.T) {
	a := newTestAgent(t, &scriptedTransport{errs: []error{errors.New("boom")}})
	_, err := a.Think(context.Background(), "x")
	require.Error(t, err)
}

func TestVoteAcceptsValidPayloadFirstTry(t *testing.T) {
	a := newTestAgent(t, &scriptedTransport{responses: []string{`{"vote":"APPROVE","reason":"looks fine"}`}})
	v, err := a.Vote(context.Background(), "deliberation so far")
	require.NoError(t, err)
	require.Equal(t, "APPROVE", v.Vote)
}

func TestVoteStripsMarkdownFence(t *testing.T) {
	a := newTestAgent(t, &scriptedTransport{responses: []string{"```json\n{\"vote\":\"DENY\",\"reason\":\"no\"}\n```"}})
	v, err := a.Vote(context.Background(), "ctx")
	require.NoError(t, err)
	require.Equal(t, "DENY", v.Vote)
}

func TestVoteRetriesOnSchemaFailureThenSucceeds(t *testing.T) {
	a := newTestAgent(t, &scriptedTransport{responses: []string{
		`{"vote":"MAYBE","reason":"bad enum"}`,
		`{"vote":"APPROVE","reason":"now valid"}`,
	}})
	v, err := a.Vote(context.Background(), "ctx")
	require.NoError(t, err)
	require.Equal(t, "APPROVE", v.Vote)
}

func TestVoteExhaustsRetriesReturnsSentinel(t *testing.T) {
	a := newTestAgent(t, &scriptedTransport{responses: []string{
		`not json at all`,
		`not json at all`,
		`not json at all`,
	}})
	_, err := a.Vote(context.Background(), "ctx")
	require.ErrorIs(t, err, schema.ErrSchemaRetryExceeded)
}
