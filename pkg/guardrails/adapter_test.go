package guardrails

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codeready-toolchain/magi/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name     string
	enabled  bool
	decision GuardDecision
	err      error
	delay    time.Duration
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Enabled() bool   { return s.enabled }
func (s *stubProvider) Evaluate(ctx context.Context, prompt string) (GuardDecision, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return GuardDecision{}, ctx.Err()
		}
	}
	return s.decision, s.err
}

func TestAdapterAllowsWhenAllProvidersAllow(t *testing.T) {
	a := NewAdapter([]Provider{
		&stubProvider{name: "p1", enabled: true, decision: GuardDecision{Decision: DecisionAllow}},
		&stubProvider{name: "p2", enabled: true, decision: GuardDecision{Decision: DecisionAllow}},
	}, time.Second, config.GuardrailPolicyFailClosed)

	result, err := a.Evaluate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, result.Decision.Decision)
}

func TestAdapterShortCircuitsOnDeny(t *testing.T) {
	called := false
	a := NewAdapter([]Provider{
		&stubProvider{name: "p1", enabled: true, decision: GuardDecision{Decision: DecisionDeny, Reason: "blocked"}},
		&stubProvider{name: "p2", enabled: true, decision: GuardDecision{Decision: DecisionAllow}},
	}, time.Second, config.GuardrailPolicyFailClosed)

	result, err := a.Evaluate(context.Background(), "hello")
	require.ErrorIs(t, err, ErrGuardrailDenied)
	assert.Equal(t, "p1", result.Provider)
	assert.False(t, called)
}

func TestAdapterSkipsDisabledProviders(t *testing.T) {
	a := NewAdapter([]Provider{
		&stubProvider{name: "p1", enabled: false, decision: GuardDecision{Decision: DecisionDeny}},
		&stubProvider{name: "p2", enabled: true, decision: GuardDecision{Decision: DecisionAllow}},
	}, time.Second, config.GuardrailPolicyFailClosed)

	result, err := a.Evaluate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, result.Decision.Decision)
}

func TestAdapterFailClosedOnTimeout(t *testing.T) {
	a := NewAdapter([]Provider{
		&stubProvider{name: "slow", enabled: true, delay: 50 * time.Millisecond, decision: GuardDecision{Decision: DecisionAllow}},
	}, 10*time.Millisecond, config.GuardrailPolicyFailClosed)

	_, err := a.Evaluate(context.Background(), "hello")
	require.ErrorIs(t, err, ErrGuardrailDenied)
}

func TestAdapterFailOpenOnError(t *testing.T) {
	a := NewAdapter([]Provider{
		&stubProvider{name: "broken", enabled: true, err: errors.New("boom")},
	}, time.Second, config.GuardrailPolicyFailOpen)

	result, err := a.Evaluate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, result.Decision.Decision)
}
