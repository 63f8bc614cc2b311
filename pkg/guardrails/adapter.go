package guardrails

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/magi/pkg/config"
)

// Decision is the outcome of a single guardrail provider evaluation.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionSanitize Decision = "sanitize"
	DecisionDeny     Decision = "deny"
)

// GuardDecision is what a Provider returns for one prompt evaluation.
type GuardDecision struct {
	Decision     Decision
	Reason       string
	MatchedRules []string
}

// Provider is one guardrail backend in the ordered chain. Implementations
// are expected to be safe for concurrent use; Evaluate is invoked
// sequentially by the Adapter, never concurrently with itself.
type Provider interface {
	Name() string
	Enabled() bool
	Evaluate(ctx context.Context, prompt string) (GuardDecision, error)
}

// ErrGuardrailDenied is returned by Evaluate when a provider denies the
// prompt, or when a fail-closed policy converts a timeout/error into a deny.
var ErrGuardrailDenied = errors.New("guardrails: prompt denied")

// Adapter runs an ordered chain of guardrail Providers ahead of the
// SecurityFilter, applying a per-provider timeout and a configurable
// fail-open/fail-closed policy on timeout or error.
type Adapter struct {
	providers []Provider
	timeout   time.Duration
	policy    config.GuardrailPolicy
}

// NewAdapter constructs a GuardrailsAdapter. providers are evaluated in the
// given order; the first deny short-circuits evaluation.
func NewAdapter(providers []Provider, timeout time.Duration, policy config.GuardrailPolicy) *Adapter {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Adapter{providers: providers, timeout: timeout, policy: policy}
}

// Result is the aggregate outcome of running the provider chain.
type Result struct {
	Decision GuardDecision
	Provider string // name of the provider that produced the final decision, "" if all allowed
}

// Evaluate runs every enabled provider in order against prompt. It stops at
// the first deny. A provider that times out or errors is handled according
// to the configured GuardrailPolicy.
func (a *Adapter) Evaluate(ctx context.Context, prompt string) (Result, error) {
	for _, p := range a.providers {
		if !p.Enabled() {
			continue
		}

		decision, err := a.evaluateOne(ctx, p, prompt)
		if err != nil {
			if a.policy == config.GuardrailPolicyFailOpen {
				slog.Warn("guardrail provider failed, proceeding (fail-open)",
					"provider", p.Name(), "error", err)
				continue
			}
			slog.Error("guardrail provider failed, denying (fail-closed)",
				"provider", p.Name(), "error", err)
			return Result{
				Decision: GuardDecision{Decision: DecisionDeny, Reason: fmt.Sprintf("provider %s failed: %v", p.Name(), err)},
				Provider: p.Name(),
			}, ErrGuardrailDenied
		}

		if decision.Decision == DecisionDeny {
			return Result{Decision: decision, Provider: p.Name()}, ErrGuardrailDenied
		}
	}

	return Result{Decision: GuardDecision{Decision: DecisionAllow}}, nil
}

func (a *Adapter) evaluateOne(ctx context.Context, p Provider, prompt string) (GuardDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		decision GuardDecision
		err      error
	}
	ch := make(chan outcome, 1)

	go func() {
		decision, err := p.Evaluate(ctx, prompt)
		ch <- outcome{decision, err}
	}()

	select {
	case <-ctx.Done():
		return GuardDecision{}, fmt.Errorf("guardrail provider %s timed out after %v: %w", p.Name(), a.timeout, ctx.Err())
	case o := <-ch:
		return o.decision, o.err
	}
}
