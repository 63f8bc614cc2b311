package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/magi/pkg/config"
	"github.com/codeready-toolchain/magi/pkg/consensusagent"
	"github.com/codeready-toolchain/magi/pkg/guardrails"
	"github.com/codeready-toolchain/magi/pkg/quorum"
	"github.com/codeready-toolchain/magi/pkg/schema"
	"github.com/codeready-toolchain/magi/pkg/security"
	"github.com/codeready-toolchain/magi/pkg/streaming"
	"github.com/codeready-toolchain/magi/pkg/tokenbudget"
)

// ErrCancelled is returned by Run when the session was cancelled before or
// during execution. Per §7, no error event is emitted for cancellation;
// phase becomes CANCELLED and the broadcast ends.
var ErrCancelled = errors.New("engine: session cancelled")

// ErrQuorumLost is returned by Run when too many personas were excluded to
// produce a valid result.
var ErrQuorumLost = errors.New("engine: quorum lost")

// Options parameterizes one session's run.
type Options struct {
	DebateRounds    int
	RoundTimeout    time.Duration
	OverallTimeout  time.Duration
	TokenBudget     int
	VotingThreshold config.VotingThreshold
}

// Engine drives one session's deliberation: Security/Guardrails vetting,
// then THINKING→DEBATE→VOTING→RESOLVED across three persona Agents.
// Exclusively owned by one session for its lifetime — never shared.
type Engine struct {
	agents      map[config.PersonaName]*consensusagent.Agent
	security    *security.Filter
	guardrails  *guardrails.Adapter
	tokenBudget *tokenbudget.Manager
	quorum      *quorum.Manager
	emitter     *streaming.Emitter
	options     Options
}

// New constructs an Engine for one session. agents must contain exactly the
// three fixed personas (config.AllPersonas()).
func New(
	agents map[config.PersonaName]*consensusagent.Agent,
	sec *security.Filter,
	grd *guardrails.Adapter,
	tb *tokenbudget.Manager,
	qm *quorum.Manager,
	emitter *streaming.Emitter,
	options Options,
) *Engine {
	if options.DebateRounds <= 0 {
		options.DebateRounds = 1
	}
	if options.VotingThreshold == "" {
		options.VotingThreshold = config.VotingThresholdMajority
	}
	return &Engine{
		agents:      agents,
		security:    sec,
		guardrails:  grd,
		tokenBudget: tb,
		quorum:      qm,
		emitter:     emitter,
		options:     options,
	}
}

// Run executes the full state machine for prompt and returns the
// FinalResult, or an error (ErrCancelled, ErrQuorumLost, or a wrapped
// transport/guardrail error) if the session did not resolve.
func (e *Engine) Run(ctx context.Context, prompt string) (FinalResult, error) {
	if ctx.Err() != nil {
		e.emitCancelled(ctx)
		return FinalResult{}, ErrCancelled
	}

	sanitizedPrompt, err := e.vet(ctx, prompt)
	if err != nil {
		e.emitError(ctx, ErrCodeCore, err.Error())
		return FinalResult{}, err
	}

	if err := e.checkBoundary(ctx); err != nil {
		return FinalResult{}, err
	}

	thinking, err := e.runThinking(ctx, sanitizedPrompt)
	if err != nil {
		return FinalResult{}, err
	}

	if err := e.checkBoundary(ctx); err != nil {
		return FinalResult{}, err
	}

	lastRound, err := e.runDebate(ctx, thinking)
	if err != nil {
		return FinalResult{}, err
	}

	if err := e.checkBoundary(ctx); err != nil {
		return FinalResult{}, err
	}

	final, err := e.runVoting(ctx, thinking, lastRound)
	if err != nil {
		return FinalResult{}, err
	}

	e.emitPhase(ctx, PhaseResolved, true)
	e.emitProgress(ctx, ProgressResolved)
	e.emitFinal(ctx, final)

	return final, nil
}

// checkBoundary is called at every phase boundary and between Debate
// rounds, per §5's cooperative cancellation contract.
func (e *Engine) checkBoundary(ctx context.Context) error {
	if ctx.Err() != nil {
		e.emitCancelled(ctx)
		return ErrCancelled
	}
	return nil
}

func (e *Engine) emitCancelled(ctx context.Context) {
	e.emitPhaseBestEffort(PhaseCancelled, true)
}

// vet runs the guardrails chain, then the security filter, over prompt,
// returning the sanitized text the engine operates on downstream. Per
// §4.2's explicit ordering statement ("Runs before SecurityFilter"),
// guardrails see the raw prompt; the security filter then normalizes and
// masks whatever guardrails allowed through.
func (e *Engine) vet(ctx context.Context, prompt string) (string, error) {
	if e.guardrails != nil {
		result, err := e.guardrails.Evaluate(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("guardrails denied prompt (provider=%s, reason=%s): %w",
				result.Provider, result.Decision.Reason, err)
		}
	}

	if e.security == nil {
		return prompt, nil
	}
	sanitized := e.security.Sanitize(prompt)
	return sanitized.SanitizedText, nil
}

// runThinking gathers every alive persona's Think output in parallel,
// tolerating individual failures up to the quorum floor.
func (e *Engine) runThinking(ctx context.Context, prompt string) (map[config.PersonaName]consensusagent.ThinkingOutput, error) {
	e.emitPhase(ctx, PhaseThinking, false)
	e.emitProgress(ctx, ProgressThinkingStart)

	roundCtx := ctx
	var cancel context.CancelFunc
	if e.options.RoundTimeout > 0 {
		roundCtx, cancel = context.WithTimeout(ctx, e.options.RoundTimeout)
		defer cancel()
	}

	type result struct {
		name   config.PersonaName
		output consensusagent.ThinkingOutput
		err    error
	}

	alive := e.quorum.AlivePersonas()
	results := make(chan result, len(alive))
	var wg sync.WaitGroup

	for _, name := range alive {
		name := name
		agent := e.agents[name]
		e.emitUnit(ctx, name, UnitThinking, "")

		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := agent.Think(roundCtx, prompt)
			results <- result{name: name, output: out, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outputs := make(map[config.PersonaName]consensusagent.ThinkingOutput, len(alive))
	for r := range results {
		if r.err != nil {
			e.noteFailure(ctx, r.name, r.err)
			continue
		}
		outputs[r.name] = r.output
	}

	e.emitProgress(ctx, ProgressThinkingEnd)

	if !e.quorum.QuorumMet() {
		return nil, e.failQuorum(ctx)
	}
	return outputs, nil
}

// runDebate runs options.DebateRounds sequential rounds, enforcing the
// token budget on accumulated context before each round and maintaining
// strict round isolation (agents only ever see the *previous* round's
// outputs). Returns the final round's per-persona outputs.
//
// previous[name] carries each persona's own running context forward across
// rounds — each round's output is appended to it, never replacing it — so
// the deliberation genuinely grows round over round the way spec §8
// Scenario 6 describes, and enforceDebateBudget has real multi-round
// content to reduce rather than a single fresh round every time.
func (e *Engine) runDebate(ctx context.Context, thinking map[config.PersonaName]consensusagent.ThinkingOutput) (map[config.PersonaName]consensusagent.DebateOutput, error) {
	e.emitPhase(ctx, PhaseDebate, false)

	previous := make(map[config.PersonaName]string, len(thinking))
	for name, out := range thinking {
		previous[name] = out.Content
	}
	var lastRound map[config.PersonaName]consensusagent.DebateOutput

	for round := 1; round <= e.options.DebateRounds; round++ {
		if err := e.checkBoundary(ctx); err != nil {
			return nil, err
		}

		e.enforceDebateBudget(previous, e.quorum.AlivePersonas())

		roundCtx := ctx
		var cancel context.CancelFunc
		if e.options.RoundTimeout > 0 {
			roundCtx, cancel = context.WithTimeout(ctx, e.options.RoundTimeout)
		}

		// Snapshot of the previous round's outputs, frozen before any
		// goroutine for *this* round starts, guaranteeing round isolation.
		snapshot := make([]consensusagent.DebateOutput, 0, len(previous))
		for name, content := range previous {
			snapshot = append(snapshot, consensusagent.DebateOutput{Persona: string(name), Content: content, Round: round - 1})
		}

		type result struct {
			name   config.PersonaName
			output consensusagent.DebateOutput
			err    error
		}

		alive := e.quorum.AlivePersonas()
		results := make(chan result, len(alive))
		var wg sync.WaitGroup

		for _, name := range alive {
			name := name
			agent := e.agents[name]
			others := othersExcept(snapshot, name)
			e.emitUnit(ctx, name, UnitDebating, fmt.Sprintf("round %d", round))

			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := agent.Debate(roundCtx, previous[name], others, round)
				results <- result{name: name, output: out, err: err}
			}()
		}

		go func() {
			wg.Wait()
			close(results)
		}()

		roundOutputs := make(map[config.PersonaName]consensusagent.DebateOutput, len(alive))
		for r := range results {
			if r.err != nil {
				e.noteFailure(ctx, r.name, r.err)
				continue
			}
			roundOutputs[r.name] = r.output
		}
		if cancel != nil {
			cancel()
		}

		if !e.quorum.QuorumMet() {
			return nil, e.failQuorum(ctx)
		}

		lastRound = roundOutputs
		for name, out := range roundOutputs {
			previous[name] = previous[name] + fmt.Sprintf("\n\n[round %d] %s", round, out.Content)
		}

		e.emitProgress(ctx, DebateProgress(round, e.options.DebateRounds))
	}

	return lastRound, nil
}

func othersExcept(all []consensusagent.DebateOutput, exclude config.PersonaName) []consensusagent.DebateOutput {
	out := make([]consensusagent.DebateOutput, 0, len(all))
	for _, o := range all {
		if o.Persona != string(exclude) {
			out = append(out, o)
		}
	}
	return out
}

// enforceDebateBudget bounds each alive persona's accumulated running
// context to options.TokenBudget. order must be a deterministic persona
// ordering (e.g. quorum.AlivePersonas(), which is canonically sorted) —
// never derived from ranging previous directly, since Go map iteration
// order is randomized and would make the choice of which persona's context
// gets preserved intact nondeterministic across runs.
func (e *Engine) enforceDebateBudget(previous map[config.PersonaName]string, order []config.PersonaName) {
	if e.tokenBudget == nil || e.options.TokenBudget <= 0 {
		return
	}
	rounds := make([]tokenbudget.Round, 0, len(order))
	for _, name := range order {
		rounds = append(rounds, tokenbudget.Round{Label: string(name), Text: previous[name]})
	}
	result := e.tokenBudget.EnforceBudget(rounds, e.options.TokenBudget)
	if result.Reduction != nil {
		slog.Info("token budget reduction applied",
			"strategy", result.Reduction.Strategy,
			"tokens_before", result.Reduction.EstimatedTokensBefore,
			"tokens_after", result.Reduction.EstimatedTokensAfter,
			"summary_applied", result.Reduction.SummaryApplied)
		for _, r := range result.Rounds {
			previous[config.PersonaName(r.Label)] = r.Text
		}
	}
}

// runVoting gathers every alive persona's Vote, excluding any that exhaust
// their schema retry budget, then tallies and decides.
func (e *Engine) runVoting(
	ctx context.Context,
	thinking map[config.PersonaName]consensusagent.ThinkingOutput,
	lastRound map[config.PersonaName]consensusagent.DebateOutput,
) (FinalResult, error) {
	e.emitPhase(ctx, PhaseVoting, false)
	e.emitProgress(ctx, ProgressVotingStart)

	deliberationContext := buildDeliberationContext(thinking, lastRound)

	roundCtx := ctx
	var cancel context.CancelFunc
	if e.options.RoundTimeout > 0 {
		roundCtx, cancel = context.WithTimeout(ctx, e.options.RoundTimeout)
		defer cancel()
	}

	type result struct {
		name   config.PersonaName
		vote   consensusagent.VotePayload
		err    error
	}

	alive := e.quorum.AlivePersonas()
	results := make(chan result, len(alive))
	var wg sync.WaitGroup

	for _, name := range alive {
		name := name
		agent := e.agents[name]
		e.emitUnit(ctx, name, UnitVoting, "")

		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := agent.Vote(roundCtx, deliberationContext)
			results <- result{name: name, vote: v, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	votes := make(map[config.PersonaName]consensusagent.VotePayload, len(alive))
	for r := range results {
		if r.err != nil {
			if errors.Is(r.err, schema.ErrSchemaRetryExceeded) {
				e.quorum.Exclude(r.name)
			} else {
				e.noteFailure(ctx, r.name, r.err)
			}
			continue
		}
		votes[r.name] = r.vote
		e.emitUnit(ctx, r.name, UnitVoted, "")
	}

	if !e.quorum.QuorumMet() {
		return FinalResult{}, e.failQuorum(ctx)
	}

	tally := quorum.TallyVotes(toConfigVotes(votes))
	decision := quorum.Decide(tally, e.quorum.AliveCount(), e.options.VotingThreshold)

	state := e.quorum.State()
	final := FinalResult{
		Decision:         decision,
		Votes:            toVoteRecords(votes),
		ExitCode:         decision.ExitCode(),
		PartialResults:   state.PartialResults,
		ExcludedPersonas: state.ExcludedPersonas,
	}
	return final, nil
}

func toConfigVotes(votes map[config.PersonaName]consensusagent.VotePayload) map[config.PersonaName]config.Vote {
	out := make(map[config.PersonaName]config.Vote, len(votes))
	for name, v := range votes {
		out[name] = config.Vote(v.Vote)
	}
	return out
}

func toVoteRecords(votes map[config.PersonaName]consensusagent.VotePayload) map[config.PersonaName]VoteRecord {
	out := make(map[config.PersonaName]VoteRecord, len(votes))
	for name, v := range votes {
		out[name] = VoteRecord{Vote: config.Vote(v.Vote), Reason: v.Reason, Conditions: v.Conditions}
	}
	return out
}

func buildDeliberationContext(thinking map[config.PersonaName]consensusagent.ThinkingOutput, lastRound map[config.PersonaName]consensusagent.DebateOutput) string {
	var b []byte
	b = append(b, "Initial positions:\n"...)
	for name, out := range thinking {
		b = append(b, fmt.Sprintf("- %s: %s\n", name, out.Content)...)
	}
	b = append(b, "\nFinal debate positions:\n"...)
	for name, out := range lastRound {
		b = append(b, fmt.Sprintf("- %s: %s\n", name, out.Content)...)
	}
	return string(b)
}

// noteFailure records a transient per-persona failure and excludes the
// persona once its retry budget is exhausted.
func (e *Engine) noteFailure(ctx context.Context, name config.PersonaName, err error) {
	slog.Warn("persona operation failed", "persona", name, "error", err)
	if e.quorum.NoteFailure(name) {
		e.quorum.Exclude(name)
		e.emitUnit(ctx, name, UnitIdle, "excluded: "+err.Error())
	}
}

func (e *Engine) failQuorum(ctx context.Context) error {
	state := e.quorum.State()
	msg := state.FailSafeMessage()
	e.emitPhase(ctx, PhaseError, true)
	e.emitError(ctx, ErrCodeCore, msg)
	return fmt.Errorf("%w: %s", ErrQuorumLost, msg)
}

func (e *Engine) emitPhase(_ context.Context, phase Phase, critical bool) {
	e.emitPhaseBestEffort(phase, critical)
}

// emitPhaseBestEffort emits regardless of ctx cancellation: terminal phase
// events (CANCELLED, ERROR, RESOLVED) must still reach subscribers even
// when the triggering context is the one that just got cancelled.
func (e *Engine) emitPhaseBestEffort(phase Phase, critical bool) {
	priority := streaming.Normal
	if critical {
		priority = streaming.Critical
	}
	_ = e.emitter.Emit(context.Background(), EventTypePhase, PhaseEvent{Phase: phase}, priority)
}

func (e *Engine) emitProgress(_ context.Context, pct int) {
	_ = e.emitter.Emit(context.Background(), EventTypeProgress, ProgressEvent{Pct: pct}, streaming.Normal)
}

func (e *Engine) emitUnit(_ context.Context, name config.PersonaName, state UnitState, message string) {
	_ = e.emitter.Emit(context.Background(), EventTypeUnit, UnitEvent{Unit: name, State: state, Message: message}, streaming.Normal)
}

func (e *Engine) emitError(_ context.Context, code ErrorCode, message string) {
	_ = e.emitter.Emit(context.Background(), EventTypeError, ErrorEvent{Code: code, Message: message}, streaming.Critical)
}

func (e *Engine) emitFinal(_ context.Context, final FinalResult) {
	votes := make(map[config.PersonaName]VoteEventEntry, len(final.Votes))
	for name, v := range final.Votes {
		votes[name] = VoteEventEntry{Vote: v.Vote, Reason: v.Reason, Conditions: v.Conditions}
	}
	_ = e.emitter.Emit(context.Background(), EventTypeFinal, FinalEvent{
		Decision:         final.Decision,
		Votes:            votes,
		Summary:          final.Summary,
		PartialResults:   final.PartialResults,
		ExcludedPersonas: final.ExcludedPersonas,
	}, streaming.Critical)
}
