package tokenbudget

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Round is one round of conversational context (a Thinking or Debate
// contribution) subject to budget enforcement.
type Round struct {
	Label string // e.g. "round-1", "thinking"
	Text  string
}

// ReductionLogEntry records what TokenBudgetManager did to fit a context
// within budget.
type ReductionLogEntry struct {
	Strategy             string
	EstimatedTokensBefore int
	EstimatedTokensAfter  int
	RetainRatio          float64
	SummaryApplied       bool
}

// BudgetResult is the outcome of EnforceBudget.
type BudgetResult struct {
	Rounds        []Round
	EstimatedTokens int
	Reduction     *ReductionLogEntry // nil if the context was already under budget
}

// Summarizer produces a shorter version of text, used as the fallback
// reduction step when selection alone does not fit the budget. Implementers
// may call an LLM; a pure-function fallback (head/tail truncation) is used
// automatically if Summarizer is nil or returns an error.
type Summarizer interface {
	Summarize(text string, maxTokens int) (string, error)
}

// Manager enforces a token budget over a set of conversational rounds,
// preferring to preserve the most recent round fully and summarizing or
// truncating older ones.
type Manager struct {
	encoding   *tiktoken.Tiktoken
	summarizer Summarizer
}

// NewManager constructs a TokenBudgetManager using the named tiktoken
// encoding (e.g. "cl100k_base"). summarizer may be nil.
func NewManager(encodingModel string, summarizer Summarizer) (*Manager, error) {
	enc, err := tiktoken.GetEncoding(encodingModel)
	if err != nil {
		return nil, fmt.Errorf("tokenbudget: failed to load encoding %q: %w", encodingModel, err)
	}
	return &Manager{encoding: enc, summarizer: summarizer}, nil
}

// EstimateTokens returns a deterministic token count estimate for text.
func (m *Manager) EstimateTokens(text string) int {
	return len(m.encoding.Encode(text, nil, nil))
}

// EnforceBudget applies the five-step reduction procedure: estimate, pass
// through if under budget, otherwise apply importance selection (keep the
// most recent round intact, summarize older ones), then fall back to
// head/tail truncation if still over budget. The returned context never
// exceeds budget tokens.
func (m *Manager) EnforceBudget(rounds []Round, budget int) BudgetResult {
	total := 0
	for _, r := range rounds {
		total += m.EstimateTokens(r.Text)
	}

	if total <= budget || len(rounds) == 0 {
		return BudgetResult{Rounds: rounds, EstimatedTokens: total}
	}

	reduced := make([]Round, len(rounds))
	copy(reduced, rounds)

	lastIdx := len(reduced) - 1

	// The most recent round is normally preserved intact, but if it alone
	// exceeds the whole budget nothing else can compensate for it (there is
	// nothing left to shrink): bound it first so every later step operates
	// against a keepTokens that already fits.
	if m.EstimateTokens(reduced[lastIdx].Text) > budget {
		reduced[lastIdx].Text = m.headTailTruncate(reduced[lastIdx].Text, budget)
	}
	keepTokens := m.EstimateTokens(reduced[lastIdx].Text)
	summaryApplied := false

	for i := 0; i < lastIdx; i++ {
		budgetForOlder := budget - keepTokens
		if budgetForOlder < 0 {
			budgetForOlder = 0
		}
		perRoundBudget := budgetForOlder / (lastIdx)
		if perRoundBudget < 1 {
			perRoundBudget = 1
		}

		if m.EstimateTokens(reduced[i].Text) <= perRoundBudget {
			continue
		}

		summary, err := m.summarize(reduced[i].Text, perRoundBudget)
		if err != nil {
			slog.Warn("token budget summarization failed, falling back to truncation",
				"round", reduced[i].Label, "error", err)
			summary = m.headTailTruncate(reduced[i].Text, perRoundBudget)
		} else {
			summaryApplied = true
		}
		reduced[i].Text = summary
	}

	newTotal := sumTokens(m, reduced)

	strategy := "importance-selection"
	if newTotal > budget {
		// Still over budget: truncate every older round down to the floor,
		// then claw back whatever still overruns from the most recent round
		// too, so the invariant holds unconditionally regardless of how many
		// rounds there are or how skewed their sizes are.
		strategy = "head-tail-truncation"
		for i := 0; i < lastIdx; i++ {
			reduced[i].Text = m.headTailTruncate(reduced[i].Text, 1)
		}
		olderTotal := sumTokens(m, reduced[:lastIdx])
		lastBudget := budget - olderTotal
		if lastBudget < 1 {
			lastBudget = 1
		}
		reduced[lastIdx].Text = m.headTailTruncate(reduced[lastIdx].Text, lastBudget)
		newTotal = sumTokens(m, reduced)
	}

	return BudgetResult{
		Rounds:          reduced,
		EstimatedTokens: newTotal,
		Reduction: &ReductionLogEntry{
			Strategy:              strategy,
			EstimatedTokensBefore: total,
			EstimatedTokensAfter:  newTotal,
			RetainRatio:           ratio(newTotal, total),
			SummaryApplied:        summaryApplied,
		},
	}
}

func (m *Manager) summarize(text string, maxTokens int) (string, error) {
	if m.summarizer == nil {
		return "", fmt.Errorf("tokenbudget: no summarizer configured")
	}
	return m.summarizer.Summarize(text, maxTokens)
}

// headTailTruncate keeps a budget-proportional slice from the start and end
// of text, dropping the middle. Deterministic and allocation-free fallback
// used when summarization is unavailable or fails.
func (m *Manager) headTailTruncate(text string, maxTokens int) string {
	tokens := m.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	if maxTokens <= 0 {
		return ""
	}

	half := maxTokens / 2
	if half < 1 {
		// Too small a budget for a head+tail split: an exact prefix of the
		// original tokens is the only way to stay within maxTokens.
		return m.encoding.Decode(tokens[:maxTokens])
	}
	headTokens := tokens[:half]
	tailTokens := tokens[len(tokens)-half:]

	head := m.encoding.Decode(headTokens)
	tail := m.encoding.Decode(tailTokens)

	var b strings.Builder
	b.WriteString(head)
	b.WriteString(" […truncated…] ")
	b.WriteString(tail)
	candidate := b.String()

	// The marker itself costs tokens once the assembled string is
	// re-encoded; on a tight budget that can push the result back over
	// maxTokens. Fall back to an exact prefix truncation, which by
	// construction re-encodes to precisely maxTokens tokens.
	if m.EstimateTokens(candidate) > maxTokens {
		return m.encoding.Decode(tokens[:maxTokens])
	}
	return candidate
}

func sumTokens(m *Manager, rounds []Round) int {
	total := 0
	for _, r := range rounds {
		total += m.EstimateTokens(r.Text)
	}
	return total
}

func ratio(after, before int) float64 {
	if before == 0 {
		return 1
	}
	return float64(after) / float64(before)
}
