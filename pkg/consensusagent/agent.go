// Package consensusagent implements one persona's per-phase LLM operations:
// Think, Debate, and Vote. Grounded on the teacher's agent.BaseAgent /
// Controller strategy split (Execute delegates to a pluggable Controller.Run
// per phase) — here Agent itself plays that role, since MAGI's three phases
// are fixed rather than pluggable.
package consensusagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/magi/pkg/llmclient"
	"github.com/codeready-toolchain/magi/pkg/persona"
	"github.com/codeready-toolchain/magi/pkg/schema"
)

// ThinkingOutput is one persona's Thinking-phase contribution.
type ThinkingOutput struct {
	Persona   string
	Content   string
	Round     int
	Timestamp time.Time
}

// DebateOutput is one persona's contribution to a single Debate round.
type DebateOutput struct {
	Persona   string
	Content   string
	Round     int
	Timestamp time.Time
}

// VotePayload is the structured decision a persona casts in the Voting
// phase. Must pass schema validation before Agent.Vote returns it.
type VotePayload struct {
	Vote       string   `json:"vote"`
	Reason     string   `json:"reason"`
	Conditions []string `json:"conditions,omitempty"`
}

// Agent runs one persona's Think/Debate/Vote operations against its
// resolved LLMClient, validating Vote output against a shared schema with a
// bounded retry loop. Retry ownership lives here (not in schema.Validator),
// per the Open Question resolution: the validator is a pure check, the
// agent owns re-prompting.
type Agent struct {
	Persona          persona.Persona
	Client           *llmclient.Client
	VoteSchema       *schema.Validator
	SchemaRetryCount int
}

// NewAgent constructs an Agent for one persona. schemaRetryCount defaults to
// 3 when non-positive.
func NewAgent(p persona.Persona, client *llmclient.Client, voteSchema *schema.Validator, schemaRetryCount int) *Agent {
	if schemaRetryCount <= 0 {
		schemaRetryCount = 3
	}
	return &Agent{Persona: p, Client: client, VoteSchema: voteSchema, SchemaRetryCount: schemaRetryCount}
}

// Think runs the persona's system prompt against the user's prompt. Any
// transport failure (after LLMClient's own retry budget is exhausted)
// propagates to the engine, which records it via QuorumManager.NoteFailure.
func (a *Agent) Think(ctx context.Context, prompt string) (ThinkingOutput, error) {
	resp, err := a.Client.Complete(ctx, llmclient.Request{
		SystemPrompt: a.Persona.SystemPrompt(),
		UserPrompt:   thinkingPrompt(prompt),
	})
	if err != nil {
		return ThinkingOutput{}, fmt.Errorf("consensusagent: %s think: %w", a.Persona.Name, err)
	}
	return ThinkingOutput{
		Persona:   string(a.Persona.Name),
		Content:   resp.Content,
		Round:     0,
		Timestamp: time.Now(),
	}, nil
}

// Debate runs one Debate round. others carries every other alive persona's
// output from the *previous* round only — the engine is responsible for
// round isolation (never passing the current round's in-flight outputs).
func (a *Agent) Debate(ctx context.Context, ownPrevious string, others []DebateOutput, round int) (DebateOutput, error) {
	resp, err := a.Client.Complete(ctx, llmclient.Request{
		SystemPrompt: a.Persona.SystemPrompt(),
		UserPrompt:   debatePrompt(ownPrevious, others, round),
	})
	if err != nil {
		return DebateOutput{}, fmt.Errorf("consensusagent: %s debate round %d: %w", a.Persona.Name, round, err)
	}
	return DebateOutput{
		Persona:   string(a.Persona.Name),
		Content:   resp.Content,
		Round:     round,
		Timestamp: time.Now(),
	}, nil
}

// Vote requests a structured vote from the persona, validating the response
// against VoteSchema. On validation failure it re-prompts with the
// validator's reason appended, up to SchemaRetryCount attempts; on
// exhaustion it returns schema.ErrSchemaRetryExceeded, which the engine
// translates into a QuorumManager exclusion for this persona.
func (a *Agent) Vote(ctx context.Context, deliberationContext string) (VotePayload, error) {
	prompt := votePrompt(deliberationContext)

	var lastReason string
	for attempt := 0; attempt < a.SchemaRetryCount; attempt++ {
		if attempt > 0 {
			prompt = votePrompt(deliberationContext) + "\n\nYour previous response was rejected: " + lastReason +
				"\nRespond again with ONLY a JSON object matching the schema."
		}

		resp, err := a.Client.Complete(ctx, llmclient.Request{
			SystemPrompt: a.Persona.SystemPrompt(),
			UserPrompt:   prompt,
		})
		if err != nil {
			return VotePayload{}, fmt.Errorf("consensusagent: %s vote: %w", a.Persona.Name, err)
		}

		raw := extractJSON(resp.Content)
		result := a.VoteSchema.Validate([]byte(raw))
		if !result.Valid {
			lastReason = result.Reason
			continue
		}

		var payload VotePayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			lastReason = fmt.Sprintf("valid against schema but failed to decode: %v", err)
			continue
		}
		return payload, nil
	}

	return VotePayload{}, fmt.Errorf("consensusagent: %s vote: %w (last reason: %s)",
		a.Persona.Name, schema.ErrSchemaRetryExceeded, lastReason)
}

func thinkingPrompt(userPrompt string) string {
	return "Consider the following proposal independently, without seeing any other reviewer's opinion:\n\n" + userPrompt
}

func debatePrompt(ownPrevious string, others []DebateOutput, round int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Debate round %d. Here is your own previous position:\n%s\n\n", round, ownPrevious)
	b.WriteString("Here are the other reviewers' positions from the previous round:\n")
	for _, o := range others {
		fmt.Fprintf(&b, "- %s: %s\n", o.Persona, o.Content)
	}
	b.WriteString("\nRespond with your updated position, addressing any disagreement directly.")
	return b.String()
}

func votePrompt(deliberationContext string) string {
	return "Based on the full deliberation below, cast your final vote.\n\n" + deliberationContext +
		"\n\nRespond with ONLY a JSON object: " +
		`{"vote":"APPROVE"|"DENY"|"CONDITIONAL","reason":"...","conditions":["..."]}` +
		" (conditions is optional, include only for CONDITIONAL)."
}

// extractJSON strips Markdown code fences an LLM may wrap its JSON output
// in, returning the first balanced JSON object found in text.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
