package config

import "fmt"

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation, fail-fast, stopping at the
// first error. Order matters: quorum/engine invariants are checked before
// the personas that depend on them.
func (v *Validator) ValidateAll() error {
	if err := v.validateQuorum(); err != nil {
		return fmt.Errorf("quorum validation failed: %w", err)
	}
	if err := v.validateEngine(); err != nil {
		return fmt.Errorf("engine validation failed: %w", err)
	}
	if err := v.validateTokenBudget(); err != nil {
		return fmt.Errorf("token budget validation failed: %w", err)
	}
	if err := v.validateStreaming(); err != nil {
		return fmt.Errorf("streaming validation failed: %w", err)
	}
	if err := v.validateConcurrency(); err != nil {
		return fmt.Errorf("concurrency validation failed: %w", err)
	}
	if err := v.validateGuardrails(); err != nil {
		return fmt.Errorf("guardrails validation failed: %w", err)
	}
	if err := v.validateSession(); err != nil {
		return fmt.Errorf("session validation failed: %w", err)
	}
	if err := v.validatePersonas(); err != nil {
		return fmt.Errorf("persona validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateQuorum() error {
	q := v.cfg.Defaults.Quorum
	if q.TotalAgents != 3 {
		return NewValidationError("quorum", "defaults", "total_agents", fmt.Errorf("%w: must be exactly 3, got %d", ErrInvalidValue, q.TotalAgents))
	}
	if q.QuorumThreshold < 1 || q.QuorumThreshold > q.TotalAgents {
		return NewValidationError("quorum", "defaults", "quorum_threshold", fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidValue, q.TotalAgents, q.QuorumThreshold))
	}
	if !q.VotingThreshold.IsValid() {
		return NewValidationError("quorum", "defaults", "voting_threshold", fmt.Errorf("%w: %q", ErrInvalidValue, q.VotingThreshold))
	}
	if q.RetriesPerAgent < 0 {
		return NewValidationError("quorum", "defaults", "retries_per_agent", fmt.Errorf("%w: must be non-negative, got %d", ErrInvalidValue, q.RetriesPerAgent))
	}
	return nil
}

func (v *Validator) validateEngine() error {
	e := v.cfg.Defaults.Engine
	if e.DebateRounds < 0 {
		return NewValidationError("engine", "defaults", "debate_rounds", fmt.Errorf("%w: must be non-negative, got %d", ErrInvalidValue, e.DebateRounds))
	}
	if e.RoundTimeout <= 0 {
		return NewValidationError("engine", "defaults", "round_timeout", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, e.RoundTimeout))
	}
	if e.OverallTimeout <= 0 {
		return NewValidationError("engine", "defaults", "overall_timeout", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, e.OverallTimeout))
	}
	return nil
}

func (v *Validator) validateTokenBudget() error {
	t := v.cfg.Defaults.TokenBudget
	if t.MaxTokens < 1 {
		return NewValidationError("token_budget", "defaults", "max_tokens", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, t.MaxTokens))
	}
	if t.ReductionRatio <= 0 || t.ReductionRatio >= 1 {
		return NewValidationError("token_budget", "defaults", "reduction_ratio", fmt.Errorf("%w: must be in (0, 1), got %f", ErrInvalidValue, t.ReductionRatio))
	}
	if t.EncodingModel == "" {
		return NewValidationError("token_budget", "defaults", "encoding_model", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateStreaming() error {
	s := v.cfg.Defaults.Streaming
	if s.QueueSize < 1 {
		return NewValidationError("streaming", "defaults", "queue_size", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, s.QueueSize))
	}
	if !s.OverflowPolicy.IsValid() {
		return NewValidationError("streaming", "defaults", "overflow_policy", fmt.Errorf("%w: %q", ErrInvalidValue, s.OverflowPolicy))
	}
	if s.EmitTimeout <= 0 {
		return NewValidationError("streaming", "defaults", "emit_timeout", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, s.EmitTimeout))
	}
	return nil
}

func (v *Validator) validateConcurrency() error {
	c := v.cfg.Defaults.Concurrency
	if c.LLMConcurrencyLimit < 1 {
		return NewValidationError("concurrency", "defaults", "llm_concurrency_limit", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, c.LLMConcurrencyLimit))
	}
	return nil
}

func (v *Validator) validateGuardrails() error {
	g := v.cfg.Defaults.Guardrails
	if !g.Policy.IsValid() {
		return NewValidationError("guardrails", "defaults", "policy", fmt.Errorf("%w: %q", ErrInvalidValue, g.Policy))
	}
	for _, p := range g.Providers {
		if p.Name == "" {
			return NewValidationError("guardrails", "provider", "name", ErrMissingRequiredField)
		}
		if p.Timeout <= 0 {
			return NewValidationError("guardrails", p.Name, "timeout", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, p.Timeout))
		}
	}
	return nil
}

func (v *Validator) validateSession() error {
	s := v.cfg.Defaults.Session
	if s.MaxConcurrentSessions < 1 {
		return NewValidationError("session", "defaults", "max_concurrent_sessions", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, s.MaxConcurrentSessions))
	}
	if s.SessionTTL <= 0 {
		return NewValidationError("session", "defaults", "session_ttl", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, s.SessionTTL))
	}
	if s.SweepInterval <= 0 {
		return NewValidationError("session", "defaults", "sweep_interval", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, s.SweepInterval))
	}
	if s.SessionTimeout <= 0 {
		return NewValidationError("session", "defaults", "session_timeout", fmt.Errorf("%w: must be positive, got %v", ErrInvalidValue, s.SessionTimeout))
	}
	return nil
}

func (v *Validator) validatePersonas() error {
	for _, name := range AllPersonas() {
		p, err := v.cfg.PersonaRegistry.Get(name)
		if err != nil {
			return NewValidationError("persona", string(name), "", err)
		}
		if p.LLM.Model == "" {
			return NewValidationError("persona", string(name), "llm.model", ErrMissingRequiredField)
		}
		if p.LLM.Temperature != nil && (*p.LLM.Temperature < 0 || *p.LLM.Temperature > 2) {
			return NewValidationError("persona", string(name), "llm.temperature", fmt.Errorf("%w: must be in [0, 2], got %f", ErrInvalidValue, *p.LLM.Temperature))
		}
		if p.LLM.MaxTokens != nil && *p.LLM.MaxTokens < 1 {
			return NewValidationError("persona", string(name), "llm.max_tokens", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, *p.LLM.MaxTokens))
		}
	}
	return nil
}
