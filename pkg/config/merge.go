package config

// mergePersonaLLM field-by-field overlays an override onto a base
// PersonaLLMConfig: any field set on override wins, anything left zero/nil
// falls through to base. Deliberately non-reflective (explicit per-field)
// to mirror the teacher's mergeAgents/mergeLLMProviders style and to keep
// the precedence rules auditable at a glance.
func mergePersonaLLM(base, override PersonaLLMConfig) PersonaLLMConfig {
	merged := base

	if override.Provider != "" {
		merged.Provider = override.Provider
	}
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.APIKey != "" {
		merged.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		merged.BaseURL = override.BaseURL
	}
	if override.Temperature != nil {
		merged.Temperature = override.Temperature
	}
	if override.MaxTokens != nil {
		merged.MaxTokens = override.MaxTokens
	}
	if override.Timeout != nil {
		merged.Timeout = override.Timeout
	}
	if override.RetryCount != nil {
		merged.RetryCount = override.RetryCount
	}

	return merged
}

// applyLLMProviderOverride resolves a named LLM provider reference onto a
// PersonaLLMConfig, filling in anything the persona block itself left
// unset. A provider reference never overrides a field the persona set
// explicitly — it only fills gaps, so precedence runs
// provider-default < named-provider < persona-block.
func applyLLMProviderOverride(persona PersonaLLMConfig, provider *LLMProviderConfig) PersonaLLMConfig {
	if provider == nil {
		return persona
	}

	fromProvider := PersonaLLMConfig{
		Model:       provider.Model,
		APIKey:      provider.APIKey,
		BaseURL:     provider.BaseURL,
		Temperature: floatPtr(provider.Temperature),
		MaxTokens:   intPtr(provider.MaxTokens),
		Timeout:     durationPtr(provider.Timeout),
		RetryCount:  intPtr(provider.RetryCount),
	}

	return mergePersonaLLM(fromProvider, persona)
}

// resolvePersonaLLM computes the final PersonaLLMConfig for a persona:
// Defaults.LLM, overlaid by the named provider (if the persona references
// one via Provider), overlaid finally by the persona's own llm block.
func resolvePersonaLLM(defaults PersonaLLMConfig, providers *LLMProviderRegistry, raw PersonaLLMConfig) (PersonaLLMConfig, error) {
	resolved := mergePersonaLLM(defaults, raw)

	if raw.Provider != "" {
		provider, err := providers.Get(raw.Provider)
		if err != nil {
			return PersonaLLMConfig{}, err
		}
		resolved = applyLLMProviderOverride(resolved, provider)
	}

	return resolved, nil
}

// mergeDefaults field-by-field overlays a user-supplied Defaults block onto
// the hardcoded baseline, section by section. Zero-valued sections/fields in
// the user block leave the baseline untouched.
func mergeDefaults(base, override Defaults) Defaults {
	merged := base

	merged.LLM = mergePersonaLLM(base.LLM, override.LLM)

	if override.Engine.DebateRounds != 0 {
		merged.Engine.DebateRounds = override.Engine.DebateRounds
	}
	if override.Engine.RoundTimeout != 0 {
		merged.Engine.RoundTimeout = override.Engine.RoundTimeout
	}
	if override.Engine.OverallTimeout != 0 {
		merged.Engine.OverallTimeout = override.Engine.OverallTimeout
	}

	if override.Quorum.TotalAgents != 0 {
		merged.Quorum.TotalAgents = override.Quorum.TotalAgents
	}
	if override.Quorum.QuorumThreshold != 0 {
		merged.Quorum.QuorumThreshold = override.Quorum.QuorumThreshold
	}
	if override.Quorum.VotingThreshold != "" {
		merged.Quorum.VotingThreshold = override.Quorum.VotingThreshold
	}
	if override.Quorum.RetriesPerAgent != 0 {
		merged.Quorum.RetriesPerAgent = override.Quorum.RetriesPerAgent
	}

	if override.TokenBudget.MaxTokens != 0 {
		merged.TokenBudget.MaxTokens = override.TokenBudget.MaxTokens
	}
	if override.TokenBudget.ReductionRatio != 0 {
		merged.TokenBudget.ReductionRatio = override.TokenBudget.ReductionRatio
	}
	if override.TokenBudget.EncodingModel != "" {
		merged.TokenBudget.EncodingModel = override.TokenBudget.EncodingModel
	}

	if override.Streaming.QueueSize != 0 {
		merged.Streaming.QueueSize = override.Streaming.QueueSize
	}
	if override.Streaming.OverflowPolicy != "" {
		merged.Streaming.OverflowPolicy = override.Streaming.OverflowPolicy
	}
	if override.Streaming.EmitTimeout != 0 {
		merged.Streaming.EmitTimeout = override.Streaming.EmitTimeout
	}

	if override.Concurrency.LLMConcurrencyLimit != 0 {
		merged.Concurrency.LLMConcurrencyLimit = override.Concurrency.LLMConcurrencyLimit
	}

	if len(override.Guardrails.Providers) != 0 {
		merged.Guardrails.Providers = override.Guardrails.Providers
	}
	if override.Guardrails.Policy != "" {
		merged.Guardrails.Policy = override.Guardrails.Policy
	}

	merged.Security.HashMode = base.Security.HashMode || override.Security.HashMode

	if override.Template.Dir != "" {
		merged.Template.Dir = override.Template.Dir
	}
	if override.Template.TTL != 0 {
		merged.Template.TTL = override.Template.TTL
	}
	merged.Template.ForceReload = base.Template.ForceReload || override.Template.ForceReload

	if override.Schema.VoteSchemaPath != "" {
		merged.Schema.VoteSchemaPath = override.Schema.VoteSchemaPath
	}
	if override.Schema.DebateSchemaPath != "" {
		merged.Schema.DebateSchemaPath = override.Schema.DebateSchemaPath
	}

	if override.Session.MaxConcurrentSessions != 0 {
		merged.Session.MaxConcurrentSessions = override.Session.MaxConcurrentSessions
	}
	if override.Session.SessionTTL != 0 {
		merged.Session.SessionTTL = override.Session.SessionTTL
	}
	if override.Session.SweepInterval != 0 {
		merged.Session.SweepInterval = override.Session.SweepInterval
	}
	if override.Session.SessionTimeout != 0 {
		merged.Session.SessionTimeout = override.Session.SessionTimeout
	}

	if override.Notify.SlackToken != "" {
		merged.Notify.SlackToken = override.Notify.SlackToken
	}
	if override.Notify.SlackChannel != "" {
		merged.Notify.SlackChannel = override.Notify.SlackChannel
	}
	if override.Notify.DashboardURL != "" {
		merged.Notify.DashboardURL = override.Notify.DashboardURL
	}
	merged.Notify.Enabled = base.Notify.Enabled || override.Notify.Enabled

	return merged
}

// ResolveSystemPrompt applies a persona's system_prompt override onto a
// built-in base instruction: append-only unless the persona carries
// full_override permission, in which case the override replaces the base
// prompt entirely. Exported for pkg/persona, which owns the three personas'
// hardcoded base instructions.
func ResolveSystemPrompt(base string, persona PersonaConfig) string {
	return mergeSystemPrompt(base, persona)
}

// mergeSystemPrompt applies a persona's system_prompt override: append-only
// unless the persona carries full_override permission, in which case the
// override replaces the base prompt entirely.
func mergeSystemPrompt(base string, persona PersonaConfig) string {
	if persona.SystemPrompt == "" {
		return base
	}
	if persona.IsFullOverride() {
		return persona.SystemPrompt
	}
	if base == "" {
		return persona.SystemPrompt
	}
	return base + "\n\n" + persona.SystemPrompt
}
