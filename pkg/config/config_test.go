package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDefaultsValidates(t *testing.T) {
	defaults := DefaultDefaults()
	cfg := &Config{
		Defaults:            &defaults,
		LLMProviderRegistry: NewLLMProviderRegistry(nil),
		PersonaRegistry:     NewPersonaRegistry(resolveAllDefaultPersonas(t, defaults)),
	}

	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func resolveAllDefaultPersonas(t *testing.T, defaults Defaults) map[PersonaName]*PersonaConfig {
	t.Helper()
	providers := NewLLMProviderRegistry(nil)
	personas := make(map[PersonaName]*PersonaConfig, len(AllPersonas()))
	for _, name := range AllPersonas() {
		llm, err := resolvePersonaLLM(defaults.LLM, providers, PersonaLLMConfig{})
		require.NoError(t, err)
		personas[name] = &PersonaConfig{Name: name, LLM: llm}
	}
	return personas
}

func TestMergePersonaLLMOverridesOnlySetFields(t *testing.T) {
	base := PersonaLLMConfig{
		Model:       "gpt-4o",
		Temperature: floatPtr(0.7),
		MaxTokens:   intPtr(4096),
		Timeout:     durationPtr(30 * time.Second),
	}
	override := PersonaLLMConfig{
		Temperature: floatPtr(0.2),
	}

	merged := mergePersonaLLM(base, override)

	assert.Equal(t, "gpt-4o", merged.Model)
	assert.Equal(t, 0.2, *merged.Temperature)
	assert.Equal(t, 4096, *merged.MaxTokens)
	assert.Equal(t, 30*time.Second, *merged.Timeout)
}

func TestApplyLLMProviderOverrideFillsGapsOnly(t *testing.T) {
	persona := PersonaLLMConfig{
		Model: "persona-specified-model",
	}
	provider := &LLMProviderConfig{
		Model:       "provider-model",
		APIKey:      "sk-provider",
		Temperature: 0.5,
		MaxTokens:   2048,
		Timeout:     10 * time.Second,
	}

	resolved := applyLLMProviderOverride(persona, provider)

	assert.Equal(t, "persona-specified-model", resolved.Model, "persona block must win over provider")
	assert.Equal(t, "sk-provider", resolved.APIKey)
	assert.Equal(t, 0.5, *resolved.Temperature)
}

func TestResolvePersonaLLMUnknownProviderErrors(t *testing.T) {
	providers := NewLLMProviderRegistry(nil)
	_, err := resolvePersonaLLM(DefaultDefaults().LLM, providers, PersonaLLMConfig{Provider: "nonexistent"})
	require.ErrorIs(t, err, ErrLLMProviderNotFound)
}

func TestMergeSystemPromptAppendsByDefault(t *testing.T) {
	base := "You are MELCHIOR-1."
	persona := PersonaConfig{SystemPrompt: "Be especially skeptical of financial claims."}

	merged := mergeSystemPrompt(base, persona)

	assert.Contains(t, merged, base)
	assert.Contains(t, merged, persona.SystemPrompt)
}

func TestMergeSystemPromptFullOverrideReplaces(t *testing.T) {
	base := "You are MELCHIOR-1."
	persona := PersonaConfig{SystemPrompt: "Replacement prompt.", Permission: "full_override"}

	merged := mergeSystemPrompt(base, persona)

	assert.Equal(t, "Replacement prompt.", merged)
}

func TestValidatorRejectsBadQuorumThreshold(t *testing.T) {
	defaults := DefaultDefaults()
	defaults.Quorum.QuorumThreshold = 0
	cfg := &Config{
		Defaults:            &defaults,
		LLMProviderRegistry: NewLLMProviderRegistry(nil),
		PersonaRegistry:     NewPersonaRegistry(resolveAllDefaultPersonas(t, defaults)),
	}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidatorRejectsWrongTotalAgents(t *testing.T) {
	defaults := DefaultDefaults()
	defaults.Quorum.TotalAgents = 5
	cfg := &Config{
		Defaults:            &defaults,
		LLMProviderRegistry: NewLLMProviderRegistry(nil),
		PersonaRegistry:     NewPersonaRegistry(resolveAllDefaultPersonas(t, defaults)),
	}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
}

func TestLLMProviderRegistryDefensiveCopy(t *testing.T) {
	providers := map[string]*LLMProviderConfig{
		"openai": {Name: "openai", Model: "gpt-4o"},
	}
	registry := NewLLMProviderRegistry(providers)

	providers["openai"].Model = "mutated-after-construction"

	got, err := registry.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.Model, "registry must not be affected by external mutation of the input map")

	got.Model = "mutated-via-getter"
	got2, err := registry.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got2.Model, "Get must return a copy, not a shared pointer")
}

func TestLoadWithMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Defaults.Quorum.TotalAgents)
	for _, name := range AllPersonas() {
		p, err := cfg.GetPersona(name)
		require.NoError(t, err)
		assert.NotEmpty(t, p.LLM.Model)
	}
}
