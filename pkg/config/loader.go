package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// magiYAMLConfig represents the complete magi.yaml file structure: global
// defaults, the named LLM provider pool, and per-persona override blocks.
type magiYAMLConfig struct {
	Defaults     *Defaults                    `yaml:"defaults"`
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
	Personas     map[string]yamlPersonaBlock  `yaml:"personas"`
}

// yamlPersonaBlock is the raw shape of one personas.<key> entry before it is
// tagged with its canonical PersonaName.
type yamlPersonaBlock struct {
	SystemPrompt string           `yaml:"system_prompt,omitempty"`
	LLM          PersonaLLMConfig `yaml:"llm,omitempty"`
	Permission   string           `yaml:"permission,omitempty"`
}

// Load loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read magi.yaml from configDir (missing file is tolerated — defaults apply)
//  2. Expand environment variables
//  3. Parse YAML
//  4. Apply hardcoded Defaults for any unset value
//  5. Build the LLM provider registry
//  6. Resolve each of the three fixed personas' PersonaLLMConfig + system prompt
//  7. Build the persona registry
//  8. Validate all configuration
func Load(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	raw, err := loadYAMLFile(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	defaults := DefaultDefaults()
	if raw.Defaults != nil {
		defaults = mergeDefaults(defaults, *raw.Defaults)
	}

	llmProviders := make(map[string]*LLMProviderConfig, len(raw.LLMProviders))
	for name, p := range raw.LLMProviders {
		p := p
		p.Name = name
		llmProviders[name] = &p
	}
	providerRegistry := NewLLMProviderRegistry(llmProviders)

	personas := make(map[PersonaName]*PersonaConfig, len(AllPersonas()))
	for _, name := range AllPersonas() {
		block := raw.Personas[name.Key()]

		resolvedLLM, err := resolvePersonaLLM(defaults.LLM, providerRegistry, block.LLM)
		if err != nil {
			return nil, NewValidationError("persona", string(name), "llm", err)
		}

		personas[name] = &PersonaConfig{
			Name:         name,
			SystemPrompt: block.SystemPrompt,
			LLM:          resolvedLLM,
			Permission:   block.Permission,
		}
	}
	personaRegistry := NewPersonaRegistry(personas)

	cfg := &Config{
		configDir:           configDir,
		Defaults:            &defaults,
		LLMProviderRegistry: providerRegistry,
		PersonaRegistry:     personaRegistry,
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration loaded",
		"llm_providers", stats.LLMProviders,
		"personas", stats.Personas)

	return cfg, nil
}

func loadYAMLFile(configDir string) (*magiYAMLConfig, error) {
	cfg := &magiYAMLConfig{
		LLMProviders: make(map[string]LLMProviderConfig),
		Personas:     make(map[string]yamlPersonaBlock),
	}

	path := filepath.Join(configDir, "magi.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing config file is not fatal: the three personas run
			// entirely on Defaults in that case.
			return cfg, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	if cfg.LLMProviders == nil {
		cfg.LLMProviders = make(map[string]LLMProviderConfig)
	}
	if cfg.Personas == nil {
		cfg.Personas = make(map[string]yamlPersonaBlock)
	}

	return cfg, nil
}
