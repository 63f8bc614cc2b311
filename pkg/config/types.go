package config

import "time"

// LLMProviderConfig describes one configured LLM backend (provider-agnostic;
// concrete SDK wiring happens in pkg/llmclient). The api_key field is expected
// to arrive already expanded from an environment variable by ExpandEnv.
type LLMProviderConfig struct {
	Name        string        `yaml:"name"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the registry's stored value.
func (c LLMProviderConfig) Clone() LLMProviderConfig {
	return c
}

// PersonaLLMConfig is the resolved (post-merge) LLM configuration for a
// single persona: Defaults.LLM overridden field-by-field by the persona's
// own llm block, which is itself overridden field-by-field by a named
// LLMProviderConfig reference when present.
type PersonaLLMConfig struct {
	Provider    string  `yaml:"provider,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
	Timeout     *time.Duration `yaml:"timeout,omitempty"`
	RetryCount  *int     `yaml:"retry_count,omitempty"`
}

// PersonaConfig is the raw (pre-merge) configuration block for one persona
// as it appears under personas.<key> in the YAML document.
type PersonaConfig struct {
	Name        PersonaName      `yaml:"-"`
	SystemPrompt string          `yaml:"system_prompt,omitempty"`
	LLM         PersonaLLMConfig `yaml:"llm,omitempty"`
	Permission  string           `yaml:"permission,omitempty"` // "" (append-only) or "full_override"
}

// IsFullOverride reports whether this persona is permitted to replace the
// base system prompt entirely rather than append to it.
func (p PersonaConfig) IsFullOverride() bool {
	return p.Permission == "full_override"
}

// GuardrailProviderConfig describes one entry in the ordered guardrail chain.
type GuardrailProviderConfig struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// SchemaConfig names the JSON Schema document used to validate structured
// Vote/Debate turn output.
type SchemaConfig struct {
	VoteSchemaPath  string `yaml:"vote_schema_path"`
	DebateSchemaPath string `yaml:"debate_schema_path"`
}

// SessionLimitsConfig bounds SessionManager lifecycle behavior.
type SessionLimitsConfig struct {
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
	SessionTTL            time.Duration `yaml:"session_ttl"`
	SweepInterval         time.Duration `yaml:"sweep_interval"`
	SessionTimeout        time.Duration `yaml:"session_timeout"`
}

// StreamingConfig bounds the StreamingEmitter queue.
type StreamingConfig struct {
	QueueSize       int                     `yaml:"queue_size"`
	OverflowPolicy  StreamingOverflowPolicy `yaml:"overflow_policy"`
	EmitTimeout     time.Duration           `yaml:"emit_timeout"`
}

// QuorumConfig parameterizes QuorumManager.
type QuorumConfig struct {
	TotalAgents      int             `yaml:"total_agents"`
	QuorumThreshold  int             `yaml:"quorum_threshold"`
	VotingThreshold  VotingThreshold `yaml:"voting_threshold"`
	RetriesPerAgent  int             `yaml:"retries_per_agent"`
}

// TokenBudgetConfig parameterizes TokenBudgetManager.
type TokenBudgetConfig struct {
	MaxTokens       int     `yaml:"max_tokens"`
	ReductionRatio  float64 `yaml:"reduction_ratio"`
	EncodingModel   string  `yaml:"encoding_model"`
}

// SecurityConfig parameterizes the SecurityFilter.
type SecurityConfig struct {
	HashMode bool `yaml:"hash_mode"`
}

// GuardrailsConfig parameterizes the GuardrailsAdapter.
type GuardrailsConfig struct {
	Providers []GuardrailProviderConfig `yaml:"providers"`
	Policy    GuardrailPolicy           `yaml:"policy"`
}

// TemplateConfig parameterizes TemplateLoader.
type TemplateConfig struct {
	Dir       string        `yaml:"dir"`
	TTL       time.Duration `yaml:"ttl"`
	ForceReload bool        `yaml:"force_reload"`
}

// ConcurrencyConfig parameterizes the ConcurrencyController semaphore.
type ConcurrencyConfig struct {
	LLMConcurrencyLimit int `yaml:"llm_concurrency_limit"`
}

// NotifyConfig parameterizes the optional Slack final-decision notifier.
// SlackToken is expected to arrive already expanded from an environment
// variable by ExpandEnv, same as LLMProviderConfig.APIKey.
type NotifyConfig struct {
	SlackToken   string `yaml:"slack_token,omitempty"`
	SlackChannel string `yaml:"slack_channel,omitempty"`
	DashboardURL string `yaml:"dashboard_url,omitempty"`
	Enabled      bool   `yaml:"enabled"`
}

// EngineConfig parameterizes the ConsensusEngine's phase timings.
type EngineConfig struct {
	DebateRounds  int           `yaml:"debate_rounds"`
	RoundTimeout  time.Duration `yaml:"round_timeout"`
	OverallTimeout time.Duration `yaml:"overall_timeout"`
}
