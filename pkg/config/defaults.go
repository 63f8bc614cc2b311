package config

import "time"

// Defaults holds the global fallback values applied wherever a persona or
// provider block omits a field. Every field here has a hardcoded zero-value
// fallback applied by WithDefaults so that a minimal (or absent) config file
// still yields a runnable system.
type Defaults struct {
	LLM         PersonaLLMConfig    `yaml:"llm"`
	Engine      EngineConfig        `yaml:"engine"`
	Quorum      QuorumConfig        `yaml:"quorum"`
	TokenBudget TokenBudgetConfig   `yaml:"token_budget"`
	Streaming   StreamingConfig     `yaml:"streaming"`
	Concurrency ConcurrencyConfig   `yaml:"concurrency"`
	Guardrails  GuardrailsConfig    `yaml:"guardrails"`
	Security    SecurityConfig      `yaml:"security"`
	Template    TemplateConfig      `yaml:"template"`
	Schema      SchemaConfig        `yaml:"schema"`
	Session     SessionLimitsConfig `yaml:"session"`
	Notify      NotifyConfig        `yaml:"notify"`
}

// durationPtr and floatPtr/intPtr are small helpers used when seeding
// pointer-typed PersonaLLMConfig defaults.
func floatPtr(f float64) *float64       { return &f }
func intPtr(i int) *int                 { return &i }
func durationPtr(d time.Duration) *time.Duration { return &d }

// DefaultDefaults returns the hardcoded baseline configuration. Every
// numeric/timeout value named in the configuration-surface table has a
// concrete fallback here.
func DefaultDefaults() Defaults {
	return Defaults{
		LLM: PersonaLLMConfig{
			Model:       "gpt-4o",
			Temperature: floatPtr(0.7),
			MaxTokens:   intPtr(4096),
			Timeout:     durationPtr(60 * time.Second),
			RetryCount:  intPtr(3),
		},
		Engine: EngineConfig{
			DebateRounds:   2,
			RoundTimeout:   60 * time.Second,
			OverallTimeout: 5 * time.Minute,
		},
		Quorum: QuorumConfig{
			TotalAgents:     3,
			QuorumThreshold: 2,
			VotingThreshold: VotingThresholdMajority,
			RetriesPerAgent: 1,
		},
		TokenBudget: TokenBudgetConfig{
			MaxTokens:      8000,
			ReductionRatio: 0.5,
			EncodingModel:  "cl100k_base",
		},
		Streaming: StreamingConfig{
			QueueSize:      100,
			OverflowPolicy: StreamingOverflowDrop,
			EmitTimeout:    2 * time.Second,
		},
		Concurrency: ConcurrencyConfig{
			LLMConcurrencyLimit: 5,
		},
		Guardrails: GuardrailsConfig{
			Providers: nil,
			Policy:    GuardrailPolicyFailClosed,
		},
		Security: SecurityConfig{
			HashMode: false,
		},
		Template: TemplateConfig{
			Dir:         "templates",
			TTL:         300 * time.Second,
			ForceReload: false,
		},
		Schema: SchemaConfig{
			VoteSchemaPath:   "schemas/vote.json",
			DebateSchemaPath: "schemas/debate.json",
		},
		Session: SessionLimitsConfig{
			MaxConcurrentSessions: 10,
			SessionTTL:            600 * time.Second,
			SweepInterval:         60 * time.Second,
			SessionTimeout:        120 * time.Second,
		},
		Notify: NotifyConfig{
			Enabled: false,
		},
	}
}
