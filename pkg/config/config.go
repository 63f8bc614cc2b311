package config

// Config is the umbrella configuration object that encapsulates all
// registries, resolved defaults, and configuration state. This is the
// primary object returned by Load() and threaded through the rest of the
// application's constructors.
type Config struct {
	configDir string

	Defaults *Defaults

	LLMProviderRegistry *LLMProviderRegistry
	PersonaRegistry     *PersonaRegistry
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	LLMProviders int
	Personas     int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{
		LLMProviders: c.LLMProviderRegistry.Len(),
		Personas:     len(c.PersonaRegistry.GetAll()),
	}
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// GetPersona retrieves the resolved configuration for a persona.
func (c *Config) GetPersona(name PersonaName) (*PersonaConfig, error) {
	return c.PersonaRegistry.Get(name)
}
