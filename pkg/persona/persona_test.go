package persona

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/magi/pkg/config"
)

func registryWith(t *testing.T, overrides map[config.PersonaName]config.PersonaConfig) *config.PersonaRegistry {
	t.Helper()
	personas := make(map[config.PersonaName]*config.PersonaConfig, len(config.AllPersonas()))
	for _, name := range config.AllPersonas() {
		cfg := overrides[name]
		cfg.Name = name
		c := cfg
		personas[name] = &c
	}
	return config.NewPersonaRegistry(personas)
}

func TestManagerDefaultsHaveNoOverride(t *testing.T) {
	reg := registryWith(t, nil)
	mgr, err := NewManager(reg)
	require.NoError(t, err)

	p, err := mgr.Get(config.PersonaMelchior)
	require.NoError(t, err)
	require.Empty(t, p.OverrideInstruction)
	require.Equal(t, p.BaseInstruction, p.SystemPrompt())
}

func TestManagerAppendsOverrideByDefault(t *testing.T) {
	reg := registryWith(t, map[config.PersonaName]config.PersonaConfig{
		config.PersonaCasper: {SystemPrompt: "Always flag legal risk explicitly."},
	})
	mgr, err := NewManager(reg)
	require.NoError(t, err)

	p, err := mgr.Get(config.PersonaCasper)
	require.NoError(t, err)
	require.Contains(t, p.SystemPrompt(), p.BaseInstruction)
	require.Contains(t, p.SystemPrompt(), "Always flag legal risk explicitly.")
}

func TestManagerFullOverrideReplacesBase(t *testing.T) {
	reg := registryWith(t, map[config.PersonaName]config.PersonaConfig{
		config.PersonaBalthasar: {
			SystemPrompt: "Only consider cost.",
			Permission:   "full_override",
		},
	})
	mgr, err := NewManager(reg)
	require.NoError(t, err)

	p, err := mgr.Get(config.PersonaBalthasar)
	require.NoError(t, err)
	require.Equal(t, "Only consider cost.", p.SystemPrompt())
}

func TestManagerAllReturnsCanonicalOrder(t *testing.T) {
	reg := registryWith(t, nil)
	mgr, err := NewManager(reg)
	require.NoError(t, err)

	all := mgr.All()
	require.Len(t, all, 3)
	require.Equal(t, config.PersonaMelchior, all[0].Name)
	require.Equal(t, config.PersonaBalthasar, all[1].Name)
	require.Equal(t, config.PersonaCasper, all[2].Name)
}
