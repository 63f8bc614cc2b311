// Package persona holds the three fixed MAGI reasoning roles and resolves
// each one's final system prompt from its hardcoded base instruction plus
// any configured override.
package persona

import (
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/magi/pkg/config"
	"github.com/codeready-toolchain/magi/pkg/template"
)

// Persona is one immutable reasoning role. Constructed once by Manager and
// never mutated afterward — safe to share across goroutines.
type Persona struct {
	Name                config.PersonaName
	BaseInstruction     string
	OverrideInstruction string
}

// SystemPrompt returns the instruction text an Agent sends as the system
// prompt for this persona: the base instruction with the override applied
// per config.ResolveSystemPrompt's append-or-replace rule.
func (p Persona) SystemPrompt() string {
	if p.OverrideInstruction == "" {
		return p.BaseInstruction
	}
	return p.BaseInstruction + "\n\n" + p.OverrideInstruction
}

// baseInstructions are the three personas' built-in roles (§1). They are
// not configuration: operators may append to them (or replace them outright
// with full_override permission) but the three roles themselves are fixed.
var baseInstructions = map[config.PersonaName]string{
	config.PersonaMelchior: "You are MELCHIOR-1, one of three independent reviewers in a " +
		"deliberative consensus process. You reason as a scientist: weigh evidence, " +
		"identify factual and technical risk, and be explicit about uncertainty. " +
		"You do not defer to the other reviewers' opinions during your own thinking.",
	config.PersonaBalthasar: "You are BALTHASAR-2, one of three independent reviewers in a " +
		"deliberative consensus process. You reason as a mother: weigh the human and " +
		"organizational impact of the decision, who is affected, and whether the " +
		"proposal is being rushed at the expense of the people it touches.",
	config.PersonaCasper: "You are CASPER-3, one of three independent reviewers in a " +
		"deliberative consensus process. You reason as a woman: pragmatic, attentive " +
		"to second-order consequences and to what the proposal's framing leaves unsaid.",
}

// Manager owns the three fixed Persona instances for one engine/session.
// Built once from a resolved config.PersonaRegistry; immutable afterward.
type Manager struct {
	personas map[config.PersonaName]Persona
}

// NewManager builds a Manager from the persona registry produced by
// config.Load, applying each persona's configured override (append-only
// unless IsFullOverride) onto its fixed base instruction.
func NewManager(registry *config.PersonaRegistry) (*Manager, error) {
	return newManager(registry, baseInstructions)
}

// NewManagerWithTemplates builds a Manager the same way as NewManager, but
// resolves each persona's base instruction from loader first (template name
// equal to the persona's Key(), e.g. "melchior"), falling back to the
// hardcoded baseInstructions when no template is configured for that
// persona. This lets an operator edit a MAGI persona's built-in role text
// as a cached, TTL-reloaded file under the template directory without a
// rebuild, while leaving the three roles fixed when no override file
// exists.
func NewManagerWithTemplates(registry *config.PersonaRegistry, loader *template.Loader) (*Manager, error) {
	bases := make(map[config.PersonaName]string, len(config.AllPersonas()))
	for name, base := range baseInstructions {
		bases[name] = base
	}

	if loader != nil {
		for _, name := range config.AllPersonas() {
			rev, err := loader.Load(name.Key(), template.Auto)
			if err != nil {
				slog.Debug("persona: no base instruction template, using built-in", "persona", name, "error", err)
				continue
			}
			bases[name] = rev.Body
		}
	}

	return newManager(registry, bases)
}

func newManager(registry *config.PersonaRegistry, bases map[config.PersonaName]string) (*Manager, error) {
	personas := make(map[config.PersonaName]Persona, len(config.AllPersonas()))

	for _, name := range config.AllPersonas() {
		cfg, err := registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("persona: %w", err)
		}

		base := bases[name]
		resolved := config.ResolveSystemPrompt(base, *cfg)

		override := ""
		if resolved != base {
			override = cfg.SystemPrompt
		}

		personas[name] = Persona{
			Name:                name,
			BaseInstruction:     base,
			OverrideInstruction: override,
		}
	}

	return &Manager{personas: personas}, nil
}

// Get returns the fixed Persona for name.
func (m *Manager) Get(name config.PersonaName) (Persona, error) {
	p, ok := m.personas[name]
	if !ok {
		return Persona{}, fmt.Errorf("persona: unknown persona %s", name)
	}
	return p, nil
}

// All returns the three personas in their canonical order
// (MELCHIOR-1, BALTHASAR-2, CASPER-3).
func (m *Manager) All() []Persona {
	out := make([]Persona, 0, len(config.AllPersonas()))
	for _, name := range config.AllPersonas() {
		out = append(out, m.personas[name])
	}
	return out
}
