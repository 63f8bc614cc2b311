package llmclient

import (
	"errors"
	"fmt"
)

// ErrProviderNotConfigured is returned by UnconfiguredResolver for every
// provider name: concrete LLM HTTP/SDK adapters (Anthropic, OpenAI, Gemini,
// ...) are an explicit external collaborator boundary (§1), never
// implemented by this module. A real deployment supplies its own
// TransportResolver binding provider names to SDK-backed Transports; this
// type exists so the process can still start, validate configuration, and
// serve /api/health without one configured.
var ErrProviderNotConfigured = errors.New("llmclient: no transport configured for provider")

// UnconfiguredResolver is the default session.TransportResolver: every
// Resolve call fails clearly instead of silently returning a transport that
// would panic or hang on first use.
type UnconfiguredResolver struct{}

// Resolve implements session.TransportResolver.
func (UnconfiguredResolver) Resolve(provider string) (Transport, error) {
	return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, provider)
}
