// Package llmclient wraps a provider-agnostic LLM transport with
// concurrency-gated, backoff-retried calls. Generalized from the teacher's
// single gRPC Gemini client into an interface so MELCHIOR-1, BALTHASAR-2,
// and CASPER-3 can each bind to a different provider at runtime.
package llmclient

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codeready-toolchain/magi/pkg/concurrency"
)

// ErrRateLimited is returned by a Transport when the provider responds with
// a rate-limit/throttling error. Client retries these with the wider
// backoff cap and counts them against the ConcurrencyController.
var ErrRateLimited = errors.New("llmclient: rate limited")

// ErrAuthFailed is returned by a Transport on an authentication/authorization
// failure. Never retried.
var ErrAuthFailed = errors.New("llmclient: authentication failed")

// Request is a single completion call: a persona's resolved system prompt
// plus the user-facing prompt for this phase (thinking, debate, or voting).
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// Response is a Transport's successful result.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Usage reports token accounting returned by the provider, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ResolvedConfig is the fully-merged per-persona LLM configuration a Client
// is constructed with (config.PersonaLLMConfig after defaults/provider/
// persona-block resolution, with every pointer dereferenced).
type ResolvedConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	RetryCount  int
	Temperature float64
	MaxTokens   int
}

// Transport performs one completion call against a concrete provider SDK.
// Concrete adapters (OpenAI, Anthropic, Gemini, ...) are an external
// concern; Client only depends on this interface.
type Transport interface {
	Complete(ctx context.Context, cfg ResolvedConfig, req Request) (Response, error)
}

// Client binds a Transport to one persona's resolved configuration and
// retries transient failures with full-jitter exponential backoff, gated by
// a process-wide ConcurrencyController permit.
type Client struct {
	transport   Transport
	concurrency *concurrency.Controller
	cfg         ResolvedConfig
}

// NewClient constructs a Client. The ConcurrencyController is shared across
// every persona's Client in the process; it must never be constructed
// per-client.
func NewClient(transport Transport, ctrl *concurrency.Controller, cfg ResolvedConfig) *Client {
	return &Client{transport: transport, concurrency: ctrl, cfg: cfg}
}

// Complete acquires a concurrency permit, then calls the transport, retrying
// transient failures with full-jitter exponential backoff. Rate-limit
// errors use a wider cap and more attempts than other transient errors;
// ErrAuthFailed is never retried.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	release, err := c.concurrency.Acquire(ctx, c.cfg.Timeout)
	if err != nil {
		return Response{}, err
	}
	defer release()

	callCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var resp Response
	bo := newFullJitterBackOff(c.cfg.RetryCount)

	op := func() error {
		r, err := c.transport.Complete(callCtx, c.cfg, req)
		if err == nil {
			resp = r
			return nil
		}

		if errors.Is(err, ErrAuthFailed) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrRateLimited) {
			c.concurrency.NoteRateLimit()
			bo.useRateLimitCap()
			return err
		}
		bo.useTransientCap()
		return err
	}

	err = backoff.Retry(op, backoff.WithContext(bo, callCtx))
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// fullJitterBackOff implements backoff.BackOff with the exact formula
// wait = random(0, min(cap, base*2^attempt)), base=500ms. Rate-limit
// failures switch it to the wider cap/attempt budget; any other transient
// failure uses the narrower one. The active class is sticky for the
// lifetime of one Complete call once a rate limit is observed, since a
// provider that throttles once is likely to keep throttling.
type fullJitterBackOff struct {
	base    time.Duration
	attempt int

	baseMaxRetries int
	cap            time.Duration
	maxRetries     int

	rateLimited bool
}

const (
	fullJitterBase            = 500 * time.Millisecond
	rateLimitCap               = 60 * time.Second
	rateLimitMaxRetries        = 6
	transientCap               = 10 * time.Second
	transientMaxRetries        = 3
)

func newFullJitterBackOff(configuredRetries int) *fullJitterBackOff {
	maxRetries := transientMaxRetries
	if configuredRetries > 0 {
		maxRetries = configuredRetries
	}
	return &fullJitterBackOff{
		base:           fullJitterBase,
		cap:            transientCap,
		maxRetries:     maxRetries,
		baseMaxRetries: maxRetries,
	}
}

func (b *fullJitterBackOff) useRateLimitCap() {
	if b.rateLimited {
		return
	}
	b.rateLimited = true
	b.cap = rateLimitCap
	b.maxRetries = rateLimitMaxRetries
}

func (b *fullJitterBackOff) useTransientCap() {
	if b.rateLimited {
		return
	}
	b.cap = transientCap
}

// NextBackOff implements backoff.BackOff.
func (b *fullJitterBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.maxRetries {
		return backoff.Stop
	}
	b.attempt++

	exp := b.base << uint(b.attempt-1)
	if exp <= 0 || exp > b.cap {
		exp = b.cap
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

// Reset implements backoff.BackOff. backoff.Retry calls this once before the
// first attempt; it must restore the constructor-configured retry budget,
// not the package-wide transient default.
func (b *fullJitterBackOff) Reset() {
	b.attempt = 0
	b.rateLimited = false
	b.cap = transientCap
	b.maxRetries = b.baseMaxRetries
}
