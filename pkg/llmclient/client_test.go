package llmclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/magi/pkg/concurrency"
)

type fakeTransport struct {
	calls     int32
	failTimes int32
	failWith  error
	resp      Response
}

func (f *fakeTransport) Complete(ctx context.Context, cfg ResolvedConfig, req Request) (Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failTimes {
		return Response{}, f.failWith
	}
	return f.resp, nil
}

func newTestClient(t *testing.T, transport Transport, cfg ResolvedConfig) *Client {
	t.Helper()
	ctrl := concurrency.NewController(4, nil)
	return NewClient(transport, ctrl, cfg)
}

func TestCompleteSucceedsFirstTry(t *testing.T) {
	ft := &fakeTransport{resp: Response{Content: "hello"}}
	c := newTestClient(t, ft, ResolvedConfig{Timeout: time.Second, RetryCount: 2})

	resp, err := c.Complete(context.Background(), Request{UserPrompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.EqualValues(t, 1, ft.calls)
}

func TestCompleteRetriesTransientFailure(t *testing.T) {
	ft := &fakeTransport{failTimes: 2, failWith: errors.New("temporary blip"), resp: Response{Content: "ok"}}
	c := newTestClient(t, ft, ResolvedConfig{Timeout: 5 * time.Second, RetryCount: 3})

	resp, err := c.Complete(context.Background(), Request{UserPrompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
	require.EqualValues(t, 3, ft.calls)
}

func TestCompleteNeverRetriesAuthFailure(t *testing.T) {
	ft := &fakeTransport{failTimes: 100, failWith: ErrAuthFailed}
	c := newTestClient(t, ft, ResolvedConfig{Timeout: 5 * time.Second, RetryCount: 5})

	_, err := c.Complete(context.Background(), Request{UserPrompt: "hi"})
	require.ErrorIs(t, err, ErrAuthFailed)
	require.EqualValues(t, 1, ft.calls)
}

func TestCompleteExhaustsRetriesAndReturnsError(t *testing.T) {
	ft := &fakeTransport{failTimes: 100, failWith: errors.New("still failing")}
	c := newTestClient(t, ft, ResolvedConfig{Timeout: 5 * time.Second, RetryCount: 2})

	_, err := c.Complete(context.Background(), Request{UserPrompt: "hi"})
	require.Error(t, err)
	require.EqualValues(t, 3, ft.calls) // initial try + 2 retries
}

func TestCompleteNotesRateLimitOnController(t *testing.T) {
	ft := &fakeTransport{failTimes: 1, failWith: ErrRateLimited, resp: Response{Content: "ok"}}
	ctrl := concurrency.NewController(4, nil)
	c := NewClient(ft, ctrl, ResolvedConfig{Timeout: 5 * time.Second, RetryCount: 3})

	_, err := c.Complete(context.Background(), Request{UserPrompt: "hi"})
	require.NoError(t, err)
	require.EqualValues(t, 1, ctrl.Stats().TotalRateLimits)
}

func TestFullJitterBackOffRespectsMaxRetries(t *testing.T) {
	b := newFullJitterBackOff(2)
	b.Reset()
	require.GreaterOrEqual(t, b.NextBackOff(), time.Duration(0))
	require.GreaterOrEqual(t, b.NextBackOff(), time.Duration(0))
}

func TestFullJitterBackOffStopsAfterBudget(t *testing.T) {
	b := newFullJitterBackOff(2)
	b.Reset()
	b.NextBackOff()
	b.NextBackOff()
	require.Equal(t, -1*time.Nanosecond, normalizeStop(b.NextBackOff()))
}

func normalizeStop(d time.Duration) time.Duration {
	if d < 0 {
		return -1 * time.Nanosecond
	}
	return d
}

func TestFullJitterBackOffUsesWiderCapForRateLimit(t *testing.T) {
	b := newFullJitterBackOff(3)
	b.Reset()
	b.useRateLimitCap()
	require.Equal(t, rateLimitMaxRetries, b.maxRetries)
}
