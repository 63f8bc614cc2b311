package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	c := NewController(2, nil)

	release1, err := c.Acquire(context.Background(), 0)
	require.NoError(t, err)
	release2, err := c.Acquire(context.Background(), 0)
	require.NoError(t, err)

	stats := c.Stats()
	require.Equal(t, 2, stats.Active)
	require.Equal(t, int64(2), stats.TotalAcquired)

	release1()
	release2()

	stats = c.Stats()
	require.Equal(t, 0, stats.Active)
}

func TestAcquireTimesOutWhenFull(t *testing.T) {
	c := NewController(1, nil)

	release, err := c.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer release()

	_, err = c.Acquire(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrConcurrencyLimit)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.TotalTimeouts)
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	c := NewController(1, nil)

	release, err := c.Acquire(context.Background(), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		release()
	}()

	release2, err := c.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	release2()
	wg.Wait()
}

func TestNoteRateLimit(t *testing.T) {
	c := NewController(1, nil)
	c.NoteRateLimit()
	c.NoteRateLimit()
	require.Equal(t, int64(2), c.Stats().TotalRateLimits)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	c := NewController(1, nil)
	release, err := c.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Acquire(ctx, time.Second)
	require.ErrorIs(t, err, ErrConcurrencyLimit)
}
