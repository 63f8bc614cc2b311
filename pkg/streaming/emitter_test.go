package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/magi/pkg/config"
)

func TestEmitAndDrainInOrder(t *testing.T) {
	e := NewEmitter(10, config.StreamingOverflowDrop, time.Second)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, "phase", "THINKING", Normal))
	require.NoError(t, e.Emit(ctx, "phase", "DEBATE", Normal))

	ev1, ok := e.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "THINKING", ev1.Content)

	ev2, ok := e.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "DEBATE", ev2.Content)
}

func TestDropPolicyEvictsOldestNormal(t *testing.T) {
	e := NewEmitter(2, config.StreamingOverflowDrop, time.Second)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, "log", "first", Normal))
	require.NoError(t, e.Emit(ctx, "log", "second", Normal))
	require.NoError(t, e.Emit(ctx, "log", "third", Normal))

	ev, ok := e.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "second", ev.Content, "oldest entry should have been dropped")

	ev, ok = e.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "third", ev.Content)

	require.Equal(t, int64(1), e.Metrics().DroppedCount)
}

func TestCriticalNeverDroppedUnderDropPolicy(t *testing.T) {
	e := NewEmitter(1, config.StreamingOverflowDrop, time.Second)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, "log", "normal", Normal))
	require.NoError(t, e.Emit(ctx, "final", "decision", Critical))

	ev, ok := e.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "decision", ev.Content, "critical event must survive, evicting the normal one")
}

func TestBackpressurePolicyTimesOutForNormal(t *testing.T) {
	e := NewEmitter(1, config.StreamingOverflowBackpressure, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, "log", "first", Normal))
	err := e.Emit(ctx, "log", "second", Normal)
	require.ErrorIs(t, err, ErrStreamingTimeout)
}

func TestBackpressurePolicyNeverTimesOutCritical(t *testing.T) {
	e := NewEmitter(1, config.StreamingOverflowBackpressure, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, "log", "first", Normal))

	done := make(chan error, 1)
	go func() {
		done <- e.Emit(context.Background(), "final", "decision", Critical)
	}()

	select {
	case err := <-done:
		t.Fatalf("critical emit returned early with err=%v; should block until consumed", err)
	case <-time.After(30 * time.Millisecond):
	}

	_, ok := e.Next(ctx)
	require.True(t, ok)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("critical emit never completed after room freed")
	}
}

func TestEmitAfterCloseReturnsErrClosed(t *testing.T) {
	e := NewEmitter(2, config.StreamingOverflowDrop, time.Second)
	e.Close()
	err := e.Emit(context.Background(), "log", "x", Normal)
	require.ErrorIs(t, err, ErrClosed)
}

func TestNextReturnsFalseOnCloseAfterDrain(t *testing.T) {
	e := NewEmitter(2, config.StreamingOverflowDrop, time.Second)
	ctx := context.Background()
	require.NoError(t, e.Emit(ctx, "log", "x", Normal))
	e.Close()

	_, ok := e.Next(ctx)
	require.True(t, ok, "queued event should still be delivered after close")

	_, ok = e.Next(ctx)
	require.False(t, ok)
}
