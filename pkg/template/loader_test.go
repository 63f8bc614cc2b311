package template

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memSource struct {
	mu    sync.Mutex
	body  map[string]string
	calls int
	err   error
}

func (m *memSource) Read(name string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", "", m.err
	}
	return m.body[name], "", nil
}

func TestLoadCachesUntilTTLExpires(t *testing.T) {
	src := &memSource{body: map[string]string{"vote": "v1"}}
	l := NewLoader(src, 20*time.Millisecond)

	rev1, err := l.Load("vote", Auto)
	require.NoError(t, err)
	require.Equal(t, "v1", rev1.Body)

	rev2, err := l.Load("vote", Auto)
	require.NoError(t, err)
	require.Equal(t, rev1.Version, rev2.Version)
	require.Equal(t, 1, src.calls)

	time.Sleep(30 * time.Millisecond)
	src.body["vote"] = "v2"

	rev3, err := l.Load("vote", Auto)
	require.NoError(t, err)
	require.Equal(t, "v2", rev3.Body)
	require.Equal(t, 2, src.calls)
}

func TestForceReloadIgnoresTTL(t *testing.T) {
	src := &memSource{body: map[string]string{"vote": "v1"}}
	l := NewLoader(src, time.Hour)

	_, err := l.Load("vote", Auto)
	require.NoError(t, err)

	src.body["vote"] = "v2"
	rev, err := l.Load("vote", Force)
	require.NoError(t, err)
	require.Equal(t, "v2", rev.Body)
	require.Equal(t, 2, src.calls)
}

func TestFailedReloadKeepsPreviousRevision(t *testing.T) {
	src := &memSource{body: map[string]string{"vote": "v1"}}
	l := NewLoader(src, time.Millisecond)

	rev1, err := l.Load("vote", Auto)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	src.err = fmt.Errorf("disk unavailable")

	rev2, err := l.Load("vote", Auto)
	require.NoError(t, err)
	require.Equal(t, rev1.Body, rev2.Body)
}

func TestLoadWithNoCacheAndErrorPropagates(t *testing.T) {
	src := &memSource{err: fmt.Errorf("missing")}
	l := NewLoader(src, time.Hour)

	_, err := l.Load("vote", Auto)
	require.Error(t, err)
}
