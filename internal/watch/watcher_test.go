package watch

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWatcherDebouncesBurst(t *testing.T) {
	root := t.TempDir()
	var fired atomic.Int64
	w := New(root, 50*time.Millisecond, func() { fired.Add(1) }, zerolog.Nop())
	require.NoError(t, w.Start())
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "song.tja"), []byte("TITLE:A"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 })
	// Allow any stray timer to expire, then confirm the burst collapsed.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(1), fired.Load())
}

func TestWatcherIgnoresIrrelevantFiles(t *testing.T) {
	root := t.TempDir()
	var fired atomic.Int64
	w := New(root, 30*time.Millisecond, func() { fired.Add(1) }, zerolog.Nop())
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestWatcherAudioTriggers(t *testing.T) {
	root := t.TempDir()
	var fired atomic.Int64
	w := New(root, 30*time.Millisecond, func() { fired.Add(1) }, zerolog.Nop())
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "song.ogg"), []byte("x"), 0o644))
	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 })
}

func TestWatcherMissingRoot(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "absent"), 0, func() {}, zerolog.Nop())
	assert.Error(t, w.Start())
}

func TestWatcherStopCancelsPendingTimer(t *testing.T) {
	root := t.TempDir()
	var fired atomic.Int64
	w := New(root, time.Hour, func() { fired.Add(1) }, zerolog.Nop())
	require.NoError(t, w.Start())

	require.NoError(t, os.WriteFile(filepath.Join(root, "song.tja"), []byte("TITLE:A"), 0o644))
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	assert.Zero(t, fired.Load())
}
