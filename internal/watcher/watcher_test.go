package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type fakeReloader struct {
	calls atomic.Int32
	err   error
}

func (f *fakeReloader) Reload() (*registry.LoadStats, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &registry.LoadStats{Markers: 1}, nil
}

const minimalRegistry = `{"markers": {"ATO_X": {"layer": "ATO", "patterns": ["x"]}}}`

func writeRegistry(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(minimalRegistry), 0o644))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "markers.json")
	writeRegistry(t, path)

	target := &fakeReloader{}
	w, err := New(path, target, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	reloaded := make(chan error, 4)
	w.OnReload = func(_ *registry.LoadStats, err error) {
		select {
		case reloaded <- err:
		default:
		}
	}

	require.NoError(t, w.Start(context.Background()))
	writeRegistry(t, path)

	select {
	case err := <-reloaded:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("registry was not reloaded")
	}
	w.Stop()

	assert.GreaterOrEqual(t, target.calls.Load(), int32(1))
	assert.GreaterOrEqual(t, w.Stats().Reloads, 1)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "markers.json")
	writeRegistry(t, path)

	target := &fakeReloader{}
	w, err := New(path, target, 20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	time.Sleep(150 * time.Millisecond)
	w.Stop()

	assert.Zero(t, target.calls.Load())
}

func TestWatcherRecordsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "markers.yaml")
	writeRegistry(t, path)

	target := &fakeReloader{err: errors.New("broken")}
	w, err := New(path, target, 20*time.Millisecond, nil)
	require.NoError(t, err)

	reloaded := make(chan error, 4)
	w.OnReload = func(_ *registry.LoadStats, err error) {
		select {
		case reloaded <- err:
		default:
		}
	}
	require.NoError(t, w.Start(context.Background()))
	writeRegistry(t, path)

	select {
	case err := <-reloaded:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not attempted")
	}
	w.Stop()

	st := w.Stats()
	assert.GreaterOrEqual(t, st.Failures, 1)
	assert.Equal(t, "broken", st.LastError)
}

func TestWatcherStopWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := New(filepath.Join(t.TempDir(), "markers.json"), &fakeReloader{}, 0, nil)
	require.NoError(t, err)
	w.Stop()
}

func TestWatcherStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "markers.json")
	writeRegistry(t, path)
	w, err := New(path, &fakeReloader{}, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()
	w.Stop()
}
