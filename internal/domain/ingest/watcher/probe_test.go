package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitStableSettledFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statement.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("done"), 0o644))

	p := Probe{Settle: 50 * time.Millisecond, Interval: 10 * time.Millisecond, Timeout: time.Second}
	assert.True(t, p.WaitStable(context.Background(), path))
}

func TestWaitStableGrowingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statement.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	stop := make(chan struct{})
	go func() {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()
		for i := 0; i < 20; i++ {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				f.Write([]byte("chunk"))
			}
		}
	}()
	defer close(stop)

	p := Probe{Settle: 100 * time.Millisecond, Interval: 10 * time.Millisecond, Timeout: 200 * time.Millisecond}
	assert.False(t, p.WaitStable(context.Background(), path), "file still growing at timeout")
}

func TestWaitStableMissingFile(t *testing.T) {
	p := Probe{Settle: 10 * time.Millisecond, Interval: 5 * time.Millisecond, Timeout: 100 * time.Millisecond}
	assert.False(t, p.WaitStable(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx")))
}

func TestWaitStableContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statement.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Probe{Settle: time.Hour, Interval: 10 * time.Millisecond, Timeout: time.Hour}
	assert.False(t, p.WaitStable(ctx, path))
}
