package scripting_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/scripting"
)

func TestWatcher_ReportsLuaChangesOnly(t *testing.T) {
	dir := t.TempDir()
	w, err := scripting.NewWatcher(zap.NewNop(), 20*time.Millisecond, dir)
	require.NoError(t, err)

	var mu sync.Mutex
	var changed []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(d, path string) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, dir, d)
			changed = append(changed, filepath.Base(path))
		})
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boss.lua"), []byte("x = 1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boss.lua"), []byte("x = 2"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	for _, name := range changed {
		assert.Equal(t, "boss.lua", name)
	}
}

func TestNewWatcher_MissingDirErrors(t *testing.T) {
	_, err := scripting.NewWatcher(zap.NewNop(), 0, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
