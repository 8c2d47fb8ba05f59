package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainconfig "graphsync/domain/config"
)

func TestLimitsWatcher_NoFileServesDefaults(t *testing.T) {
	watcher, err := NewLimitsWatcher("", zap.NewNop())
	require.NoError(t, err)
	defer watcher.Close()

	assert.Equal(t, domainconfig.DefaultSynthesisLimits(), watcher.Limits())
}

func TestLimitsWatcher_LoadsInitialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"debounceIntervalMs":500,"maxEntitiesPerNote":10,"maxConnectionsPerPass":20}`), 0o644))

	watcher, err := NewLimitsWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Close()

	limits := watcher.Limits()
	assert.Equal(t, 500*time.Millisecond, limits.DebounceInterval)
	assert.Equal(t, 10, limits.MaxEntitiesPerNote)
	assert.Equal(t, 20, limits.MaxConnectionsPerPass)
}

func TestLimitsWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"debounceIntervalMs":500,"maxEntitiesPerNote":10,"maxConnectionsPerPass":20}`), 0o644))

	watcher, err := NewLimitsWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(path,
		[]byte(`{"debounceIntervalMs":900,"maxEntitiesPerNote":5,"maxConnectionsPerPass":7}`), 0o644))

	assert.Eventually(t, func() bool {
		return watcher.Limits().MaxEntitiesPerNote == 5
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 900*time.Millisecond, watcher.Limits().DebounceInterval)
}

func TestLimitsWatcher_KeepsLimitsOnMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"debounceIntervalMs":500,"maxEntitiesPerNote":10,"maxConnectionsPerPass":20}`), 0o644))

	watcher, err := NewLimitsWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	// Give the debounced reload time to run, then confirm nothing changed
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 10, watcher.Limits().MaxEntitiesPerNote)
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)

	cfg.Environment = "nonsense"
	assert.Error(t, cfg.Validate())
}
