package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	want := Defaults()
	assert.Equal(t, &want, cfg)
	assert.Equal(t, ReloaderSimple, cfg.Reloader)
	assert.Equal(t, 5*time.Minute, cfg.Push.Interval)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source: extension
reloader: push
log_level: debug
push:
  api_key: from-file
  interval: 90s
  retries: 2
metrics:
  addr: 127.0.0.1:9464
`), 0644))
	t.Setenv("EXTRELOAD_PUSH_API_KEY", "from-env")
	t.Setenv("EXTRELOAD_OUT", "build")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "extension", cfg.Source)
	assert.Equal(t, "build", cfg.Out)
	assert.Equal(t, ReloaderPush, cfg.Reloader)
	assert.Equal(t, "from-env", cfg.Push.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Push.Interval)
	assert.Equal(t, uint64(2), cfg.Push.Retries)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	fb := cfg.Firebase(nil)
	assert.Equal(t, "from-env", fb.APIKey)
	assert.Equal(t, uint64(2), fb.Retries)
}

func TestRegisterURLFollowsFunctionsURL(t *testing.T) {
	t.Run("derived", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("EXTRELOAD_PUSH_FUNCTIONS_URL", "http://localhost:5001/demo/")

		cfg, err := Load(viper.New(), "")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:5001/demo/registerToken", cfg.Push.RegisterURL)
	})

	t.Run("explicit", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
push:
  functions_url: http://localhost:5001/demo
  register_url: https://register.example.com/token
`), 0644))

		cfg, err := Load(viper.New(), path)
		require.NoError(t, err)
		assert.Equal(t, "https://register.example.com/token", cfg.Push.RegisterURL)
	})

	t.Run("written default", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		require.NoError(t, WriteDefault(path, false))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `register_url: ""`)
	})
}

func TestLoadErrors(t *testing.T) {
	t.Run("explicit file missing", func(t *testing.T) {
		_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("reloader: hot\nformat: cjs\nlog_level: loud\n"), 0644))

		_, err := Load(viper.New(), path)
		require.Error(t, err)
		assert.ErrorContains(t, err, `unknown kind "hot"`)
		assert.ErrorContains(t, err, `unknown format "cjs"`)
		assert.ErrorContains(t, err, "log_level")
	})
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false))
	require.NoError(t, WriteDefault(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "interval: 5m0s")
	assert.Contains(t, string(data), "# extreload configuration.")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Push.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Push.RetryWait)
	assert.Equal(t, "dist", cfg.Out)
}
