package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Adjust())
	require.Equal(t, time.Duration(0), cfg.IdleTimeout)
	// no idle option for a zero timeout
	require.Len(t, cfg.Options(), 4)
}

func TestConfigFromExampleFile(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.ConfigFromFile("config.toml"))
	require.NoError(t, cfg.Adjust())

	require.Equal(t, "0.0.0.0:8000", cfg.ListenAddr)
	require.Equal(t, 4, cfg.WorkerCount)
	require.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	require.Equal(t, "127.0.0.1:9100", cfg.StatusAddr)
	require.Equal(t, "mwreactor.log", cfg.Log.File)
	require.True(t, cfg.Log.Async)
	require.Len(t, cfg.Options(), 5)
}

func TestConfigKeepsDefaultsForMissingItems(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.ConfigFromString(`worker-count = 2`))
	require.NoError(t, cfg.Adjust())
	require.Equal(t, 2, cfg.WorkerCount)
	require.Equal(t, defaultListenAddr, cfg.ListenAddr)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestConfigRejectsUnknownItems(t *testing.T) {
	cfg := NewDefaultConfig()
	err := cfg.ConfigFromString("listen-addr = \"127.0.0.1:1\"\nworkers = 3\n[log]\nlevle = \"debug\"")
	require.Error(t, err)
	require.True(t, ErrConfigUnknownItem.Equal(err))
	require.Contains(t, err.Error(), "workers")
	require.Contains(t, err.Error(), "log.levle")
}

func TestConfigRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen-addr = "), 0o600))

	err := NewDefaultConfig().ConfigFromFile(path)
	require.Error(t, err)
	require.True(t, ErrDecodeConfigFile.Equal(err))
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"listen-addr":  func(c *Config) { c.ListenAddr = "localhost" },
		"worker-count": func(c *Config) { c.WorkerCount = -1 },
		"backlog":      func(c *Config) { c.Backlog = 0 },
		"buffer-size":  func(c *Config) { c.BufferSize = 0 },
		"idle-timeout": func(c *Config) { c.IdleTimeoutStr = "soon" },
		"log rotation": func(c *Config) { c.Log.MaxBackups = -1 },
	}
	for name, mutate := range cases {
		cfg := NewDefaultConfig()
		mutate(cfg)
		err := cfg.Adjust()
		require.Error(t, err, name)
		require.True(t, ErrInvalidConfig.Equal(err), name)
		require.Contains(t, err.Error(), name)
	}
}

func TestConfigToml(t *testing.T) {
	cfg := NewDefaultConfig()
	s, err := cfg.Toml()
	require.NoError(t, err)

	decoded := NewDefaultConfig()
	decoded.ListenAddr = ""
	require.NoError(t, decoded.ConfigFromString(s))
	require.Equal(t, cfg.ListenAddr, decoded.ListenAddr)
	require.Contains(t, cfg.String(), `"listen-addr":"0.0.0.0:8000"`)
}
