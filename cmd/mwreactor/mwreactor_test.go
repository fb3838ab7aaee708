package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	mwreactor "github.com/markity/mw-reactor"
	"github.com/markity/mw-reactor/pkg/async_log"
	"github.com/markity/mw-reactor/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBenchAgainstServer(t *testing.T) {
	server, err := mwreactor.NewServer("127.0.0.1:0", 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- server.Run(ctx) }()

	res, elapsed, err := runBench(context.Background(), &benchOptions{
		addr:     server.Addr().String(),
		clients:  4,
		size:     3000,
		duration: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Greater(t, res.messages.Load(), int64(0))
	require.Equal(t, res.messages.Load()*3000, res.bytes.Load())
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)
}

func TestBenchDialFailure(t *testing.T) {
	// nothing listens on the port of a closed server
	server, err := mwreactor.NewServer("127.0.0.1:0", 1)
	require.NoError(t, err)
	addr := server.Addr().String()
	server.Stop()

	_, _, err = runBench(context.Background(), &benchOptions{
		addr:     addr,
		clients:  1,
		size:     8,
		duration: time.Second,
	})
	require.Error(t, err)
}

func TestServeFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mwreactor.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen-addr = "127.0.0.1:9000"
worker-count = 3
idle-timeout = "1m"
[log]
level = "debug"
`), 0o600))

	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--workers", "5", "--log-level", "warn"}))

	o := &serveOptions{}
	o.configFile, _ = cmd.Flags().GetString("config")
	o.workers, _ = cmd.Flags().GetInt("workers")
	o.logLevel, _ = cmd.Flags().GetString("log-level")

	cfg, err := o.loadConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	require.Equal(t, 5, cfg.WorkerCount)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, time.Minute, cfg.IdleTimeout)
}

func TestServeRejectsBadConfig(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--addr", "nowhere"}))

	o := &serveOptions{listenAddr: "nowhere"}
	_, err := o.loadConfig(cmd)
	require.Error(t, err)
}

func TestServeFailsOnUnwritableLogFile(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Log.File = t.TempDir()
	require.NoError(t, cfg.Adjust())

	err := runServe(context.Background(), cfg)
	require.Error(t, err)
	require.True(t, async_log.ErrInvalidLoggerConfig.Equal(err))
}
