package async_log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack.v2.(*Logger).millRun"),
	)
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want LoggerLevel
	}{
		{"trace", TRACE},
		{"DEBUG", DEBUG},
		{" info ", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ParseLevel(c.in), c.in)
	}

	require.Equal(t, "TRACE", TRACE.String())
	require.Equal(t, "UNKNOWN", LoggerLevel(42).String())
}

func TestZapLoggerFiltersByLevel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	lg := NewZapLogger(zap.New(core))

	lg.Logf(DEBUG, "dropped %d", 1)
	lg.Logf(INFO, "session %s opened", "abc")
	lg.Logf(ERROR, "read failed: %v", "EOF")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "session abc opened", entries[0].Message)
	require.Equal(t, zap.ErrorLevel, entries[1].Level)
	require.NoError(t, lg.Sync())
}

func TestNopLogger(t *testing.T) {
	lg := NewNopLogger()
	lg.Logf(ERROR, "nothing %s", "here")
	require.NoError(t, lg.Sync())
}

func TestFileLogger(t *testing.T) {
	for _, async := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "mwreactor.log")
		lg, cleanup, err := NewLogger(Config{
			Level:      "trace",
			File:       path,
			MaxSizeMB:  1,
			MaxBackups: 1,
			Async:      async,
		})
		require.NoError(t, err)

		lg.Logf(TRACE, "trace line")
		lg.Logf(INFO, "worker %d started", 3)
		cleanup()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 2)
		require.Contains(t, lines[0], "TRACE")
		require.Contains(t, lines[0], "trace line")
		require.Contains(t, lines[1], "INFO")
		require.Contains(t, lines[1], "worker 3 started")
		// caller points at this file, not at the logger
		require.Contains(t, lines[1], "log_test.go")
	}
}

func TestFileLoggerLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mwreactor.log")
	lg, cleanup, err := NewLogger(Config{Level: "warn", File: path})
	require.NoError(t, err)

	lg.Logf(INFO, "hidden")
	lg.Logf(WARN, "shown")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "hidden")
	require.Contains(t, string(data), "shown")
}

func TestNewLoggerRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	notDir := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(notDir, nil, 0o644))

	for _, cfg := range []Config{
		{MaxSizeMB: -1},
		{MaxBackups: -1},
		// the parent of the log file is a regular file
		{File: filepath.Join(notDir, "mwreactor.log")},
		{File: dir},
	} {
		lg, cleanup, err := NewLogger(cfg)
		require.Error(t, err, "%+v", cfg)
		require.True(t, ErrInvalidLoggerConfig.Equal(err), "%+v", cfg)
		require.Nil(t, lg)
		require.Nil(t, cleanup)
	}
}
