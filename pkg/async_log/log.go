package async_log

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pingcap/errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is everything the reactor needs from a logger
type Logger interface {
	Logf(level LoggerLevel, f string, args ...interface{})
	Sync() error
}

// Config describes where log lines go
type Config struct {
	Level string `toml:"level" json:"level"`
	// File is the log file path, empty disables the file sink
	File string `toml:"file" json:"file"`
	// MaxSizeMB is the size in megabytes before a file gets rotated
	MaxSizeMB int `toml:"max-size" json:"max-size"`
	// MaxBackups is the number of rotated files to retain
	MaxBackups int  `toml:"max-backups" json:"max-backups"`
	Console    bool `toml:"console" json:"console"`
	Color      bool `toml:"color" json:"color"`
	// Async moves file writes off the caller goroutine
	Async bool `toml:"async" json:"async"`
}

type logger struct {
	zl *zap.Logger
}

// NewLogger builds a logger from cfg, the returned function flushes and releases the
// file sink and must be called once the logger is no longer used. The log file is
// created up front so an unwritable path fails here rather than on the first entry
func NewLogger(cfg Config) (Logger, func(), error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level).zapLevel())

	var cores []zapcore.Core
	var closers []func() error

	if cfg.Console {
		enc := zapcore.NewConsoleEncoder(encoderConfig(cfg.Color))
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level))
	}

	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}

		var ws zapcore.WriteSyncer
		if cfg.Async {
			aw := newAsyncWriter(lj, defaultBackupBufferNums, defaultBufferSize, defaultFlushInterval)
			ws = aw
			closers = append(closers, aw.Close)
		} else {
			ws = zapcore.Lock(zapcore.AddSync(lj))
			closers = append(closers, lj.Close)
		}

		enc := zapcore.NewConsoleEncoder(encoderConfig(false))
		cores = append(cores, zapcore.NewCore(enc, ws, level))
	}

	core := zapcore.NewNopCore()
	if len(cores) != 0 {
		core = zapcore.NewTee(cores...)
	}

	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	cleanup := func() {
		// syncing a terminal fails on some platforms, only the file sinks matter here
		_ = zl.Sync()
		var err error
		for _, c := range closers {
			err = multierr.Append(err, c())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
		}
	}

	return &logger{zl: zl}, cleanup, nil
}

func (cfg Config) validate() error {
	if cfg.MaxSizeMB < 0 {
		return ErrInvalidLoggerConfig.GenWithStackByArgs(fmt.Sprintf("negative max-size %d", cfg.MaxSizeMB))
	}
	if cfg.MaxBackups < 0 {
		return ErrInvalidLoggerConfig.GenWithStackByArgs(fmt.Sprintf("negative max-backups %d", cfg.MaxBackups))
	}
	if cfg.File == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return errors.Annotatef(ErrInvalidLoggerConfig.GenWithStackByArgs(cfg.File), "%v", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Annotatef(ErrInvalidLoggerConfig.GenWithStackByArgs(cfg.File), "%v", err)
	}
	return f.Close()
}

// NewZapLogger wraps an existing zap logger
func NewZapLogger(zl *zap.Logger) Logger {
	return &logger{zl: zl.WithOptions(zap.AddCallerSkip(1))}
}

func NewNopLogger() Logger {
	return &logger{zl: zap.NewNop()}
}

func (l *logger) Logf(level LoggerLevel, f string, args ...interface{}) {
	lvl := level.zapLevel()
	if !l.zl.Core().Enabled(lvl) {
		return
	}

	if ce := l.zl.Check(lvl, fmt.Sprintf(f, args...)); ce != nil {
		ce.Write()
	}
}

func (l *logger) Sync() error {
	return l.zl.Sync()
}

func encoderConfig(color bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = levelEncoder(color)
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return cfg
}
