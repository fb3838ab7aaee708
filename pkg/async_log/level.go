package async_log

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

type LoggerLevel int

const (
	TRACE LoggerLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

// zap has no trace level, one below debug is used
const zapTraceLevel = zapcore.DebugLevel - 1

func (le LoggerLevel) String() string {
	switch le {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	}
	return "UNKNOWN"
}

// ParseLevel maps "trace", "debug", "info", "warn", "error" and "fatal" to a level,
// anything else is INFO
func ParseLevel(s string) LoggerLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	}
	return INFO
}

func (le LoggerLevel) zapLevel() zapcore.Level {
	switch le {
	case TRACE:
		return zapTraceLevel
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}

func levelEncoder(color bool) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l == zapTraceLevel {
			enc.AppendString(TRACE.String())
			return
		}
		if color {
			zapcore.CapitalColorLevelEncoder(l, enc)
			return
		}
		zapcore.CapitalLevelEncoder(l, enc)
	}
}
