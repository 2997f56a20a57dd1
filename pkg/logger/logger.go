package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide sugared logger. It is a no-op until Init runs.
var Log = zap.NewNop().Sugar()

// Init builds the logger for the given level ("debug", "info", "warn",
// "error") and format ("console" or "json").
func Init(level, format string) error {
	var lvl zapcore.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(format), "console") || format == "" {
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	Log = l.Sugar()
	return nil
}

// Replace swaps the underlying logger; tests use it with zaptest/observer.
func Replace(l *zap.Logger) {
	if l == nil {
		Log = zap.NewNop().Sugar()
		return
	}
	Log = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// Sync flushes buffered entries.
func Sync() {
	_ = Log.Sync()
}

func Debug(msg string, kv ...any) {
	Log.Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	Log.Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	Log.Warnw(msg, kv...)
}

func Error(msg string, kv ...any) {
	Log.Errorw(msg, kv...)
}

// LogConfigSummary writes one entry per summary line under a shared event name.
func LogConfigSummary(event string, items []string) {
	for _, it := range items {
		Log.Infow(event, "item", it)
	}
}
