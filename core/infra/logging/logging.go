package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envLogFormat = "LOG_FORMAT"
	envLogLevel  = "LOG_LEVEL"
)

// callerOptions make entries report the caller of Info/Warn/Error/Debug
// rather than this package.
var callerOptions = []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}

var (
	loggerOnce sync.Once
	loggerMu   sync.RWMutex
	base       *zap.Logger
)

// Info logs a message with key/value fields for a component.
func Info(component, msg string, kv ...interface{}) {
	logger().Info(msg, fields(component, kv...)...)
}

// Warn logs a recoverable problem with key/value fields for a component.
func Warn(component, msg string, kv ...interface{}) {
	logger().Warn(msg, fields(component, kv...)...)
}

// Error logs an error message with key/value fields for a component.
func Error(component, msg string, kv ...interface{}) {
	logger().Error(msg, fields(component, kv...)...)
}

// Debug logs verbose diagnostics; dropped unless LOG_LEVEL=debug.
func Debug(component, msg string, kv ...interface{}) {
	logger().Debug(msg, fields(component, kv...)...)
}

// SetLogger replaces the process logger. Tests use it with zaptest/observer cores.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	loggerMu.Lock()
	base = l
	loggerMu.Unlock()
}

// Sync flushes buffered log entries.
func Sync() {
	_ = logger().Sync()
}

func logger() *zap.Logger {
	loggerOnce.Do(func() {
		l, err := newLogger(os.Getenv(envLogFormat), os.Getenv(envLogLevel))
		if err != nil {
			l = zap.NewNop()
		}
		loggerMu.Lock()
		base = l
		loggerMu.Unlock()
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return base
}

func newLogger(format, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.DisableStacktrace = true
	}
	lvl := zapcore.InfoLevel
	if raw := strings.TrimSpace(level); raw != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", raw, err)
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build(callerOptions...)
}

func fields(component string, kv ...interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2+1)
	out = append(out, zap.String("component", strings.ToLower(component)))
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	for i := 0; i < len(kv); i += 2 {
		key := strings.TrimSpace(toString(kv[i]))
		if err, ok := kv[i+1].(error); ok {
			out = append(out, zap.NamedError(key, err))
			continue
		}
		out = append(out, zap.Any(key, kv[i+1]))
	}
	return out
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(fmt.Sprintf("%v", t)), "\n", " "), "\t", " "))
	}
}
