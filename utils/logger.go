package utils

import (
	"os"
	"sync/atomic"

	_ "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base atomic.Pointer[zap.Logger]

func init() {
	base.Store(zap.NewNop())
}

// NewLogger builds the process logger: production defaults, logfmt encoding,
// host and service as initial fields.
func NewLogger(level, encoding, service string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if encoding != "" {
		cfg.Encoding = encoding
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg.InitialFields = make(map[string]any)
	cfg.InitialFields["host"], _ = os.Hostname()
	cfg.InitialFields["service"] = service
	cfg.OutputPaths = []string{"stdout"}
	return cfg.Build()
}

// SetLogger replaces the logger behind the subsystem helpers.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base.Store(logger)
}

// Logger returns the current process logger.
func Logger() *zap.Logger {
	return base.Load()
}

// Log provides structured logging with subsystem identification
// Example usage:
//
//	utils.Log(zap.DebugLevel, "sse", "Connection established", "session_id", sessionID, "connection_count", 3)
//	utils.Log(zap.InfoLevel, "payment", "Payment succeeded", "retrieval_ref", ref, "amount", "3.00")
func Log(level zapcore.Level, subsystem string, msg string, keysAndValues ...interface{}) {
	logw(base.Load().Sugar().With("subsystem", subsystem), level, msg, keysAndValues...)
}

func logw(s *zap.SugaredLogger, level zapcore.Level, msg string, keysAndValues ...interface{}) {
	switch level {
	case zap.DebugLevel:
		s.Debugw(msg, keysAndValues...)
	case zap.WarnLevel:
		s.Warnw(msg, keysAndValues...)
	case zap.ErrorLevel:
		s.Errorw(msg, keysAndValues...)
	default:
		s.Infow(msg, keysAndValues...)
	}
}

// Convenience functions for common log levels
func Debug(subsystem string, msg string, keysAndValues ...interface{}) {
	Log(zap.DebugLevel, subsystem, msg, keysAndValues...)
}

func Info(subsystem string, msg string, keysAndValues ...interface{}) {
	Log(zap.InfoLevel, subsystem, msg, keysAndValues...)
}

func Warn(subsystem string, msg string, keysAndValues ...interface{}) {
	Log(zap.WarnLevel, subsystem, msg, keysAndValues...)
}

func Error(subsystem string, msg string, keysAndValues ...interface{}) {
	Log(zap.ErrorLevel, subsystem, msg, keysAndValues...)
}
