// Package logger holds the process-wide zap logger.
package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once   sync.Once
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar  *zap.SugaredLogger
	output zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
)

func build() {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), output, level)
	sugar = zap.New(core).Sugar()
}

// Logger returns the shared sugared logger.
func Logger() *zap.SugaredLogger {
	once.Do(build)
	return sugar
}

// SetLogLevel changes the minimum level of the shared logger. Accepted
// values are debug, info, warn and error.
func SetLogLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	switch lvl {
	case zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel:
	default:
		return fmt.Errorf("invalid log level %q", name)
	}
	level.SetLevel(lvl)
	return nil
}

// Level returns the current minimum level.
func Level() string { return level.Level().String() }

// Sync flushes buffered log entries.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}
