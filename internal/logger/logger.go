package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger to provide logging functionality
type Logger struct {
	*zap.SugaredLogger
}

// Global logger for convenience in scripts and tests; everywhere else the
// instance should come in through dependency injection.
var L *Logger

// NewLogger creates and returns a new Logger instance
func NewLogger() (*Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// NewDevLogger returns a console logger at debug level, used in tests and
// local tooling where JSON output just gets in the way.
func NewDevLogger() *Logger {
	config := zap.NewDevelopmentConfig()
	zapLogger, err := config.Build()
	if err != nil {
		return &Logger{SugaredLogger: zap.NewNop().Sugar()}
	}
	return &Logger{SugaredLogger: zapLogger.Sugar()}
}

func init() {
	L, _ = NewLogger()
}
