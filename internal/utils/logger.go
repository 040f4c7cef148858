package utils

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalMu     sync.Mutex
	globalLogger *zap.Logger
)

// NewLogger builds the process logger and installs it as the zap global.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "json" {
		encoding = "console"
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if encoding == "console" {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	}
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	initialFields := map[string]interface{}{}
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		initialFields["service"] = name
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.Development,
		InitialFields:     initialFields,
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	replaceGlobal(logger)

	return logger, nil
}

func MustNewLogger(cfg LoggingConfig) *zap.Logger {
	logger, err := NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	return logger
}

// Logger returns the installed logger, falling back to a production logger.
func Logger() *zap.Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
		globalLogger = logger
		zap.ReplaceGlobals(logger)
	}
	return globalLogger
}

// Component returns a sugared logger named after a subsystem.
func Component(name string) *zap.SugaredLogger {
	return Logger().Named(name).Sugar()
}

func replaceGlobal(logger *zap.Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()

	zap.ReplaceGlobals(logger)
	globalLogger = logger
}
