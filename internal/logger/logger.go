package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nerdneilsfield/dreamforge/internal/config"
)

// InitLogger builds the process logger from the [logConfig] section.
// An empty File writes to stdout/stderr. Every entry carries the service name and version.
func InitLogger(cfg config.LogConfig, version string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(GetLevel(cfg.Level))
	zcfg.Encoding = "console"
	if strings.EqualFold(cfg.Format, "json") {
		zcfg.Encoding = "json"
	}

	zcfg.OutputPaths = []string{"stdout"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		zcfg.OutputPaths = []string{cfg.File}
		zcfg.ErrorOutputPaths = []string{cfg.File}
	}

	enc := &zcfg.EncoderConfig
	enc.TimeKey = "time"
	enc.MessageKey = "msg"
	enc.NameKey = "logger"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	if zcfg.Encoding == "console" {
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		zcfg.Sampling = nil
	}
	zcfg.InitialFields = map[string]any{"service": "dreamforge", "version": version}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return NewMaskedLogger(logger), nil
}

// GetLevel maps a config level name to a zap level, defaulting to info.
func GetLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LevelNames lists the level names accepted by GetLevel.
func LevelNames() []string {
	return []string{"debug", "info", "warn", "warning", "error"}
}

// ValidLevel reports whether level is one of LevelNames, ignoring case.
func ValidLevel(level string) bool {
	for _, name := range LevelNames() {
		if strings.EqualFold(name, level) {
			return true
		}
	}
	return false
}
