// Package logging builds the zap logger used by the placeholder service and the CLI.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how much is logged.
type Config struct {
	// Development switches the console to a colored, human readable encoder.
	Development bool
	// Level is debug, info, warn or error. Empty picks debug in development, info otherwise.
	Level string
	// File is an optional path for a rotated JSON log.
	File string
	// MaxSizeMB, MaxBackups and MaxAgeDays tune rotation; zero values use the defaults.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Rotation defaults.
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// New returns a logger writing to stderr and, when cfg.File is set, to a rotated file.
func New(cfg Config) *zap.Logger {
	level := ParseLevel(cfg.Level, zapcore.InfoLevel)
	if cfg.Level == "" && cfg.Development {
		level = zapcore.DebugLevel
	}
	return zap.New(newCore(cfg, level, zapcore.Lock(os.Stderr)), zap.AddCaller())
}

func newCore(cfg Config, level zapcore.Level, console zapcore.WriteSyncer) zapcore.Core {
	var consoleEncoder zapcore.Encoder
	if cfg.Development {
		consoleEncoder = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig())
	}
	core := zapcore.NewCore(consoleEncoder, console, level)
	if cfg.File == "" {
		return core
	}

	file := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(newFileWriter(cfg)),
		level,
	)
	return zapcore.NewTee(core, file)
}

func newFileWriter(cfg Config) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	if w.MaxSize == 0 {
		w.MaxSize = DefaultMaxSizeMB
	}
	if w.MaxBackups == 0 {
		w.MaxBackups = DefaultMaxBackups
	}
	if w.MaxAge == 0 {
		w.MaxAge = DefaultMaxAgeDays
	}
	return w
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return cfg
}

// ParseLevel parses debug/info/warn/warning/error case-insensitively, falling back to def.
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return def
	}
}
