package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/isdmx/agentbox/config"
)

// FileOptions configures the optional rotating log file
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	log, err := New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Logging.File == "" {
		return log, nil
	}

	return WithFile(log, cfg.Logging.Mode, cfg.Logging.Level, FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
}

// New creates a new logger instance based on configuration
func New(mode, level string) (*zap.Logger, error) {
	if _, err := buildConfig(mode); err != nil {
		return nil, err
	}

	logLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	// stdout belongs to the MCP stdio transport
	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}

// WithFile tees log output into a size-rotated file
func WithFile(log *zap.Logger, mode, level string, opts FileOptions) (*zap.Logger, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("log file path must not be empty")
	}

	if _, err := buildConfig(mode); err != nil {
		return nil, err
	}

	logLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	})

	// Rotated files use the production JSON layout in every mode
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), writer, logLevel)

	return log.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return encoderCfg
}

func buildConfig(mode string) (zap.Config, error) {
	var cfg zap.Config

	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return zap.Config{}, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	return cfg, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	return logLevel, nil
}
