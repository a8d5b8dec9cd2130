// Package logging builds the host's zap logger. The process speaks the
// native messaging protocol on stdout and reserves stderr for the browser's
// launcher, so logs go to a file only; writing a log line to stdout would
// corrupt the frame stream.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/standardbeagle/brdg/internal/config"
)

const defaultLogName = "brdg.log"

// New creates a file-backed logger from cfg. The log directory is created
// if needed.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	path, err := resolvePath(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{path}
	zcfg.ErrorOutputPaths = []string{path}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// resolvePath picks the log file location: explicit file, else dir/brdg.log,
// else ~/.brdg/logs/brdg.log.
func resolvePath(cfg config.LogConfig) (string, error) {
	if cfg.File != "" {
		return cfg.File, nil
	}
	dir := cfg.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve log directory: %w", err)
		}
		dir = filepath.Join(home, ".brdg", "logs")
	}
	return filepath.Join(dir, defaultLogName), nil
}
