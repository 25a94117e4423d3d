package logging

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"veriwipe/internal/config"
)

// New builds the process logger from configuration. Console output goes to
// stderr so progress rendering on stdout stays clean; an optional log file
// receives the same entries as JSON.
func New(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Logging.Level); err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", cfg.Logging.Level)
	}
	if verbose && level > zapcore.DebugLevel {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}

	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return nil, errors.Wrap(err, "create log directory")
		}
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", cfg.Logging.File)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
