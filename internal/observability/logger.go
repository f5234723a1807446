// Package observability builds the process logger.
package observability

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"mediabox-remote/internal/config"
)

const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 7
)

// SetupLogger builds a zap.Logger from c, sets it as the global logger and
// redirects the stdlib log package. Without a log file, entries go to w
// (os.Stderr when nil). The caller should defer logger.Sync().
func SetupLogger(c *config.Config, w io.Writer) (*zap.Logger, error) {
	lvl, err := config.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if strings.ToLower(c.LogFormat) == config.FormatJSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	if c.LogFile != "" {
		if dir := filepath.Dir(c.LogFile); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		})
	} else {
		if w == nil {
			w = os.Stderr
		}
		ws = zapcore.AddSync(w)
	}

	logger := zap.New(zapcore.NewCore(encoder, ws, level),
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	zap.ReplaceGlobals(logger)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}
