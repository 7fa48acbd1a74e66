// Package logging configures the process-wide logrus logger from
// config.LogConfig.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opd-ai/actorsync/config"
)

// Configure applies level, formatter and output to the standard logrus
// logger. When cfg.File is set, output also goes to a rotating file. The
// returned closer releases the file and is safe to call when none was
// opened.
func Configure(cfg config.LogConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nopCloser{}, fmt.Errorf("parse log level: %w", err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nopCloser{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.File == "" {
		logrus.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	rotating := NewRotatingFile(cfg)
	logrus.SetOutput(io.MultiWriter(os.Stderr, rotating))

	logrus.WithFields(logrus.Fields{
		"function":    "Configure",
		"file":        cfg.File,
		"max_size_mb": rotating.MaxSize,
		"max_backups": rotating.MaxBackups,
	}).Debug("Logging to rotating file")

	return rotating, nil
}

// NewRotatingFile returns the lumberjack writer for cfg.File. Zero limits
// fall back to lumberjack's own defaults.
func NewRotatingFile(cfg config.LogConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    max(cfg.MaxSizeMB, 0),
		MaxBackups: max(cfg.MaxBackups, 0),
		MaxAge:     max(cfg.MaxAgeDays, 0),
		Compress:   cfg.Compress,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
