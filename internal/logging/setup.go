package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes where log output goes and how it is rendered.
type Config struct {
	Level          string `yaml:"level"`
	ConsoleEnabled bool   `yaml:"console_enabled"`
	ConsoleFormat  string `yaml:"console_format"`
	FileEnabled    bool   `yaml:"file_enabled"`
	FilePath       string `yaml:"file_path"`
	FileFormat     string `yaml:"file_format"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// DefaultConfig logs INFO and above as text to stderr.
func DefaultConfig() Config {
	return Config{
		Level:          "INFO",
		ConsoleEnabled: true,
		ConsoleFormat:  "text",
		FilePath:       "logs/matrix.log",
		FileFormat:     "text",
		FileMaxSizeMB:  10,
		FileMaxBackups: 5,
		FileMaxAgeDays: 30,
	}
}

// consoleOut is where console records go.
var consoleOut io.Writer = os.Stderr

// Setup builds a Logger from cfg. Console and file output each use their own
// format. The returned closer releases the log file (if any) and must be
// called on shutdown.
func Setup(cfg Config) (Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		handlers []slog.Handler
		closer   io.Closer = nopCloser{}
	)

	if cfg.ConsoleEnabled {
		format, err := ParseFormat(cfg.ConsoleFormat)
		if err != nil {
			return nil, nil, fmt.Errorf("console: %w", err)
		}
		handlers = append(handlers, newHandler(level, format, consoleOut))
	}

	if cfg.FileEnabled {
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("file logging enabled without file_path")
		}
		format, err := ParseFormat(cfg.FileFormat)
		if err != nil {
			return nil, nil, fmt.Errorf("file: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.FileMaxSizeMB,
			MaxBackups: cfg.FileMaxBackups,
			MaxAge:     cfg.FileMaxAgeDays,
		}
		handlers = append(handlers, newHandler(level, format, lj))
		closer = lj
	}

	switch len(handlers) {
	case 0:
		return New(level, Text, io.Discard), closer, nil
	case 1:
		return &slogLogger{underlying: slog.New(handlers[0])}, closer, nil
	default:
		return &slogLogger{underlying: slog.New(&multiHandler{handlers: handlers})}, closer, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
