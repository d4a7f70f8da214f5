package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogrusLogger implements the ports.Logger interface on top of logrus,
// with console output for an operator terminal and rotated JSON files
// for later inspection.
type LogrusLogger struct {
	l *logrus.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug|info|warn|error
	FilePath   string // empty disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New creates a configured logrus-backed logger.
func New(cfg Config) (*LogrusLogger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		TimestampFormat:        "2006-01-02 15:04:05",
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	l.SetOutput(os.Stdout)

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, err
		}
		rotated := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		l.AddHook(&fileHook{writer: rotated, formatter: &logrus.JSONFormatter{}})
	}

	return &LogrusLogger{l: l}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// fileHook mirrors every entry to the rotated file in JSON.
type fileHook struct {
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *fileHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(b)
	return err
}

func (g *LogrusLogger) entry(fields ...map[string]interface{}) *logrus.Entry {
	if len(fields) > 0 && fields[0] != nil {
		return g.l.WithFields(logrus.Fields(fields[0]))
	}
	return logrus.NewEntry(g.l)
}

// Debug logs a message at Debug level.
func (g *LogrusLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	g.entry(fields...).Debug(msg)
}

// Info logs a message at Info level.
func (g *LogrusLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	g.entry(fields...).Info(msg)
}

// Warn logs a message at Warning level.
func (g *LogrusLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	g.entry(fields...).Warn(msg)
}

// Error logs an error message at Error level.
func (g *LogrusLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	e := g.entry(fields...)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(msg)
}
