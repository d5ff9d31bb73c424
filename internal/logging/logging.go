// Package logging builds the zerolog loggers used across missionctl.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options controls the root logger.
type Options struct {
	// Level is a zerolog level name (debug, info, warn, error). Defaults to info.
	Level string
	// Pretty switches to the human-readable console writer.
	Pretty bool
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// New builds a root logger from opts.
func New(opts Options) zerolog.Logger {
	var w io.Writer = os.Stderr
	if opts.Writer != nil {
		w = opts.Writer
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// FileLogger appends JSON log lines for one mission to a file so a run can be
// inspected after the process exits.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	logger zerolog.Logger
}

// NewFileLogger opens (or creates) the log file at path. Parent directories
// are created as needed. An empty path yields a no-op logger.
func NewFileLogger(path string) (*FileLogger, error) {
	if path == "" {
		return &FileLogger{logger: zerolog.Nop()}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fl := &FileLogger{file: f}
	fl.logger = zerolog.New(zerolog.SyncWriter(f)).With().Timestamp().Logger()
	fl.logger.Info().Str("started_at", time.Now().Format(time.RFC3339)).Msg("mission log opened")
	return fl, nil
}

// MissionLogPath returns the per-mission log file under dataDir.
func MissionLogPath(dataDir, missionID string) string {
	return filepath.Join(dataDir, "logs", missionID+".log")
}

// Logger returns the underlying zerolog logger.
func (l *FileLogger) Logger() zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.logger
}

// Close closes the log file. Safe on a nil or file-less logger.
func (l *FileLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
