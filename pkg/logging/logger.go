// Package logging configures the process-wide zerolog logger and hands out
// component-scoped children.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for the base logger.
type Config struct {
	Level   string    // "debug", "info", "warn", "error"
	Format  string    // "json" (default) or "console"
	File    bool      // also write to <log dir>/<service>.log
	Dir     string    // log directory; defaults to /var/log/<service>, falling back to ./logs
	Service string    // attached to every entry
	Output  io.Writer // defaults to os.Stdout
}

var (
	mu      sync.RWMutex
	base    = zerolog.New(os.Stdout).With().Timestamp().Str("service", "timelapsed").Logger()
	logFile *os.File
)

// Configure replaces the base logger. It may be called more than once; an
// earlier log file is closed.
func Configure(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	service := cfg.Service
	if service == "" {
		service = "timelapsed"
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	var f *os.File
	if cfg.File {
		f, err = openLogFile(cfg.Dir, service)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(out, f)
	}

	zerolog.TimeFieldFormat = time.RFC3339

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	base = zerolog.New(out).Level(level).With().Timestamp().Str("service", service).Logger()
	return nil
}

// ParseLevel accepts zerolog level names; empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

type ctxKey struct{}

// ContextWithJobID stores a job id for WithContext.
func ContextWithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// JobIDFromContext returns the job id stored by ContextWithJobID.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithContext adds the job id carried by ctx, if any, to logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := JobIDFromContext(ctx); id != "" {
		return logger.With().Str("job_id", id).Logger()
	}
	return logger
}

// openLogFile tries /var/log/<service> first and falls back to ./logs when
// it is not writable.
func openLogFile(dir, service string) (*os.File, error) {
	if dir == "" {
		dir = filepath.Join("/var/log", service)
		if !isWritable(dir) {
			dir = "./logs"
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, service+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

func isWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	marker := filepath.Join(dir, ".write_test")
	f, err := os.Create(marker)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(marker)
	return true
}
