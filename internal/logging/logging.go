// Package logging builds the process logger.
//
// Levels follow the bridge's historical LOG_LEVEL values: error, warn, info,
// verbose and debug. Verbose sits between info and debug.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelVerbose is logged for lifecycle detail that is too chatty for info
const LevelVerbose = slog.Level(-2)

// Options configures New
type Options struct {
	Level  string // error, warn, info, verbose, debug
	Format string // text or json
	File   string // rotate into this file instead of stderr
}

// ParseLevel maps a LOG_LEVEL value to a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "verbose":
		return LevelVerbose, nil
	case "debug":
		return slog.LevelDebug, nil
	}
	return 0, fmt.Errorf("unknown log level '%s', must be one of: error, warn, info, verbose, debug", s)
}

// New creates the logger. The returned closer releases the log file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = rotator
		closer = rotator
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	case "text", "":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		return nil, nil, fmt.Errorf("unknown log format '%s', must be text or json", opts.Format)
	}

	return slog.New(handler), closer, nil
}

// replaceLevel prints VERBOSE instead of slog's default "INFO-2"
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelVerbose {
		a.Value = slog.StringValue("VERBOSE")
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
