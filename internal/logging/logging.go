// Package logging sets up the structured logger shared by both CLIs:
// slog with a custom trace level, optional file tee, and --quiet
// suppression, grounded on the retrieved syftbox sync engine's log/slog
// usage (other_examples) generalized to the five levels spec.md §6 names.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// LevelTrace sits below slog.LevelDebug; slog's Level is an int and
// explicitly supports custom levels outside the four named ones.
const LevelTrace slog.Level = slog.LevelDebug - 4

// Options configures New.
type Options struct {
	Level   string // "error", "warn", "info", "debug", "trace"
	LogFile string // optional path; opened O_APPEND|O_CREATE
	Quiet   bool   // raise the console's effective floor to warn
}

// New builds a *slog.Logger per Options. The returned closer must be
// called at shutdown to flush/close any opened log file.
func New(opts Options) (*slog.Logger, func() error, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	consoleLevel := level
	if opts.Quiet && consoleLevel < slog.LevelWarn {
		consoleLevel = slog.LevelWarn
	}

	_ = isatty.IsTerminal(os.Stderr.Fd()) // reserved for future colorized console output

	sinks := []sink{{
		handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: consoleLevel, ReplaceAttr: renameTrace}),
		level:   consoleLevel,
	}}
	closer := func() error { return nil }

	if opts.LogFile != "" {
		f, ferr := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", opts.LogFile, ferr)
		}
		sinks = append(sinks, sink{
			handler: slog.NewTextHandler(f, &slog.HandlerOptions{Level: level, ReplaceAttr: renameTrace}),
			level:   level,
		})
		closer = f.Close
	}

	return slog.New(fanoutHandler{sinks: sinks, min: level}), closer, nil
}

func renameTrace(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// sink pairs a slog.Handler with the minimum level it accepts, so console
// and log-file destinations can run at independent floors (console raised
// by --quiet, file always at the requested level) within one *slog.Logger.
type sink struct {
	handler slog.Handler
	level   slog.Level
}

// fanoutHandler implements slog.Handler by dispatching each record to
// every sink whose floor the record clears.
type fanoutHandler struct {
	sinks []sink
	min   slog.Level // lowest floor across all sinks, for Enabled
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= f.min
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, s := range f.sinks {
		if r.Level < s.level {
			continue
		}
		if err := s.handler.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := fanoutHandler{sinks: make([]sink, len(f.sinks)), min: f.min}
	for i, s := range f.sinks {
		out.sinks[i] = sink{handler: s.handler.WithAttrs(attrs), level: s.level}
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := fanoutHandler{sinks: make([]sink, len(f.sinks)), min: f.min}
	for i, s := range f.sinks {
		out.sinks[i] = sink{handler: s.handler.WithGroup(name), level: s.level}
	}
	return out
}
