// Package dlog is the ambient logging layer spec.md §6 names only as an
// external collaborator (logger.log(level, category, classname,
// funcname, format, args)). It wraps github.com/sirupsen/logrus, the
// teacher project family's actual logging dependency, behind three
// leveled sub-loggers gated by runtime-toggleable Config fields rather
// than the source's compile-time constants, since this module is a
// library invoked by a CLI rather than a single compiled-in stub.
package dlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Config controls which sub-loggers are active. The zero value disables
// every category's Debug output, and its Level (logrus.PanicLevel) also
// filters out Info, Warn and Error.
type Config struct {
	// Debugger enables Debugger().Debug-level output: attach/resume/wait
	// lifecycle tracing (spec.md §4.5/§4.6).
	Debugger bool
	// Trace enables Trace().Debug-level output: every TraceBackend call
	// (spec.md §4.1), named after the source's showLldbServerOutput/
	// logGdbWire gates.
	Trace bool
	// Breakpoint enables Breakpoint().Debug-level output: every
	// add/remove/enable/disable/hit (spec.md §4.2).
	Breakpoint bool
	// Level is the base logrus level; Error and above always print
	// regardless of the three booleans above.
	Level logrus.Level
}

// Logger is the process-wide logging handle, replacing the source's
// file-scope log level/output stream globals (DESIGN NOTES §9) with an
// explicit capability passed to callers that need it.
type Logger struct {
	cfg Config
	out *logrus.Logger
}

// New constructs a Logger writing to w (os.Stderr in cmd/ds2go).
func New(cfg Config, w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(cfg.Level)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{cfg: cfg, out: base}
}

// sub is one gated category logger, matching spec.md §6's
// logger.log(level, category, classname, funcname, format, args)
// contract: category is baked in via WithField, classname/funcname are
// left to the caller as additional fields since Go has no implicit
// caller-class the way the source's C++ macros captured one.
type sub struct {
	enabled bool
	entry   *logrus.Entry
}

func (s sub) Debugf(format string, args ...interface{}) {
	if s.enabled {
		s.entry.Debugf(format, args...)
	}
}

func (s sub) Infof(format string, args ...interface{}) {
	if s.enabled {
		s.entry.Infof(format, args...)
	}
}

func (s sub) Warnf(format string, args ...interface{}) {
	s.entry.Warnf(format, args...)
}

func (s sub) Errorf(format string, args ...interface{}) {
	s.entry.Errorf(format, args...)
}

// Debugger returns the sub-logger for Process/Thread lifecycle events.
func (l *Logger) Debugger() sub {
	return sub{enabled: l.cfg.Debugger, entry: l.out.WithField("category", "debugger")}
}

// Trace returns the sub-logger for TraceBackend calls.
func (l *Logger) Trace() sub {
	return sub{enabled: l.cfg.Trace, entry: l.out.WithField("category", "trace")}
}

// Breakpoint returns the sub-logger for breakpoint/watchpoint bookkeeping.
func (l *Logger) Breakpoint() sub {
	return sub{enabled: l.cfg.Breakpoint, entry: l.out.WithField("category", "breakpoint")}
}

// Fatalf logs at Fatal level and terminates the process (os.Exit(1) via
// logrus), for unrecoverable startup failures in cmd/ds2go only; the
// core library itself never calls this (spec.md §7: "the core never
// prints; it returns").
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.out.Fatalf(format, args...)
}
