package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger writes structured records through zerolog.
//
// A Logger from a Service tracks Service.Apply, so sinks and level can change
// under it. The zero value discards everything.
type Logger struct {
	svc   *Service
	fixed *zerolog.Logger
	bound []Field
}

// Nop returns a logger that never writes anything.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{fixed: &zl}
}

// NewConsole writes human-readable lines to stdout. It is meant for the
// boot phase, before the Service and its sinks exist.
func NewConsole(level string) Logger {
	useGlobals()
	zl := build(newConsoleWriter(os.Stdout), level, zerolog.InfoLevel)
	return Logger{fixed: &zl}
}

// NewWriter writes JSON lines to w. CLI helpers and tests use it.
func NewWriter(w io.Writer, level string) Logger {
	zl := build(w, level, zerolog.DebugLevel)
	return Logger{fixed: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.fixed == nil && len(l.bound) == 0 }

// With returns a child carrying fields on every record.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	bound := make([]Field, 0, len(l.bound)+len(fields))
	l.bound = append(append(bound, l.bound...), fields...)
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) target() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.fixed != nil:
		return *l.fixed
	}
	return zerolog.Nop()
}

// emit must be called directly from a level method; the caller frame is fixed.
func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.target()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok && file != "" {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	applyFields(e, l.bound)
	applyFields(e, fields)
	e.Msg(msg)
}

func useGlobals() {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"
}

func build(w io.Writer, level string, def zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(ParseLevel(level, def)).With().Timestamp().Logger()
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: consoleTimeFormat,
		// caller is already file:line
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

var levelNames = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// ParseLevel maps a level name, any case, to a zerolog level. Unknown names
// yield def.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return def
}
