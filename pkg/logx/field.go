package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to a record. Later fields overwrite earlier ones with
// the same key in JSON sinks.
type Field func(e *zerolog.Event)

func applyFields(e *zerolog.Event, fields []Field) {
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
}

func String(key, val string) Field {
	return func(e *zerolog.Event) { e.Str(key, val) }
}

func Int(key string, val int) Field {
	return func(e *zerolog.Event) { e.Int(key, val) }
}

// Int64 is the usual shape for Telegram chat and user IDs.
func Int64(key string, val int64) Field {
	return func(e *zerolog.Event) { e.Int64(key, val) }
}

func Uint64(key string, val uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(key, val) }
}

func Bool(key string, val bool) Field {
	return func(e *zerolog.Event) { e.Bool(key, val) }
}

func Float64(key string, val float64) Field {
	return func(e *zerolog.Event) { e.Float64(key, val) }
}

func Duration(key string, val time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(key, val) }
}

func Time(key string, val time.Time) Field {
	return func(e *zerolog.Event) { e.Time(key, val) }
}

// Any falls back to reflection; prefer a typed helper on hot paths.
func Any(key string, val any) Field {
	return func(e *zerolog.Event) { e.Interface(key, val) }
}

// Err is a no-op for a nil error.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}

// Stack attaches a goroutine dump, usually from debug.Stack. Blank input is skipped.
func Stack(trace string) Field {
	if strings.TrimSpace(trace) == "" {
		return nil
	}
	return func(e *zerolog.Event) { e.Str("stack", trace) }
}
