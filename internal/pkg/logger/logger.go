// Package logger adapts zerolog to the kratos log.Logger interface.
package logger

import (
	"fmt"
	"io"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/rs/zerolog"
)

var _ log.Logger = (*Logger)(nil)

// Logger writes kratos key/value records as zerolog JSON lines.
type Logger struct {
	log zerolog.Logger
}

// New creates a Logger writing to w. An unknown level falls back to info.
func New(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	return &Logger{log: zerolog.New(w).Level(lvl)}
}

func (l *Logger) Log(level log.Level, keyvals ...any) error {
	var ev *zerolog.Event
	switch level {
	case log.LevelDebug:
		ev = l.log.Debug()
	case log.LevelInfo:
		ev = l.log.Info()
	case log.LevelWarn:
		ev = l.log.Warn()
	case log.LevelError:
		ev = l.log.Error()
	case log.LevelFatal:
		// WithLevel keeps zerolog from exiting; kratos decides that
		ev = l.log.WithLevel(zerolog.FatalLevel)
	default:
		ev = l.log.Info()
	}
	if ev == nil {
		return nil
	}

	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "KEYVALS UNPAIRED")
	}
	var msg string
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if key == log.DefaultMessageKey {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		switch v := keyvals[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case fmt.Stringer:
			ev = ev.Str(key, v.String())
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
	return nil
}
