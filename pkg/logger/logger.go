package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger - структурированный логгер. Аргументы после сообщения передаются
// парами ключ/значение: log.Info("Client connected", "user_id", id).
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	Fatal(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

type Options struct {
	Level   string
	Pretty  bool
	Service string
	Output  io.Writer
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New создает JSON логгер в stdout с заданным уровнем.
func New(level string) Logger {
	return NewWithOptions(Options{Level: level})
}

func NewWithOptions(opts Options) Logger {
	var w io.Writer = os.Stdout
	if opts.Output != nil {
		w = opts.Output
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	zl := zerolog.New(w).Level(parseLevel(opts.Level)).With().Timestamp().Logger()
	if opts.Service != "" {
		zl = zl.With().Str("service", opts.Service).Logger()
	}
	return &zeroLogger{zl: zl}
}

// Nop возвращает логгер, который ничего не пишет. Используется в тестах.
func Nop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, keyvals ...interface{}) {
	l.emit(l.zl.Debug(), msg, keyvals)
}

func (l *zeroLogger) Info(msg string, keyvals ...interface{}) {
	l.emit(l.zl.Info(), msg, keyvals)
}

func (l *zeroLogger) Warn(msg string, keyvals ...interface{}) {
	l.emit(l.zl.Warn(), msg, keyvals)
}

func (l *zeroLogger) Error(msg string, keyvals ...interface{}) {
	l.emit(l.zl.Error(), msg, keyvals)
}

func (l *zeroLogger) Fatal(msg string, keyvals ...interface{}) {
	l.emit(l.zl.Fatal(), msg, keyvals)
}

func (l *zeroLogger) With(keyvals ...interface{}) Logger {
	return &zeroLogger{zl: l.zl.With().Fields(normalize(keyvals)).Logger()}
}

func (l *zeroLogger) emit(evt *zerolog.Event, msg string, keyvals []interface{}) {
	if evt == nil {
		return
	}
	if len(keyvals) > 0 {
		evt = evt.Fields(normalize(keyvals))
	}
	evt.Msg(msg)
}

// normalize приводит ключи к строкам и дополняет нечетный хвост,
// чтобы zerolog не отбрасывал поля молча.
func normalize(keyvals []interface{}) []interface{} {
	out := make([]interface{}, 0, len(keyvals)+1)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		var val interface{} = "(MISSING)"
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		out = append(out, key, val)
	}
	return out
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
