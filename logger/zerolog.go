package logger

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger is a Logger backed by github.com/rs/zerolog.
type ZerologLogger struct {
	logger zerolog.Logger
	level  *atomic.Int32
}

var _ Logger = (*ZerologLogger)(nil)

// NewZerolog creates a zerolog based logger writing to stderr.
func NewZerolog(level Level, format Format) Logger {
	return NewZerologWriter(os.Stderr, level, format)
}

// NewZerologWriter creates a zerolog based logger writing to w.
// ConsoleFormat wraps w with zerolog.ConsoleWriter.
func NewZerologWriter(w io.Writer, level Level, format Format) Logger {
	if format == ConsoleFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lv := &atomic.Int32{}
	lv.Store(int32(level))

	return &ZerologLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
		level:  lv,
	}
}

func (z *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	z.emit(DebugLevel, z.logger.Debug(), msg, keysAndValues)
}

func (z *ZerologLogger) Info(msg string, keysAndValues ...any) {
	z.emit(InfoLevel, z.logger.Info(), msg, keysAndValues)
}

func (z *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	z.emit(WarnLevel, z.logger.Warn(), msg, keysAndValues)
}

func (z *ZerologLogger) Error(msg string, keysAndValues ...any) {
	z.emit(ErrorLevel, z.logger.Error(), msg, keysAndValues)
}

func (z *ZerologLogger) Fatal(msg string, keysAndValues ...any) {
	z.emit(FatalLevel, z.logger.Error(), msg, keysAndValues)
	os.Exit(1)
}

// With returns a child logger sharing the parent's level.
func (z *ZerologLogger) With(keyValues ...any) Logger {
	ctx := z.logger.With()
	for i := 0; i < len(keyValues); i += 2 {
		key, val := pairAt(keyValues, i)
		ctx = ctx.Interface(key, val)
	}

	return &ZerologLogger{logger: ctx.Logger(), level: z.level}
}

func (z *ZerologLogger) Level() Level {
	return Level(z.level.Load())
}

func (z *ZerologLogger) SetLevel(level Level) {
	z.level.Store(int32(level))
}

func (z *ZerologLogger) emit(level Level, event *zerolog.Event, msg string, keysAndValues []any) {
	if level < z.Level() {
		return
	}

	for i := 0; i < len(keysAndValues); i += 2 {
		key, val := pairAt(keysAndValues, i)
		switch v := val.(type) {
		case string:
			event = event.Str(key, v)
		case int:
			event = event.Int(key, v)
		case int64:
			event = event.Int64(key, v)
		case uint64:
			event = event.Uint64(key, v)
		case bool:
			event = event.Bool(key, v)
		case time.Duration:
			event = event.Dur(key, v)
		case error:
			event = event.AnErr(key, v)
		default:
			event = event.Interface(key, v)
		}
	}

	event.Msg(msg)
}

// pairAt returns the key/value pair starting at i. A dangling key gets a nil value
// and a non-string key is formatted with %v.
func pairAt(kv []any, i int) (string, any) {
	key, ok := kv[i].(string)
	if !ok {
		key = fmt.Sprintf("%v", kv[i])
	}

	if i+1 >= len(kv) {
		return key, nil
	}

	return key, kv[i+1]
}
