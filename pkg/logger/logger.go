package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key string

var Key = key("logger")

type Logger struct {
	log *zap.Logger
}

func New(ctx context.Context, outputPaths []string, env string) context.Context {
	var cfg zap.Config

	switch env {
	case "local":
		cfg = zap.Config{
			Encoding:         "console",
			Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
			OutputPaths:      outputPaths,
			ErrorOutputPaths: []string{"stderr"},
			EncoderConfig: zapcore.EncoderConfig{
				MessageKey: "msg",
				LevelKey:   "level",
				TimeKey:    "ts",
				EncodeTime: zapcore.ISO8601TimeEncoder,
			},
		}
	case "dev":
		cfg = zap.Config{
			Encoding:         "json",
			Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
			OutputPaths:      outputPaths,
			ErrorOutputPaths: []string{"stderr"},
			EncoderConfig:    zap.NewProductionEncoderConfig(),
		}
	default:
		cfg = zap.Config{
			Encoding:         "json",
			Level:            zap.NewAtomicLevelAt(zap.InfoLevel),
			OutputPaths:      outputPaths,
			ErrorOutputPaths: []string{"stderr"},
			EncoderConfig:    zap.NewProductionEncoderConfig(),
		}
	}

	log, err := cfg.Build()
	if err != nil {
		panic("can't init logger: " + err.Error())
	}

	return context.WithValue(ctx, Key, &Logger{log: log})
}

// Discard returns a context carrying a no-op logger, for tests and tools
// that do not care about output.
func Discard(ctx context.Context) context.Context {
	return context.WithValue(ctx, Key, &Logger{log: zap.NewNop()})
}

func GetFromCtx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(Key).(*Logger); ok {
		return l
	}
	return &Logger{log: zap.NewNop()}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Debug(msg, fields...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Info(msg, fields...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Warn(msg, fields...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Error(msg, fields...)
}

func (l *Logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Fatal(msg, fields...)
}

func (l *Logger) With(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, Key, &Logger{log: l.log.With(fields...)})
}

func Err(err error) zap.Field {
	return zap.Error(err)
}
