// Package exlog provides the exchange core's structured logging, a thin
// component-scoped wrapper over zap shared by every internal/exchange
// package.
package exlog

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the standard logging interface used across the exchange core.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})

	With(fields ...interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger
}

// StructuredLogger is a zap-backed Logger.
type StructuredLogger struct {
	logger *zap.Logger
	fields []zap.Field
}

// Factory builds component-scoped loggers (matching, position,
// accounting, risk, funding) sharing one zap core and one level; the
// level set in NewFactory applies to every component.
type Factory struct {
	base *zap.Logger
}

// NewFactory builds a Factory at the given level ("debug", "info", "warn",
// "error") in either "json" (production) or "console" (development)
// encoding.
func NewFactory(level, encoding string) (*Factory, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.Encoding = encoding
	cfg.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	cfg.InitialFields = map[string]interface{}{"pid": os.Getpid()}

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Factory{base: base}, nil
}

// For returns a StructuredLogger scoped to the named component.
func (f *Factory) For(component string) *StructuredLogger {
	return &StructuredLogger{logger: f.base.Named(component)}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func (sl *StructuredLogger) Debug(msg string, fields ...interface{}) {
	sl.logger.Debug(msg, sl.convert(fields...)...)
}
func (sl *StructuredLogger) Info(msg string, fields ...interface{}) {
	sl.logger.Info(msg, sl.convert(fields...)...)
}
func (sl *StructuredLogger) Warn(msg string, fields ...interface{}) {
	sl.logger.Warn(msg, sl.convert(fields...)...)
}
func (sl *StructuredLogger) Error(msg string, fields ...interface{}) {
	sl.logger.Error(msg, sl.convert(fields...)...)
}

func (sl *StructuredLogger) With(fields ...interface{}) Logger {
	return &StructuredLogger{logger: sl.logger, fields: append(sl.fields, sl.convert(fields...)...)}
}

func (sl *StructuredLogger) WithContext(ctx context.Context) Logger {
	return sl.With(extractContextFields(ctx)...)
}

func (sl *StructuredLogger) WithComponent(component string) Logger {
	return &StructuredLogger{logger: sl.logger.Named(component), fields: sl.fields}
}

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxUserID    ctxKey = "user_id"
	ctxTraceID   ctxKey = "trace_id"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxUserID, id)
}
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTraceID, id)
}

func extractContextFields(ctx context.Context) []interface{} {
	var fields []interface{}
	if v, ok := ctx.Value(ctxRequestID).(string); ok && v != "" {
		fields = append(fields, "request_id", v)
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok && v != "" {
		fields = append(fields, "user_id", v)
	}
	if v, ok := ctx.Value(ctxTraceID).(string); ok && v != "" {
		fields = append(fields, "trace_id", v)
	}
	return fields
}

func (sl *StructuredLogger) convert(fields ...interface{}) []zap.Field {
	if len(fields)%2 != 0 {
		fields = append(fields, "")
	}
	out := make([]zap.Field, 0, len(fields)/2+len(sl.fields))
	out = append(out, sl.fields...)
	for i := 0; i < len(fields); i += 2 {
		key, _ := fields[i].(string)
		out = append(out, zap.Any(key, fields[i+1]))
	}
	return out
}
