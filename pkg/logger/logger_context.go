package logger

import (
	"context"
	"fmt"

	lcontext "github.com/ltrt/ltrt/pkg/context"
)

// LoggerContext extends Logger with methods that pull run tracing fields
// out of a context
type LoggerContext interface {
	Logger
	InfoContext(ctx context.Context, message string, fields ...Field)
	ErrorContext(ctx context.Context, message string, fields ...Field)
	WarnContext(ctx context.Context, message string, fields ...Field)
	DebugContext(ctx context.Context, message string, fields ...Field)
}

var _ LoggerContext = (*StageLogger)(nil)

// InfoContext logs an info message with context tracing
func (l *StageLogger) InfoContext(ctx context.Context, message string, fields ...Field) {
	l.Info(message, append(ContextFields(ctx), fields...)...)
}

// ErrorContext logs an error message with context tracing
func (l *StageLogger) ErrorContext(ctx context.Context, message string, fields ...Field) {
	l.Error(message, append(ContextFields(ctx), fields...)...)
}

// WarnContext logs a warning message with context tracing
func (l *StageLogger) WarnContext(ctx context.Context, message string, fields ...Field) {
	l.Warn(message, append(ContextFields(ctx), fields...)...)
}

// DebugContext logs a debug message with context tracing
func (l *StageLogger) DebugContext(ctx context.Context, message string, fields ...Field) {
	l.Debug(message, append(ContextFields(ctx), fields...)...)
}

// ContextFields extracts run_id, stage, instant and duration_ms from ctx
func ContextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field

	if runID := lcontext.GetRunID(ctx); runID != lcontext.UnknownRunID {
		fields = append(fields, WithField("run_id", runID))
	}
	if stage := lcontext.GetStage(ctx); stage != "" {
		fields = append(fields, WithField("stage", stage))
	}
	if instant, ok := lcontext.GetInstant(ctx); ok {
		fields = append(fields, WithField("instant", instant))
	}
	if duration := lcontext.GetDuration(ctx); duration > 0 {
		fields = append(fields, WithField("duration_ms", duration.Milliseconds()))
	}

	return fields
}

// WithContext creates a logger that automatically includes context fields
func WithContext(ctx context.Context, logger Logger) Logger {
	if ctx == nil {
		return logger
	}
	return &contextualLogger{ctx: ctx, logger: logger}
}

// contextualLogger wraps a logger with automatic context field extraction
type contextualLogger struct {
	ctx    context.Context
	logger Logger
}

func (cl *contextualLogger) Info(message string, fields ...Field) {
	cl.logger.Info(message, append(ContextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) Error(message string, fields ...Field) {
	cl.logger.Error(message, append(ContextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) Warn(message string, fields ...Field) {
	cl.logger.Warn(message, append(ContextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) Debug(message string, fields ...Field) {
	cl.logger.Debug(message, append(ContextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) Success(message string, fields ...Field) {
	cl.logger.Success(message, append(ContextFields(cl.ctx), fields...)...)
}

func (cl *contextualLogger) WithStage(stage string) Logger {
	return &contextualLogger{ctx: cl.ctx, logger: cl.logger.WithStage(stage)}
}

func (cl *contextualLogger) WithCamera(camera fmt.Stringer) Logger {
	return &contextualLogger{ctx: cl.ctx, logger: cl.logger.WithCamera(camera)}
}
