// Package logger provides stage-aware structured logging for the pipeline
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithStage(stage string) Logger
	WithCamera(camera fmt.Stringer) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// WithError creates the conventional error field
func WithError(err error) Field {
	return Field{Key: "error", Value: err}
}

// StageLogger implements Logger with stage and camera awareness
type StageLogger struct {
	logger *logrus.Logger
	stage  string
	camera string
	mu     sync.RWMutex
}

// CustomFormatter formats log lines with a colored level and stage prefix
type CustomFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)

	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	case logrus.DebugLevel, logrus.TraceLevel:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	default:
		levelColor = color.New(color.FgGreen)
		levelText = "SUCCESS"
	}

	data := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}

	// Stage and camera go in the prefix, not the field list
	prefix := ""
	if stage, ok := data["stage"]; ok {
		prefix = fmt.Sprintf("[%s] ", f.paint(color.New(color.FgBlue), fmt.Sprint(stage)))
		delete(data, "stage")
	}
	if camera, ok := data["camera"]; ok {
		prefix += fmt.Sprintf("[%s] ", f.paint(color.New(color.FgMagenta), fmt.Sprint(camera)))
		delete(data, "camera")
	}

	output := fmt.Sprintf("ltrt [%s] %s: %s%s",
		timestamp,
		f.paint(levelColor, levelText),
		prefix,
		entry.Message,
	)

	if len(data) > 0 {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
		}
		output += f.paint(color.New(color.FgWhite, color.Faint), " {"+strings.Join(parts, ", ")+"}")
	}

	return []byte(output + "\n"), nil
}

func (f *CustomFormatter) paint(c *color.Color, s string) string {
	if f.DisableColors {
		return s
	}
	return c.Sprint(s)
}

// CreateLogger creates a new logger instance writing to stdout and,
// when logFile is set, to that file as well
func CreateLogger(logFile string, logLevel string) Logger {
	var output io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			output = io.MultiWriter(os.Stdout, file)
		}
	}

	return newStageLogger(logLevel, output, false)
}

// CreateLoggerWithOutput creates a logger with custom output (for testing)
func CreateLoggerWithOutput(logFile string, logLevel string, output io.Writer) Logger {
	if logFile != "" {
		if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			output = io.MultiWriter(output, file)
		}
	}
	return newStageLogger(logLevel, output, true)
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return newStageLogger("panic", io.Discard, true)
}

func newStageLogger(logLevel string, output io.Writer, disableColors bool) *StageLogger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05.000",
		DisableColors:   disableColors,
	})
	log.SetOutput(output)

	return &StageLogger{logger: log}
}

// WithStage creates a new logger scoped to a pipeline stage
func (l *StageLogger) WithStage(stage string) Logger {
	return &StageLogger{
		logger: l.logger,
		stage:  stage,
		camera: l.camera,
	}
}

// WithCamera creates a new logger scoped to one camera
func (l *StageLogger) WithCamera(camera fmt.Stringer) Logger {
	return &StageLogger{
		logger: l.logger,
		stage:  l.stage,
		camera: camera.String(),
	}
}

func (l *StageLogger) convertFields(fields []Field) logrus.Fields {
	result := make(logrus.Fields, len(fields)+2)
	if l.stage != "" {
		result["stage"] = l.stage
	}
	if l.camera != "" {
		result["camera"] = l.camera
	}
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return result
}

// Info logs an info message
func (l *StageLogger) Info(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info(message)
}

// Error logs an error message
func (l *StageLogger) Error(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Error(message)
}

// Warn logs a warning message
func (l *StageLogger) Warn(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Warn(message)
}

// Debug logs a debug message
func (l *StageLogger) Debug(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Debug(message)
}

// Success logs a success message (info level with a check mark)
func (l *StageLogger) Success(message string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.WithFields(l.convertFields(fields)).Info("✓ " + message)
}

// ConsoleLogger provides plain console output for CLI commands
type ConsoleLogger struct {
	out io.Writer
	err io.Writer
}

// NewConsoleLogger creates a console logger for CLI output
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{out: os.Stdout, err: os.Stderr}
}

// NewConsoleLoggerWithOutput creates a console logger writing to w
func NewConsoleLoggerWithOutput(w io.Writer) *ConsoleLogger {
	return &ConsoleLogger{out: w, err: w}
}

// Info prints info message
func (c *ConsoleLogger) Info(message string) {
	fmt.Fprintf(c.out, "%s %s\n", color.CyanString("[ltrt]"), message)
}

// Error prints error message
func (c *ConsoleLogger) Error(message string) {
	fmt.Fprintf(c.err, "%s %s\n", color.RedString("[ltrt]"), message)
}

// Warn prints warning message
func (c *ConsoleLogger) Warn(message string) {
	fmt.Fprintf(c.out, "%s %s\n", color.YellowString("[ltrt]"), message)
}

// Success prints success message
func (c *ConsoleLogger) Success(message string) {
	fmt.Fprintf(c.out, "%s ✓ %s\n", color.GreenString("[ltrt]"), message)
}
