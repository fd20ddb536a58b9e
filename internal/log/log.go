// Package log is blocklog's process-wide structured logger. Every entry goes
// to stderr; stdout belongs to command output, human or --json.
//
// Call sites pass a field map and a message:
//
//	log.Info(map[string]any{"records": n}, "batch written")
package log

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is what the package-level functions forward to.
type Logger interface {
	Debug(fields map[string]any, msg string)
	Info(fields map[string]any, msg string)
	Warn(fields map[string]any, msg string)
	Error(fields map[string]any, msg string)
}

type holder struct{ Logger }

var current atomic.Pointer[holder]

func init() {
	current.Store(&holder{newZapLogger(false, zapcore.InfoLevel)})
}

// SetLogger installs l and returns a func that reinstates the previous
// logger, so tests can write defer log.SetLogger(l)().
func SetLogger(l Logger) (restore func()) {
	prev := current.Swap(&holder{l})
	return func() { current.Store(prev) }
}

// Configure installs a zap logger for the given logging.env and
// logging.level. "prod" selects JSON output; anything else the colored
// console encoder.
func Configure(env, level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	current.Store(&holder{newZapLogger(env != "prod", lvl)})
	return nil
}

func Debug(fields map[string]any, msg string) { current.Load().Debug(fields, msg) }
func Info(fields map[string]any, msg string)  { current.Load().Info(fields, msg) }
func Warn(fields map[string]any, msg string)  { current.Load().Warn(fields, msg) }
func Error(fields map[string]any, msg string) { current.Load().Error(fields, msg) }

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return zapLogger{base: zap.NewNop()}
}

type zapLogger struct {
	base *zap.Logger
}

func newZapLogger(dev bool, level zapcore.Level) Logger {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	base, err := cfg.Build()
	if err != nil {
		return Discard()
	}
	return zapLogger{base: base}
}

func (l zapLogger) Debug(fields map[string]any, msg string) { l.write(zapcore.DebugLevel, fields, msg) }
func (l zapLogger) Info(fields map[string]any, msg string)  { l.write(zapcore.InfoLevel, fields, msg) }
func (l zapLogger) Warn(fields map[string]any, msg string)  { l.write(zapcore.WarnLevel, fields, msg) }
func (l zapLogger) Error(fields map[string]any, msg string) { l.write(zapcore.ErrorLevel, fields, msg) }

// write skips field conversion entirely when lvl is disabled.
func (l zapLogger) write(lvl zapcore.Level, fields map[string]any, msg string) {
	ce := l.base.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(sortedFields(fields)...)
}

// sortedFields orders keys so repeated entries render identically.
func sortedFields(m map[string]any) []zap.Field {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, m[k]))
	}
	return out
}
