package log

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger handed to every bydpoller component.
// Key/value pairs follow the logr convention; values under sensitive keys
// are masked before they reach the encoder.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)

	// Error logs at error level. err may be nil.
	Error(err error, msg string, keysAndValues ...any)

	WithName(name string) Logger
	WithValues(keysAndValues ...any) Logger

	// Logr adapts the logger for libraries that take a logr.Logger.
	Logr() logr.Logger

	Sync() error
}

var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	z *zap.Logger
}

func encoderConfig(opts *Options) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		MessageKey:    "message",
		LevelKey:      "level",
		TimeKey:       "timestamp",
		NameKey:       "logger",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	if opts.Format == "console" && opts.EnableColor {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

// newZap builds a zap logger whose level is controlled by level.
func newZap(opts *Options, level zap.AtomicLevel) (*zap.Logger, error) {
	paths := opts.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	sink, _, err := zap.Open(paths...)
	if err != nil {
		return nil, fmt.Errorf("open log outputs %v: %w", paths, err)
	}
	errSink, _, err := zap.Open("stderr")
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	if opts.Format == "json" {
		enc = zapcore.NewJSONEncoder(encoderConfig(opts))
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig(opts))
	}

	zopts := []zap.Option{
		zap.ErrorOutput(errSink),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if !opts.DisableCaller {
		zopts = append(zopts, zap.AddCaller(), zap.AddCallerSkip(opts.CallerSkip))
	}

	z := zap.New(zapcore.NewCore(enc, sink, level), zopts...)
	if opts.Name != "" {
		z = z.Named(opts.Name)
	}
	return z, nil
}

// NewLogger creates a Logger from opts. It panics when an output path
// cannot be opened.
func NewLogger(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}
	z, err := newZap(opts, zap.NewAtomicLevelAt(parseLevel(opts.Level)))
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return &zapLogger{z: z}
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func (l *zapLogger) Debug(msg string, keysAndValues ...any) {
	l.z.Debug(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...any) {
	l.z.Info(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...any) {
	l.z.Warn(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

func (l *zapLogger) WithName(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

func (l *zapLogger) WithValues(keysAndValues ...any) Logger {
	return &zapLogger{z: l.z.With(toFields(keysAndValues...)...)}
}

func (l *zapLogger) Logr() logr.Logger {
	return zapr.NewLogger(l.z)
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

// The process-wide logger. Components derive named children from it with
// WithName, so std must be initialised before they are constructed.
var (
	once  sync.Once
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	std   = NewNopLogger()
)

// Init replaces the process logger. Only the first call has an effect.
func Init(opts *Options) {
	once.Do(func() {
		if opts == nil {
			opts = NewOptions()
		}
		level.SetLevel(parseLevel(opts.Level))
		z, err := newZap(opts, level)
		if err != nil {
			panic(fmt.Sprintf("failed to build logger: %v", err))
		}
		std = &zapLogger{z: z}
	})
}

// SetLevel changes the level of the process logger and of every logger
// derived from it.
func SetLevel(s string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("invalid log level %q", s)
	}
	if level.Level() != lvl {
		std.Info("Changing log level", "from", level.Level().String(), "to", lvl.String())
		level.SetLevel(lvl)
	}
	return nil
}

func Std() Logger { return std }

func NewNopLogger() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func Debug(msg string, keysAndValues ...any)            { std.Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...any)             { std.Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...any)             { std.Warn(msg, keysAndValues...) }
func Error(err error, msg string, keysAndValues ...any) { std.Error(err, msg, keysAndValues...) }
func WithName(name string) Logger                       { return std.WithName(name) }
func WithValues(keysAndValues ...any) Logger            { return std.WithValues(keysAndValues...) }
func Logr() logr.Logger                                 { return std.Logr() }
func Sync() error                                       { return std.Sync() }

// VIN shortens a vehicle identification number to its last six characters.
func VIN(vin string) string {
	if len(vin) <= 6 {
		return vin
	}
	return vin[len(vin)-6:]
}
