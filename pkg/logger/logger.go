package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"brokerapi/pkg/errors"
)

var (
	mu     sync.RWMutex
	global *Logger
)

// Logger wraps zap.SugaredLogger with optional error tracking
type Logger struct {
	*zap.SugaredLogger
	errorTracker errors.Tracker
}

// Init builds the process-wide logger. Production env logs JSON, anything
// else uses the coloured development encoder.
func Init(level string, env string) error {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	z, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	var tracker errors.Tracker
	if global != nil {
		tracker = global.errorTracker
	}
	global = &Logger{SugaredLogger: z.Sugar(), errorTracker: tracker}
	return nil
}

// New wraps an existing zap logger.
func New(z *zap.Logger) *Logger {
	return &Logger{SugaredLogger: z.Sugar()}
}

// Nop returns a logger that discards everything. Library clients use it
// when no logger is configured.
func Nop() *Logger {
	return New(zap.NewNop())
}

// SetErrorTracker attaches tracker to the process-wide logger.
func SetErrorTracker(tracker errors.Tracker) {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = Nop()
	}
	global = global.WithErrorTracker(tracker)
}

// Get returns the process-wide logger, a no-op one until Init runs.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = Nop()
	}
	return global
}

// With creates a child logger with additional fields
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(args...),
		errorTracker:  l.errorTracker,
	}
}

// WithErrorTracker returns a copy that forwards errors to tracker.
func (l *Logger) WithErrorTracker(tracker errors.Tracker) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger,
		errorTracker:  tracker,
	}
}

// Error logs and forwards to the error tracker.
func (l *Logger) Error(args ...interface{}) {
	l.SugaredLogger.Error(args...)
	l.capture(context.Background(), errors.Wrapf(errors.ErrInternal, "%v", fmt.Sprint(args...)), nil)
}

// Errorf logs a formatted error and forwards it to the error tracker.
func (l *Logger) Errorf(template string, args ...interface{}) {
	l.SugaredLogger.Errorf(template, args...)
	l.capture(context.Background(), fmt.Errorf(template, args...), nil)
}

// ErrorWithContext logs err with tags and sends it to the error tracker.
func (l *Logger) ErrorWithContext(ctx context.Context, err error, tags map[string]string) {
	kv := make([]interface{}, 0, 2*len(tags)+2)
	for k, v := range tags {
		kv = append(kv, k, v)
	}
	kv = append(kv, "error", err)
	l.SugaredLogger.Errorw(err.Error(), kv...)
	l.capture(ctx, err, tags)
}

func (l *Logger) capture(ctx context.Context, err error, tags map[string]string) {
	if l.errorTracker == nil {
		return
	}
	if tags == nil {
		tags = map[string]string{"component": "logger"}
	}
	_ = l.errorTracker.CaptureError(ctx, err, tags)
}

// Sync flushes the process-wide logger.
func Sync() error {
	return Get().Sync()
}
