package sentry

import (
	"context"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"brokerapi/pkg/brokers"
	"brokerapi/pkg/errors"
)

const flushTimeout = 2 * time.Second

// Tracker implements error tracking via Sentry
type Tracker struct {
	hub *sentry.Hub
}

var _ errors.Tracker = (*Tracker)(nil)

// New creates a new Sentry tracker
func New(dsn string, environment string) (*Tracker, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init sentry")
	}

	return NewWithHub(sentry.CurrentHub()), nil
}

// NewWithHub wraps an existing hub (custom transports, tests).
func NewWithHub(hub *sentry.Hub) *Tracker {
	return &Tracker{hub: hub}
}

// CaptureError sends an error to Sentry. Broker errors are tagged with
// exchange, operation, kind and code so events group per failure mode.
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	hub := t.hub.Clone()

	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range brokerTags(err) {
			scope.SetTag(k, v)
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
	})

	hub.CaptureException(err)
	return nil
}

// CaptureMessage sends a message to Sentry
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	hub := t.hub.Clone()

	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		scope.SetLevel(convertLevel(level))
	})

	hub.CaptureMessage(message)
	return nil
}

// AddBreadcrumb records a step (request, command) leading up to a later event
func (t *Tracker) AddBreadcrumb(ctx context.Context, message string, category string, level errors.Level, data map[string]interface{}) {
	t.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Message:  message,
		Category: category,
		Level:    convertLevel(level),
		Data:     data,
	}, &sentry.BreadcrumbHint{})
}

// Flush waits for all pending events to be sent
func (t *Tracker) Flush(ctx context.Context) error {
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !t.hub.Flush(timeout) {
		return errors.New("sentry flush timed out")
	}
	return nil
}

func brokerTags(err error) map[string]string {
	var berr *brokers.Error
	if !errors.As(err, &berr) {
		return nil
	}

	tags := map[string]string{
		"exchange": berr.Exchange,
		"op":       berr.Op,
	}
	if berr.Kind != nil {
		tags["kind"] = berr.Kind.Error()
	}
	if berr.Code != 0 {
		tags["code"] = strconv.Itoa(berr.Code)
	}
	return tags
}

func convertLevel(level errors.Level) sentry.Level {
	switch level {
	case errors.LevelDebug:
		return sentry.LevelDebug
	case errors.LevelInfo:
		return sentry.LevelInfo
	case errors.LevelWarning:
		return sentry.LevelWarning
	case errors.LevelError:
		return sentry.LevelError
	case errors.LevelFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}
