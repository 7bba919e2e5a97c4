// Package telemetry forwards internal failures to Sentry when a DSN is configured.
package telemetry

import (
	"sync/atomic"
	"time"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
	"github.com/Brownie44l1/xray-api/internal/logger"

	"github.com/getsentry/sentry-go"
)

type Config struct {
	DSN         string
	Environment string
	Release     string
}

var enabled atomic.Bool

// Init configures the Sentry client. An empty DSN leaves reporting disabled.
func Init(cfg Config) error {
	if cfg.DSN == "" {
		logger.Debug("Sentry DSN not set, error reporting disabled")
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		AttachStacktrace: true,
	})
	if err != nil {
		return err
	}
	enabled.Store(true)
	logger.WithField("environment", cfg.Environment).Info("Sentry error reporting enabled")
	return nil
}

// Enabled reports whether errors are being forwarded.
func Enabled() bool {
	return enabled.Load()
}

// CaptureError reports err if its kind is internal. Caller errors such as bad
// uploads are not reported.
func CaptureError(err error, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}
	kind := apperrors.KindOf(err)
	if !kind.Internal() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("kind", string(kind))
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered.
func Flush(timeout time.Duration) {
	if enabled.Load() {
		sentry.Flush(timeout)
	}
}
