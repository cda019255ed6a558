// Package sentryx wraps github.com/getsentry/sentry-go so the rest of the
// codebase can report errors without checking whether Sentry is configured.
package sentryx

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	initOnce sync.Once
	enabled  bool
)

// Init configures the global Sentry client from SENTRY_DSN. A missing DSN leaves
// Sentry disabled; every other function in this package becomes a no-op.
func Init(service, environment string) {
	initOnce.Do(func() {
		dsn := os.Getenv("SENTRY_DSN")
		if dsn == "" {
			return
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      environment,
			ServerName:       service,
			AttachStacktrace: true,
		}); err != nil {
			return
		}
		enabled = true
	})
}

func CaptureError(err error, message string, args ...any) {
	if !enabled || err == nil {
		return
	}
	msg := message
	if len(args) > 0 {
		msg = fmt.Sprintf(message, args...)
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		if msg != "" {
			scope.SetTag("log_message", msg)
		}
		sentry.CaptureException(err)
	})
}

func CaptureMessage(level sentry.Level, message string, args ...any) {
	if !enabled {
		return
	}
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		sentry.CaptureMessage(message)
	})
}

// RecoverAndReport reports a recovered panic value and re-panics, so a caller
// higher up (e.g. the HTTP panic-recovery middleware) still unwinds the request.
func RecoverAndReport() {
	if !enabled {
		return
	}
	if rec := recover(); rec != nil {
		sentry.CurrentHub().Recover(rec)
		sentry.Flush(2 * time.Second)
		panic(rec)
	}
}

func Flush(timeout time.Duration) {
	if !enabled {
		return
	}
	sentry.Flush(timeout)
}
