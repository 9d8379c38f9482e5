package server

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// Reporter forwards server-side failures to an error tracker.
type Reporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

// SentryReporter reports through the hub bound to the request, or the
// global hub when the request carries none.
type SentryReporter struct{}

func (SentryReporter) Report(ctx context.Context, err error, tags map[string]string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, error, map[string]string) {}
