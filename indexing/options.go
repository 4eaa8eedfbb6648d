package indexing

import (
	"log/slog"
	"time"

	"github.com/hothotzd123/sensei/internal/resource"
	"github.com/hothotzd123/sensei/version"
)

type options struct {
	logger        *slog.Logger
	router        Router
	ordering      version.Ordering
	resources     *resource.Controller
	retryInitial  time.Duration
	retryMaxTotal time.Duration
}

func defaultOptions() options {
	return options{
		ordering:      version.Default,
		retryInitial:  100 * time.Millisecond,
		retryMaxTotal: 30 * time.Second,
	}
}

// Option configures a StreamManager.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRouter overrides the partition router. The default is a ModRouter over
// the highest bound partition id.
func WithRouter(r Router) Option {
	return func(o *options) {
		o.router = r
	}
}

// WithOrdering sets the ordering used to compute the resume offset.
func WithOrdering(ord version.Ordering) Option {
	return func(o *options) {
		if ord != nil {
			o.ordering = ord
		}
	}
}

// WithResourceController applies the node ingest rate limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithRetry configures exponential backoff for provider and engine errors.
// maxTotal bounds the time spent retrying one operation.
func WithRetry(initial, maxTotal time.Duration) Option {
	return func(o *options) {
		if initial > 0 {
			o.retryInitial = initial
		}
		if maxTotal > 0 {
			o.retryMaxTotal = maxTotal
		}
	}
}
