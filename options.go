package sensei

import (
	"log/slog"
	"time"

	"github.com/hothotzd123/sensei/internal/resource"
	"github.com/hothotzd123/sensei/pruner"
)

// QueryBuilderFactory is an opaque handle consumed by the query layer. The
// Core stores and returns it without interpreting it.
type QueryBuilderFactory any

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	pruner           pruner.Pruner
	queryBuilders    QueryBuilderFactory
	pruneInterval    time.Duration
	resources        *resource.Controller
}

// Option configures a Core.
type Option func(*options)

// WithLogger configures structured logging for lifecycle operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := sensei.NewJSONLogger(slog.LevelInfo)
//	core, _ := sensei.New(1, partitions, f, m, sensei.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithIndexPruner sets the initial pruner. See Core.SetIndexPruner.
func WithIndexPruner(p pruner.Pruner) Option {
	return func(o *options) {
		o.pruner = p
	}
}

// WithQueryBuilderFactory sets the handle returned by Core.QueryBuilderFactory.
func WithQueryBuilderFactory(q QueryBuilderFactory) Option {
	return func(o *options) {
		o.queryBuilders = q
	}
}

// WithPruneInterval runs Prune periodically while the Core is started.
// A non-positive interval disables scheduled pruning.
func WithPruneInterval(d time.Duration) Option {
	return func(o *options) {
		o.pruneInterval = d
	}
}

// WithResourceController bounds concurrent prune passes by the background
// worker slots of rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}
