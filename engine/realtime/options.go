package realtime

import (
	"log/slog"
	"time"

	"github.com/hothotzd123/sensei/codec"
	"github.com/hothotzd123/sensei/version"
)

// Name is the flavor name of engines in this package.
const Name = "realtime"

type options struct {
	logger         *slog.Logger
	ordering       version.Ordering
	codec          codec.Codec
	inMemory       bool
	syncWrites     bool
	gcInterval     time.Duration
	gcDiscardRatio float64
	txnBatch       int
	clock          func() time.Time
}

func defaultOptions() options {
	return options{
		ordering:       version.Default,
		codec:          codec.Default,
		gcInterval:     5 * time.Minute,
		gcDiscardRatio: 0.5,
		txnBatch:       512,
		clock:          time.Now,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger. Badger's internal logging is routed to it at
// debug level and above.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithOrdering sets the version ordering.
func WithOrdering(ord version.Ordering) Option {
	return func(o *options) {
		if ord != nil {
			o.ordering = ord
		}
	}
}

// WithCodec sets the document codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = codec.OrDefault(c)
	}
}

// WithInMemory keeps all data in memory. The directory is ignored and data
// does not survive Shutdown.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithSyncWrites fsyncs every commit.
func WithSyncWrites(enabled bool) Option {
	return func(o *options) {
		o.syncWrites = enabled
	}
}

// WithGC configures value-log garbage collection. A non-positive interval
// disables it.
func WithGC(interval time.Duration, discardRatio float64) Option {
	return func(o *options) {
		o.gcInterval = interval
		if discardRatio > 0 && discardRatio < 1 {
			o.gcDiscardRatio = discardRatio
		}
	}
}

// WithTxnBatchSize bounds the number of events applied per transaction.
func WithTxnBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.txnBatch = n
		}
	}
}

// WithClock sets the clock used to stamp documents at indexing time.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}
