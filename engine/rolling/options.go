package rolling

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hothotzd123/sensei/codec"
	"github.com/hothotzd123/sensei/internal/resource"
	"github.com/hothotzd123/sensei/version"
)

// Name is the flavor name of engines in this package.
const Name = "rolling"

// Frequency is the length of a bucket period.
type Frequency int

const (
	Minute Frequency = iota
	Hour
	Day
)

// ParseFrequency parses "minute", "hour" or "day".
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(s) {
	case "minute", "min":
		return Minute, nil
	case "hour", "":
		return Hour, nil
	case "day":
		return Day, nil
	default:
		return 0, fmt.Errorf("rolling: unknown frequency %q", s)
	}
}

func (f Frequency) String() string {
	switch f {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return fmt.Sprintf("Frequency(%d)", int(f))
	}
}

// Truncate returns the start of the period containing t, in UTC.
func (f Frequency) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch f {
	case Minute:
		return t.Truncate(time.Minute)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(time.Hour)
	}
}

// Shift moves the period start t by n periods.
func (f Frequency) Shift(t time.Time, n int) time.Time {
	switch f {
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	case Day:
		return t.AddDate(0, 0, n)
	default:
		return t.Add(time.Duration(n) * time.Hour)
	}
}

type options struct {
	logger        *slog.Logger
	ordering      version.Ordering
	codec         codec.Codec
	frequency     Frequency
	trimThreshold int
	trimInterval  time.Duration
	compression   Compression
	clock         func() time.Time
	resources     *resource.Controller
}

func defaultOptions() options {
	return options{
		ordering:      version.Default,
		codec:         codec.Default,
		frequency:     Hour,
		trimThreshold: 24,
		compression:   CompressionZstd,
		clock:         time.Now,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger.
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

// WithCodec sets the segment codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = codec.OrDefault(c)
	}
}

// WithFrequency sets the bucket period.
func WithFrequency(f Frequency) Option {
	return func(o *options) {
		o.frequency = f
	}
}

// WithTrimThreshold sets how many periods are retained.
func WithTrimThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.trimThreshold = n
		}
	}
}

// WithTrimInterval runs Trim every d while the engine is running, so that
// expired periods are dropped even when no bucket is sealed. Zero disables it.
func WithTrimInterval(d time.Duration) Option {
	return func(o *options) {
		o.trimInterval = max(d, 0)
	}
}

// WithCompression sets the compression used for newly sealed segments.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithClock sets the clock that assigns events to periods.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithResourceController bounds buffered bytes and concurrent seals.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}
