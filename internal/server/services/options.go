package services

import (
	"time"

	"github.com/dmitrijs2005/magiclink/internal/logging"
	"github.com/dmitrijs2005/magiclink/internal/server/metrics"
)

// Clock returns the current time. Services truncate it to microseconds in
// UTC so that in-memory and PostgreSQL timestamps compare equal.
type Clock func() time.Time

type options struct {
	clock   Clock
	metrics metrics.Recorder
	log     logging.Logger
}

// Option customizes MagicLinkService and Reaper.
type Option func(*options)

func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

func newOptions(opts []Option) options {
	o := options{clock: time.Now, metrics: metrics.Nop{}, log: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) now() time.Time {
	return o.clock().UTC().Truncate(time.Microsecond)
}
