package buffer

import (
	"log/slog"
	"time"

	"github.com/tuannm99/novabuf/internal/logging"
)

// MaxWait bounds how long Manager.Pin waits for a buffer before aborting.
const MaxWait = 10 * time.Second

const (
	DefaultCapacity         = 8
	DefaultFlushParallelism = 4
)

type options struct {
	maxWait          time.Duration
	logger           *slog.Logger
	flushParallelism int
}

type Option func(*options)

// WithMaxWait overrides MaxWait. Non-positive values are ignored.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFlushParallelism limits how many pages FlushAll writes concurrently.
func WithFlushParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.flushParallelism = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		maxWait:          MaxWait,
		logger:           logging.Noop(),
		flushParallelism: DefaultFlushParallelism,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
