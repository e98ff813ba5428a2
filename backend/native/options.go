package native

import (
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/compute/gpucore"
)

// defaultPollInterval is how often MapRead polls the queue for completion.
const defaultPollInterval = time.Millisecond

// Option configures a Device.
type Option func(*options)

type options struct {
	variant gputypes.Backend
	limits  *gpucore.Limits
	poll    time.Duration
	logger  *slog.Logger
}

func newOptions(opts []Option) *options {
	o := &options{
		variant: gputypes.BackendVulkan,
		poll:    defaultPollInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithBackend selects the HAL backend Open looks up.
func WithBackend(b gputypes.Backend) Option {
	return func(o *options) {
		o.variant = b
	}
}

// WithLimits overrides the limits the device reports and enforces.
func WithLimits(l gpucore.Limits) Option {
	return func(o *options) {
		o.limits = &l
	}
}

// WithPollInterval sets how often MapRead polls for completed submissions.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithLogger sets the device logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
