package software

import (
	"log/slog"
	"time"

	"github.com/gogpu/compute/gpucore"
)

// Option configures a Device.
type Option func(*options)

type options struct {
	limits  gpucore.Limits
	kernels map[string]Kernel
	budget  uint64
	latency time.Duration
	workers int
	logger  *slog.Logger
}

// WithLimits overrides the device limits.
func WithLimits(l gpucore.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithKernel registers k for entry point name on this device only,
// taking precedence over RegisterKernel.
func WithKernel(name string, k Kernel) Option {
	return func(o *options) {
		o.kernels[name] = k
	}
}

// WithMemoryBudget caps the total bytes of live buffers. Zero means no cap.
func WithMemoryBudget(bytes uint64) Option {
	return func(o *options) {
		o.budget = bytes
	}
}

// WithLatency delays the execution of every submission by d, standing in
// for device execution time.
func WithLatency(d time.Duration) Option {
	return func(o *options) {
		o.latency = d
	}
}

// WithLogger sets the device logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithWorkers spreads the workgroups of each dispatch over n goroutines.
// The default of 1 runs them in order on the queue worker. Values below 1
// mean GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}
