package compute

import (
	"log/slog"

	"github.com/gogpu/compute/internal/kernel"
)

// Option configures a Runner.
//
// Example:
//
//	r := compute.NewRunner(
//	    compute.WithLogger(slog.Default()),
//	    compute.WithLabel("batch-7"),
//	)
type Option func(*runnerOptions)

type runnerOptions struct {
	logger  *slog.Logger
	label   string
	cache   *kernel.Cache
	noCache bool
}

// WithLogger makes the Runner log to l instead of the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *runnerOptions) {
		o.logger = l
	}
}

// WithLabel prefixes the debug labels of every device object the Runner
// creates. Labels never affect results.
func WithLabel(label string) Option {
	return func(o *runnerOptions) {
		o.label = label
	}
}

// WithKernelCache gives the Runner its own cache of prepared kernels
// holding about size entries. Runners share one package-wide cache by
// default. A size of 0 or less disables caching.
func WithKernelCache(size int) Option {
	return func(o *runnerOptions) {
		if size <= 0 {
			o.cache = nil
			o.noCache = true
			return
		}
		o.cache = kernel.NewCache(size)
		o.noCache = false
	}
}
