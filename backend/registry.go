package backend

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/gogpu/compute/gpucore"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first device that opens wins).
	// HAL > WebGPU > Software (Software is the fallback).
	backendPriority = []string{BackendNative, BackendRust, BackendSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens a device from the named backend.
func Open(name string) (gpucore.Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrBackendNotAvailable, name)
	}
	dev, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	return dev, nil
}

// Get returns a device from the named backend, or nil if it is not
// registered or fails to open.
func Get(name string) gpucore.Device {
	dev, err := Open(name)
	if err != nil {
		return nil
	}
	return dev
}

// Default returns a device from the best available backend.
// Returns nil if no backend could open a device.
func Default() gpucore.Device {
	dev, _ := InitDefault()
	return dev
}

// MustDefault returns the default device or panics.
func MustDefault() gpucore.Device {
	d := Default()
	if d == nil {
		panic("backend: no backend available")
	}
	return d
}

// InitDefault opens the first backend that succeeds, in priority order,
// then any other registered backend. If none succeeds the error wraps
// ErrBackendNotAvailable together with every backend's failure.
func InitDefault() (gpucore.Device, error) {
	var errs error
	tried := make(map[string]bool)

	order := append([]string(nil), backendPriority...)
	order = append(order, Available()...)
	for _, name := range order {
		if tried[name] || !IsRegistered(name) {
			continue
		}
		tried[name] = true
		dev, err := Open(name)
		if err == nil {
			return dev, nil
		}
		errs = multierr.Append(errs, err)
	}

	if errs == nil {
		return nil, ErrBackendNotAvailable
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, errs)
}
