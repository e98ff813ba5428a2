package backend

import (
	"errors"

	"github.com/gogpu/compute/gpucore"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or no registered backend could open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Backend name constants.
const (
	// BackendNative is the Pure Go WebGPU backend (gogpu/wgpu HAL).
	BackendNative = "native"
	// BackendRust is the wgpu-native backend (openfluke/webgpu, rust build tag).
	BackendRust = "rust"
	// BackendSoftware is the CPU reference device.
	BackendSoftware = "software"
)

// Factory opens a device. Factories for GPU backends fail when no
// suitable adapter is present.
type Factory func() (gpucore.Device, error)
