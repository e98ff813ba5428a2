// Package backend selects the device a compute job runs on.
//
// Device implementations register a factory under a name from their init()
// functions, so importing a backend package is enough to make it available:
//
//	import (
//		_ "github.com/gogpu/compute/backend/native"   // gogpu/wgpu HAL, Vulkan
//		_ "github.com/gogpu/compute/backend/software" // CPU reference device
//	)
//
// # Backend Selection
//
// Use InitDefault() to open the best available device, or Open() to request
// a specific backend by name:
//
//	dev, err := backend.InitDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
//	dev, err = backend.Open(backend.BackendSoftware)
//
// # Available Backends
//
//   - "native": Pure Go WebGPU via gogpu/wgpu HAL (needs a Vulkan adapter)
//   - "rust": wgpu-native via openfluke/webgpu (build with -tags rust)
//   - "software": CPU reference device (always available)
//
// GPU factories fail when no adapter is present; InitDefault falls through
// to the next backend in priority order.
package backend
