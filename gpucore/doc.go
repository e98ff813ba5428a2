// Package gpucore provides the GPU device boundary used by compute jobs.
//
// This package defines the [Device] interface, which abstracts over different
// GPU implementations, allowing the same job runner to work with:
//   - gogpu/wgpu (Pure Go WebGPU via HAL)
//   - openfluke/webgpu (wgpu-native, or the browser under GOOS=js)
//   - a CPU reference device used for tests and as a fallback
//
// # Architecture
//
//	               +-----------------+
//	               |     compute     |
//	               |      (Run)      |
//	               +--------+--------+
//	                        |
//	                  gpucore.Device
//	                        |
//	     +------------------+------------------+
//	     |                  |                  |
//	+----v-----+      +-----v-----+      +-----v------+
//	| hal      |      | webgpu    |      | software   |
//	| (wgpu)   |      | (native)  |      | (CPU)      |
//	+----------+      +-----------+      +------------+
//
// # Suspension Points
//
// Two operations may block: [Device.CreateComputePipeline] and
// [Device.MapRead]. Both take a context and return a result, so callers
// never observe pipeline or output state before the device is done.
//
// # Resource Model
//
// Resources are addressed by opaque IDs ([BufferID], [ShaderModuleID], ...).
// The zero ID ([InvalidID]) never names a live resource. Buffers carry a
// [BufferUsage] bitset, and devices reject operations the usage does not
// allow.
package gpucore
