// Package rust runs compute jobs on wgpu-native, the Rust WebGPU
// implementation, through the openfluke/webgpu bindings.
//
// wgpu-native infers bind group layouts from the shader, compiles WGSL
// itself and picks Vulkan, Metal or DX12 for the platform. The device is
// opened with a high-performance adapter request, falling back to a
// low-power one.
//
// # Build Tags
//
// The package needs the "rust" build tag and the wgpu-native library:
//
//	go build -tags rust ./...
//
// Without the tag a stub registers a factory that fails with
// ErrNotCompiled, so backend.InitDefault moves on to the next backend.
//
// The library is looked up as wgpu_native.dll, libwgpu_native.so or
// libwgpu_native.dylib; releases are at
// https://github.com/gfx-rs/wgpu-native/releases.
package rust
