// Package compute runs single-dispatch compute jobs over u32 arrays.
//
// # Overview
//
// A job uploads an input array to a device, dispatches one compute kernel
// over it, copies the kernel's output into a host-mappable buffer and
// returns the result. Every device object a job creates is owned by that
// job and released before Run returns, on success and on failure.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/compute"
//	    "github.com/gogpu/compute/backend"
//	    _ "github.com/gogpu/compute/backend/software"
//	)
//
//	dev, err := backend.InitDefault()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	input := compute.SuccessiveArray(8)
//	out, err := compute.Run(ctx, dev, input, compute.DoubleKernel(8), compute.PlanFor(len(input), 8))
//	// out = [2 4 6 8 10 12 14 16]
//
// The software device runs kernels as Go functions. It knows the doubling
// kernel already; other entry points need software.RegisterKernel:
//
//	software.RegisterKernel("square", software.ElementwiseU32(func(x uint32) uint32 { return x * x }))
//
// # Kernels
//
// A KernelSpec carries WGSL source, an entry point and a workgroup size.
// The source may use {{.WorkgroupSize}} where the workgroup size belongs;
// it is substituted and the result validated before the device sees it.
// Prepared kernels are cached per Runner (see WithKernelCache), so
// repeated jobs with the same kernel skip the WGSL front end.
// The kernel reads @group(0) @binding(0) and writes @group(0) @binding(1).
//
// # Dispatch
//
// A DispatchPlan is the number of workgroups along each axis. PlanFor
// returns the smallest 1D plan covering an input. A plan that covers fewer
// invocations than elements is allowed: the uncovered elements read back
// as zero and Stats.Covered reports how many were written.
//
// # Errors
//
// Failures are returned as *JobError. Use errors.Is with ErrDeviceUnavailable,
// ErrKernelCompile, ErrResourceExhausted, ErrMappingFailed or ErrInvalidJob
// to classify them.
//
// # Devices
//
// Devices implement gpucore.Device. Backends register themselves with the
// backend package; import the ones you want:
//
//	_ "github.com/gogpu/compute/backend/native"   // pure Go wgpu HAL (Vulkan)
//	_ "github.com/gogpu/compute/backend/rust"     // wgpu-native, needs -tags rust
//	_ "github.com/gogpu/compute/backend/software" // CPU reference device
package compute
