package compute

import (
	"fmt"

	"github.com/gogpu/compute/internal/kernel"
)

// DoubleEntryPoint is the entry point of the kernel returned by DoubleKernel.
const DoubleEntryPoint = "computeSomething"

// doubleSource doubles every element of the input into the output.
// The workgroup size is substituted at pipeline construction.
const doubleSource = `@group(0) @binding(0) var<storage, read_write> inputResult: array<u32>;
@group(0) @binding(1) var<storage, read_write> outputResult: array<u32>;

@compute @workgroup_size({{.WorkgroupSize}})
fn computeSomething(@builtin(global_invocation_id) global_invocation_id: vec3<u32>) {
    outputResult[global_invocation_id.x] = inputResult[global_invocation_id.x] * 2u;
}
`

// KernelSpec describes a compute kernel. It is immutable once built.
//
// Source is WGSL. It may contain the template actions {{.WorkgroupSize}}
// (rendered as "x, y, z") or {{.X}}, {{.Y}}, {{.Z}}; they are replaced
// with WorkgroupSize before compilation. The kernel must read its input
// from @group(0) @binding(0) and write its output to @group(0) @binding(1),
// both storage buffers of u32.
type KernelSpec struct {
	// Source is the WGSL text.
	Source string

	// EntryPoint names the compute function.
	EntryPoint string

	// WorkgroupSize is the invocation grid of one workgroup. All > 0.
	WorkgroupSize [3]uint32

	// Label is an optional debug label attached to device objects.
	Label string
}

// DoubleKernel returns the element-doubling kernel with a 1D workgroup of
// the given size.
func DoubleKernel(workgroupSize uint32) KernelSpec {
	return KernelSpec{
		Source:        doubleSource,
		EntryPoint:    DoubleEntryPoint,
		WorkgroupSize: [3]uint32{workgroupSize, 1, 1},
		Label:         "double",
	}
}

// Validate checks that k is usable before anything is allocated.
func (k KernelSpec) Validate() error {
	if k.Source == "" {
		return fmt.Errorf("%w: empty kernel source", ErrInvalidJob)
	}
	if k.EntryPoint == "" {
		return fmt.Errorf("%w: empty entry point", ErrInvalidJob)
	}
	for i, n := range k.WorkgroupSize {
		if n == 0 {
			return fmt.Errorf("%w: workgroup size axis %d is zero", ErrInvalidJob, i)
		}
	}
	return nil
}

// Render returns Source with the workgroup size substituted.
func (k KernelSpec) Render() (string, error) {
	return kernel.Render(k.Source, k.WorkgroupSize)
}

// DispatchPlan is the number of workgroups launched along each axis.
// All counts must be > 0.
type DispatchPlan [3]uint32

// PlanFor returns the smallest 1D plan covering n elements with the given
// workgroup width.
func PlanFor(n int, workgroupSize uint32) DispatchPlan {
	if n <= 0 || workgroupSize == 0 {
		return DispatchPlan{1, 1, 1}
	}
	groups := (uint64(n) + uint64(workgroupSize) - 1) / uint64(workgroupSize)
	return DispatchPlan{uint32(groups), 1, 1}
}

// Validate checks that every axis launches at least one workgroup.
func (p DispatchPlan) Validate() error {
	for i, n := range p {
		if n == 0 {
			return fmt.Errorf("%w: dispatch axis %d is zero", ErrInvalidJob, i)
		}
	}
	return nil
}

// Coverage returns how many invocations the plan launches along axis 0,
// which is the axis carrying the data.
//
// A coverage smaller than the element count is not an error: the elements
// past it are never written and keep the output buffer's zero value.
func (p DispatchPlan) Coverage(workgroupSize [3]uint32) uint64 {
	return uint64(p[0]) * uint64(workgroupSize[0])
}
