package gpucore

import "context"

// Device abstracts over the GPU implementations a compute job can run on.
//
// This interface is the narrow capability surface the runner depends on.
// Implementations exist for gogpu/wgpu HAL, openfluke/webgpu and a CPU
// reference device. Implementations must be safe for concurrent use.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods, which
//     report unknown or already destroyed IDs as errors
//   - Destroying a resource while queued work still uses it invalidates
//     the ID at once; the device frees it after that work completes
//   - IDs become invalid after destruction and must not be reused
type Device interface {
	// === Capabilities ===

	// Name identifies the implementation (e.g., "native", "software").
	Name() string

	// Limits reports what the device supports.
	Limits() Limits

	// === Shader Compilation ===

	// CreateShaderModule compiles a shader module.
	// Returns an error if the device rejects the source.
	CreateShaderModule(desc *ShaderModuleDesc) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID) error

	// CreateComputePipeline creates a compute pipeline whose bind group
	// layouts are inferred from the shader. It blocks until the pipeline
	// is ready or ctx is done.
	CreateComputePipeline(ctx context.Context, desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID) error

	// === Buffer Management ===

	// CreateBuffer creates a zero-initialized GPU buffer.
	// Returns an error if allocation fails.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID) error

	// WriteBuffer enqueues a host-to-device copy on the device queue.
	// The write is ordered before any later submission.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// MapRead maps a MapRead buffer for host reading. It blocks until all
	// previously submitted work touching the buffer has completed, or ctx
	// is done. The bytes are valid until the returned range is unmapped.
	MapRead(ctx context.Context, id BufferID, offset, size uint64) (MappedRange, error)

	// === Binding ===

	// CreateBindGroup binds buffers to one of the pipeline's inferred layouts.
	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID) error

	// === Command Recording and Execution ===

	// CreateCommandEncoder starts recording a command sequence.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit submits finished command buffers to the queue.
	// Submission order defines execution order.
	Submit(cmds ...CommandBuffer) error

	// Close releases the device. Devices borrowed from a host are not
	// destroyed.
	Close() error
}

// CommandEncoder records a command sequence.
//
// Usage:
//  1. Obtain encoder from Device.CreateCommandEncoder()
//  2. Begin a compute pass, record it, end it
//  3. Record copies
//  4. Call Finish() and submit the result
//
// The encoder is single-use and cannot be reused after Finish().
type CommandEncoder interface {
	// BeginComputePass begins a compute pass.
	// The pass must be ended before recording anything else.
	BeginComputePass(label string) (ComputePassEncoder, error)

	// CopyBufferToBuffer records a device-side copy.
	CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset, size uint64) error

	// Finish ends recording and returns a submittable command buffer.
	Finish() (CommandBuffer, error)

	// Discard abandons an unfinished recording and frees what it holds.
	// It does nothing after Finish.
	Discard()
}

// ComputePassEncoder records compute commands.
//
// The encoder is single-use and cannot be reused after End().
type ComputePassEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID) error

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID) error

	// Dispatch dispatches compute workgroups.
	// Total invocations = x * y * z * workgroup_size.
	Dispatch(x, y, z uint32) error

	// End finishes the compute pass.
	End() error
}

// CommandBuffer is a finished, submittable command sequence.
type CommandBuffer interface {
	// Label returns the debug label given to the encoder.
	Label() string

	// Discard frees a command buffer that will not be submitted. It does
	// nothing once the buffer has been submitted.
	Discard()
}

// MappedRange is host-visible memory of a mapped buffer.
type MappedRange interface {
	// Bytes returns the mapped bytes. The slice must not be retained
	// after Unmap.
	Bytes() []byte

	// Unmap releases the mapping.
	Unmap() error
}
