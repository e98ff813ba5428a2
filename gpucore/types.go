package gpucore

import "fmt"

// Devices hand out IDs instead of backend objects and keep the mapping to
// the real resources themselves. IDs are never reused by a device.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// InvalidID is never issued; it marks "no resource".
const InvalidID = 0

// BufferUsage is the set of operations a buffer may take part in. Bit
// values match WebGPU's GPUBufferUsage.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead allows MapRead. It may only be combined with CopyDst.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite is accepted but no device maps for writing.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc allows the buffer as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst allows copies and queue writes into the buffer.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform allows var<uniform> bindings.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage allows var<storage> bindings.
	BufferUsageStorage BufferUsage = 1 << 7
)

// Has reports whether every flag in f is set in u.
func (u BufferUsage) Has(f BufferUsage) bool {
	return u&f == f
}

// String returns a "|"-joined list of the set flags.
func (u BufferUsage) String() string {
	if u == 0 {
		return "None"
	}
	names := []struct {
		flag BufferUsage
		name string
	}{
		{BufferUsageMapRead, "MapRead"},
		{BufferUsageMapWrite, "MapWrite"},
		{BufferUsageCopySrc, "CopySrc"},
		{BufferUsageCopyDst, "CopyDst"},
		{BufferUsageUniform, "Uniform"},
		{BufferUsageStorage, "Storage"},
	}
	s := ""
	for _, n := range names {
		if u&n.flag != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
			u &^= n.flag
		}
	}
	if u != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("0x%x", uint32(u))
	}
	return s
}

// BindingType specifies the type of a shader binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniformBuffer is a uniform buffer binding.
	BindingTypeUniformBuffer BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeReadOnlyStorageBuffer is a read-only storage buffer binding.
	BindingTypeReadOnlyStorageBuffer
)

// String returns the string representation of BindingType.
func (t BindingType) String() string {
	switch t {
	case BindingTypeUniformBuffer:
		return "Uniform"
	case BindingTypeStorageBuffer:
		return "Storage"
	case BindingTypeReadOnlyStorageBuffer:
		return "ReadOnlyStorage"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Binding describes one resource slot a kernel declares.
// Bindings are reflected from the shader source, which is how devices
// without native automatic layout build their bind group layouts.
type Binding struct {
	// Name is the WGSL variable name.
	Name string

	// Group is the @group index.
	Group uint32

	// Binding is the @binding index.
	Binding uint32

	// Type is the kind of buffer binding.
	Type BindingType
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage BufferUsage
}

// ShaderModuleDesc describes a shader module.
type ShaderModuleDesc struct {
	// Label is an optional debug label.
	Label string

	// WGSL is the shader source text.
	WGSL string

	// SPIRV is the precompiled form of WGSL, if the caller has one.
	// Devices that consume SPIR-V use it instead of compiling WGSL again.
	SPIRV []uint32
}

// ComputePipelineDesc describes a compute pipeline with an automatically
// inferred layout.
type ComputePipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// ShaderModule contains the compute shader.
	ShaderModule ShaderModuleID

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string

	// WorkgroupSize is the entry point's declared @workgroup_size.
	WorkgroupSize [3]uint32

	// Bindings lists the resources the entry point uses. Devices that infer
	// layouts natively may ignore it.
	Bindings []Binding
}

// BindGroupEntry describes a single binding in a bind group.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind.
	Buffer BufferID

	// Offset is the offset into the buffer.
	Offset uint64

	// Size is the size of the buffer range to bind.
	// Use 0 to bind the entire buffer from offset.
	Size uint64
}

// BindGroupDesc describes a bind group against a pipeline's inferred layout.
type BindGroupDesc struct {
	// Label is an optional debug label.
	Label string

	// Pipeline owns the inferred layout.
	Pipeline ComputePipelineID

	// Group is the layout index inside the pipeline.
	Group uint32

	// Entries are the resource bindings.
	Entries []BindGroupEntry
}

// U32Size is the byte size of one u32 element.
const U32Size = 4
