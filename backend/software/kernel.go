package software

import (
	"encoding/binary"
	"sync"

	"github.com/gogpu/compute/gpucore"
)

// Kernel is the Go body of a compute entry point. It runs once per
// invocation of a dispatch.
type Kernel func(inv Invocation, b *Bindings)

// Invocation identifies one kernel invocation, like the WGSL builtins of
// the same names.
type Invocation struct {
	GlobalID    [3]uint32
	LocalID     [3]uint32
	WorkgroupID [3]uint32
}

// Bindings gives a kernel access to the buffers bound at group 0.
//
// Accesses outside a binding's range are discarded on store and read as
// zero, matching robust buffer access on GPUs.
type Bindings struct {
	slots map[uint32]slot
}

type slot struct {
	data     []byte
	readOnly bool
}

// Len returns the number of u32 elements visible through binding.
func (b *Bindings) Len(binding uint32) uint32 {
	return uint32(len(b.slots[binding].data) / gpucore.U32Size)
}

// LoadU32 reads element index of binding.
func (b *Bindings) LoadU32(binding, index uint32) uint32 {
	s, ok := b.slots[binding]
	off := uint64(index) * gpucore.U32Size
	if !ok || off+gpucore.U32Size > uint64(len(s.data)) {
		return 0
	}
	return binary.LittleEndian.Uint32(s.data[off:])
}

// StoreU32 writes element index of binding. Stores to read-only bindings
// are discarded.
func (b *Bindings) StoreU32(binding, index, v uint32) {
	s, ok := b.slots[binding]
	off := uint64(index) * gpucore.U32Size
	if !ok || s.readOnly || off+gpucore.U32Size > uint64(len(s.data)) {
		return
	}
	binary.LittleEndian.PutUint32(s.data[off:], v)
}

// ElementwiseU32 returns a kernel computing out[i] = f(in[i]) with i the
// global x id, in at @binding(0) and out at @binding(1).
func ElementwiseU32(f func(uint32) uint32) Kernel {
	return func(inv Invocation, b *Bindings) {
		i := inv.GlobalID[0]
		b.StoreU32(1, i, f(b.LoadU32(0, i)))
	}
}

// DoubleEntryPoint is the entry point of the doubling kernel, which every
// Device runs without registration. It matches compute.DoubleEntryPoint.
const DoubleEntryPoint = "computeSomething"

// Double doubles each element, wrapping at 2^32.
var Double = ElementwiseU32(func(x uint32) uint32 { return x * 2 })

var (
	kernelsMu sync.RWMutex
	kernels   = map[string]Kernel{DoubleEntryPoint: Double}
)

// RegisterKernel makes k the default body for entry point name on every
// Device created afterwards.
func RegisterKernel(name string, k Kernel) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[name] = k
}

func registeredKernels() map[string]Kernel {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	m := make(map[string]Kernel, len(kernels))
	for name, k := range kernels {
		m[name] = k
	}
	return m
}
