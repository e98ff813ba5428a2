package software

import (
	"testing"
)

func TestBindingsRobustAccess(t *testing.T) {
	b := &Bindings{slots: map[uint32]slot{
		0: {data: u32Bytes(7, 8), readOnly: true},
		1: {data: make([]byte, 8)},
	}}

	if got := b.Len(0); got != 2 {
		t.Errorf("Len(0) = %d, want 2", got)
	}
	if got := b.LoadU32(0, 1); got != 8 {
		t.Errorf("LoadU32(0, 1) = %d, want 8", got)
	}
	if got := b.LoadU32(0, 2); got != 0 {
		t.Errorf("LoadU32 past end = %d, want 0", got)
	}
	if got := b.LoadU32(3, 0); got != 0 {
		t.Errorf("LoadU32 of unbound slot = %d, want 0", got)
	}

	b.StoreU32(1, 5, 99) // out of range, discarded
	b.StoreU32(0, 0, 99) // read-only, discarded
	b.StoreU32(1, 1, 42)

	if got := b.LoadU32(0, 0); got != 7 {
		t.Errorf("read-only slot changed to %d", got)
	}
	if got := bytesU32(b.slots[1].data); got[0] != 0 || got[1] != 42 {
		t.Errorf("output slot = %v, want [0 42]", got)
	}
}

func TestElementwiseU32(t *testing.T) {
	b := &Bindings{slots: map[uint32]slot{
		0: {data: u32Bytes(1, 2, 3)},
		1: {data: make([]byte, 12)},
	}}
	k := ElementwiseU32(double)
	for i := uint32(0); i < 4; i++ {
		k(Invocation{GlobalID: [3]uint32{i, 0, 0}}, b)
	}
	got := bytesU32(b.slots[1].data)
	if got[0] != 2 || got[1] != 4 || got[2] != 6 {
		t.Errorf("ElementwiseU32(double) = %v, want [2 4 6]", got)
	}
}

func TestRegisterKernel(t *testing.T) {
	RegisterKernel("registered_for_test", ElementwiseU32(double))
	t.Cleanup(func() {
		kernelsMu.Lock()
		delete(kernels, "registered_for_test")
		kernelsMu.Unlock()
	})

	d := New()
	defer d.Close()
	if _, ok := d.kernels["registered_for_test"]; !ok {
		t.Error("New() did not pick up a kernel registered with RegisterKernel")
	}
}
