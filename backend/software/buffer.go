package software

import (
	"fmt"

	"github.com/gogpu/compute/gpucore"
)

// MapState is the mapping state of a buffer.
type MapState int

const (
	// MapStateUnmapped means the buffer is not mapped.
	MapStateUnmapped MapState = iota
	// MapStatePending means a MapRead is waiting for queued work.
	MapStatePending
	// MapStateMapped means the buffer is mapped for host reading.
	MapStateMapped
)

// String returns the string representation of MapState.
func (s MapState) String() string {
	switch s {
	case MapStateUnmapped:
		return "Unmapped"
	case MapStatePending:
		return "Pending"
	case MapStateMapped:
		return "Mapped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// buffer is host memory behind a BufferID. Fields other than data are
// guarded by Device.mu; data is written only by the queue worker.
type buffer struct {
	label string
	size  uint64
	usage gpucore.BufferUsage
	data  []byte

	state     MapState
	lastWork  *work
	destroyed bool
}

func newBuffer(desc *gpucore.BufferDesc) *buffer {
	return &buffer{
		label: desc.Label,
		size:  desc.Size,
		usage: desc.Usage,
		data:  make([]byte, desc.Size),
	}
}

func (b *buffer) checkRange(offset, size uint64) error {
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("%w: [%d, %d) in %q of %d bytes", ErrOutOfRange, offset, offset+size, b.label, b.size)
	}
	return nil
}

func (b *buffer) beginMap(offset, size uint64) error {
	if !b.usage.Has(gpucore.BufferUsageMapRead) {
		return fmt.Errorf("%w: map of %q needs MapRead, has %s", ErrUsage, b.label, b.usage)
	}
	if err := b.checkRange(offset, size); err != nil {
		return err
	}
	if b.state != MapStateUnmapped {
		return fmt.Errorf("%w: %q is %s", ErrBufferMapped, b.label, b.state)
	}
	b.state = MapStatePending
	return nil
}

func (b *buffer) abortMap() {
	if b.state == MapStatePending {
		b.state = MapStateUnmapped
	}
}

func (b *buffer) destroy() {
	b.state = MapStateUnmapped
	b.destroyed = true
}

// release drops the host memory of a destroyed buffer.
func (b *buffer) release() {
	b.data = nil
	b.lastWork = nil
}

// mappedRange is the host view handed out by MapRead.
type mappedRange struct {
	dev  *Device
	buf  *buffer
	data []byte
}

func (m *mappedRange) Bytes() []byte { return m.data }

func (m *mappedRange) Unmap() error {
	m.dev.mu.Lock()
	defer m.dev.mu.Unlock()
	if m.data == nil || m.buf.state != MapStateMapped {
		return fmt.Errorf("%w: %q", ErrNotMapped, m.buf.label)
	}
	m.buf.state = MapStateUnmapped
	m.data = nil
	return nil
}
