package native

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

type mapState uint8

const (
	mapIdle mapState = iota
	mapPending
	mapMapped
)

type buffer struct {
	raw   hal.Buffer
	label string
	size  uint64
	usage gpucore.BufferUsage
	state mapState

	// submission is the index of the last submission touching the buffer.
	submission uint64
	destroyed  bool
}

func (b *buffer) checkRange(offset, size uint64) error {
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("%w: [%d, %d) in buffer %q of %d bytes", ErrOutOfRange, offset, offset+size, b.label, b.size)
	}
	return nil
}

// CreateBuffer allocates a HAL buffer and clears it. Device memory is not
// zeroed on allocation, so every buffer is created with CopyDst and filled
// through the queue.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Size == 0 {
		return 0, fmt.Errorf("native: buffer %q has zero size", desc.Label)
	}
	if desc.Size > d.limits.MaxBufferSize {
		return 0, fmt.Errorf("%w: %q wants %d bytes, limit %d", gpucore.ErrBufferTooLarge, desc.Label, desc.Size, d.limits.MaxBufferSize)
	}

	d.mu.Lock()
	err := d.live()
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}

	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: convertBufferUsage(desc.Usage | gpucore.BufferUsageCopyDst),
	})
	if err != nil {
		return 0, fmt.Errorf("native: create buffer %q: %w", desc.Label, err)
	}
	if err := d.queue.WriteBuffer(raw, 0, make([]byte, desc.Size)); err != nil {
		d.device.DestroyBuffer(raw)
		return 0, fmt.Errorf("native: clear buffer %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{raw: raw, label: desc.Label, size: desc.Size, usage: desc.Usage}
	return id, nil
}

// releaseBuffer unmaps b and marks it destroyed. The HAL buffer is freed
// once the last submission touching it has completed. Callers hold d.mu.
func (d *Device) releaseBuffer(b *buffer) {
	if b.state == mapMapped {
		if err := d.device.UnmapBuffer(b.raw); err != nil {
			d.slogger().Warn("native: unmap on destroy failed", "buffer", b.label, "err", err)
		}
	}
	b.state = mapIdle
	b.destroyed = true
	d.retireLocked(b.submission, func() { d.device.DestroyBuffer(b.raw) })
}

// DestroyBuffer releases a buffer, unmapping it first if needed.
func (d *Device) DestroyBuffer(id gpucore.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	delete(d.buffers, id)
	d.releaseBuffer(b)
	return nil
}

// WriteBuffer writes data through the HAL queue. The write is ordered
// before every later submission.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	if offset%gpucore.U32Size != 0 || uint64(len(data))%gpucore.U32Size != 0 {
		return fmt.Errorf("native: write offset and size must be multiples of 4")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.live(); err != nil {
		return err
	}
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if !b.usage.Has(gpucore.BufferUsageCopyDst) {
		return fmt.Errorf("%w: write to %q needs CopyDst, has %s", ErrUsage, b.label, b.usage)
	}
	if b.state != mapIdle {
		return fmt.Errorf("%w: write to %q", ErrBufferMapped, b.label)
	}
	if err := b.checkRange(offset, uint64(len(data))); err != nil {
		return err
	}
	if err := d.queue.WriteBuffer(b.raw, offset, data); err != nil {
		return fmt.Errorf("native: write buffer %q: %w", b.label, err)
	}
	return nil
}

// MapRead waits for the last submission touching the buffer and maps the
// requested range. The returned bytes alias the mapping.
func (d *Device) MapRead(ctx context.Context, id gpucore.BufferID, offset, size uint64) (gpucore.MappedRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if err := d.live(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	b, ok := d.buffers[id]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if !b.usage.Has(gpucore.BufferUsageMapRead) {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: map %q needs MapRead, has %s", ErrUsage, b.label, b.usage)
	}
	if b.state != mapIdle {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: map %q", ErrBufferMapped, b.label)
	}
	if err := b.checkRange(offset, size); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	b.state = mapPending
	index := b.submission
	d.mu.Unlock()

	if err := d.waitSubmission(ctx, index); err != nil {
		d.abandonMap(b)
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.reclaimLocked()
	if b.destroyed {
		return nil, fmt.Errorf("%w: buffer %q destroyed while mapping", ErrUnknownResource, b.label)
	}
	m, err := d.device.MapBuffer(b.raw, offset, size)
	if err != nil {
		b.state = mapIdle
		return nil, fmt.Errorf("native: map buffer %q: %w", b.label, err)
	}
	b.state = mapMapped

	var data []byte
	if size > 0 {
		data = unsafe.Slice((*byte)(m.Ptr), size)
	}
	return &mappedRange{dev: d, buf: b, data: data}, nil
}

func (d *Device) abandonMap(b *buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.state == mapPending {
		b.state = mapIdle
	}
}

type mappedRange struct {
	dev  *Device
	buf  *buffer
	data []byte
}

func (m *mappedRange) Bytes() []byte { return m.data }

func (m *mappedRange) Unmap() error {
	d := m.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.buf.state != mapMapped || m.buf.destroyed {
		return fmt.Errorf("%w: %q", ErrNotMapped, m.buf.label)
	}
	m.data = nil
	m.buf.state = mapIdle
	if err := d.device.UnmapBuffer(m.buf.raw); err != nil {
		return fmt.Errorf("native: unmap buffer %q: %w", m.buf.label, err)
	}
	return nil
}
