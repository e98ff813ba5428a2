package native

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

// encoder wraps a HAL command encoder that is recording.
type encoder struct {
	dev      *Device
	raw      hal.CommandEncoder
	label    string
	buffers  []*buffer
	pipes    []*pipeline
	groups   []*bindGroup
	inPass   bool
	finished bool
}

func (e *encoder) recording() error {
	if e.finished {
		return fmt.Errorf("%w: encoder %q is finished", ErrEncoderState, e.label)
	}
	if e.inPass {
		return fmt.Errorf("%w: encoder %q has an open compute pass", ErrEncoderState, e.label)
	}
	return nil
}

func (e *encoder) BeginComputePass(label string) (gpucore.ComputePassEncoder, error) {
	if err := e.recording(); err != nil {
		return nil, err
	}
	e.inPass = true
	raw := e.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	return &computePass{enc: e, raw: raw, label: label}, nil
}

func (e *encoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) error {
	if err := e.recording(); err != nil {
		return err
	}
	if size%gpucore.U32Size != 0 || srcOffset%gpucore.U32Size != 0 || dstOffset%gpucore.U32Size != 0 {
		return fmt.Errorf("native: copy offsets and size must be multiples of 4")
	}

	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.buffers[src]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, src)
	}
	t, ok := d.buffers[dst]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, dst)
	}
	if s == t {
		return fmt.Errorf("native: copy source and destination are the same buffer %q", s.label)
	}
	if !s.usage.Has(gpucore.BufferUsageCopySrc) {
		return fmt.Errorf("%w: copy from %q needs CopySrc, has %s", ErrUsage, s.label, s.usage)
	}
	if !t.usage.Has(gpucore.BufferUsageCopyDst) {
		return fmt.Errorf("%w: copy to %q needs CopyDst, has %s", ErrUsage, t.label, t.usage)
	}
	if err := s.checkRange(srcOffset, size); err != nil {
		return err
	}
	if err := t.checkRange(dstOffset, size); err != nil {
		return err
	}

	e.raw.CopyBufferToBuffer(s.raw, t.raw, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
	e.buffers = append(e.buffers, s, t)
	return nil
}

func (e *encoder) Finish() (gpucore.CommandBuffer, error) {
	if err := e.recording(); err != nil {
		return nil, err
	}
	e.finished = true
	raw, err := e.raw.EndEncoding()
	if err != nil {
		e.raw.DiscardEncoding()
		return nil, fmt.Errorf("native: end encoding %q: %w", e.label, err)
	}
	return &commandBuffer{
		dev:       e.dev,
		raw:       raw,
		label:     e.label,
		buffers:   e.buffers,
		pipelines: e.pipes,
		groups:    e.groups,
	}, nil
}

// Discard abandons the recording and returns its HAL resources. It does
// nothing after Finish.
func (e *encoder) Discard() {
	if e.finished {
		return
	}
	e.finished = true
	e.inPass = false
	e.raw.DiscardEncoding()
}

// computePass forwards to a HAL compute pass, checking what the HAL
// leaves unchecked.
type computePass struct {
	enc      *encoder
	raw      hal.ComputePassEncoder
	label    string
	pipeline *pipeline
	groups   [maxBindGroups]*bindGroup
	ended    bool
}

func (p *computePass) open() error {
	if p.ended {
		return fmt.Errorf("%w: compute pass %q has ended", ErrEncoderState, p.label)
	}
	return nil
}

func (p *computePass) SetPipeline(id gpucore.ComputePipelineID) error {
	if err := p.open(); err != nil {
		return err
	}
	d := p.enc.dev
	d.mu.Lock()
	pl, ok := d.pipelines[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: compute pipeline %d", ErrUnknownResource, id)
	}
	p.pipeline = pl
	p.enc.pipes = append(p.enc.pipes, pl)
	p.raw.SetPipeline(pl.raw)
	return nil
}

func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) error {
	if err := p.open(); err != nil {
		return err
	}
	if index >= maxBindGroups {
		return fmt.Errorf("%w: bind group index %d", ErrLayout, index)
	}
	d := p.enc.dev
	d.mu.Lock()
	g, ok := d.groups[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: bind group %d", ErrUnknownResource, id)
	}
	p.groups[index] = g
	p.raw.SetBindGroup(index, g.raw, nil)
	p.enc.buffers = append(p.enc.buffers, g.buffers...)
	p.enc.groups = append(p.enc.groups, g)
	return nil
}

func (p *computePass) Dispatch(x, y, z uint32) error {
	if err := p.open(); err != nil {
		return err
	}
	if p.pipeline == nil {
		return fmt.Errorf("%w: dispatch without a pipeline", ErrEncoderState)
	}
	if err := p.enc.dev.limits.ValidateDispatch(x, y, z); err != nil {
		return err
	}
	for i := range p.pipeline.groupLayouts {
		g := p.groups[i]
		if g == nil {
			return fmt.Errorf("%w: dispatch without bind group %d", ErrLayout, i)
		}
		if g.pipeline != p.pipeline {
			return fmt.Errorf("%w: bind group %q was created for another pipeline", ErrLayout, g.label)
		}
	}
	p.raw.Dispatch(x, y, z)
	return nil
}

func (p *computePass) End() error {
	if err := p.open(); err != nil {
		return err
	}
	p.ended = true
	p.enc.inPass = false
	p.raw.End()
	return nil
}

// commandBuffer is a finished HAL command buffer and the resources it uses.
type commandBuffer struct {
	dev       *Device
	raw       hal.CommandBuffer
	label     string
	buffers   []*buffer
	pipelines []*pipeline
	groups    []*bindGroup
	submitted bool
}

func (c *commandBuffer) Label() string { return c.label }

// Discard frees an unsubmitted command buffer. A submitted one belongs to
// the device until its submission completes.
func (c *commandBuffer) Discard() {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.submitted || c.raw == nil {
		return
	}
	if !d.closed {
		d.device.FreeCommandBuffer(c.raw)
	}
	c.raw = nil
}
