//go:build rust

package rust

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/gogpu/compute/gpucore"
)

type encoder struct {
	dev      *Device
	raw      *wgpu.CommandEncoder
	label    string
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
	raw := e.raw.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	return &computePass{enc: e, raw: raw, label: label}, nil
}

func (e *encoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) error {
	if err := e.recording(); err != nil {
		return err
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
	if err := s.checkRange(srcOffset, size); err != nil {
		return err
	}
	if err := t.checkRange(dstOffset, size); err != nil {
		return err
	}
	e.raw.CopyBufferToBuffer(s.raw, srcOffset, t.raw, dstOffset, size)
	return nil
}

func (e *encoder) Finish() (gpucore.CommandBuffer, error) {
	if err := e.recording(); err != nil {
		return nil, err
	}
	e.finished = true
	cb, err := e.raw.Finish(nil)
	e.raw.Release()
	if err != nil {
		return nil, fmt.Errorf("rust: finish %q: %w", e.label, err)
	}
	return &commandBuffer{dev: e.dev, raw: cb, label: e.label}, nil
}

// Discard releases an unfinished encoder.
func (e *encoder) Discard() {
	if e.finished {
		return
	}
	e.finished = true
	e.inPass = false
	e.raw.Release()
}

type computePass struct {
	enc   *encoder
	raw   *wgpu.ComputePassEncoder
	label string
	ended bool
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
	p.raw.SetPipeline(pl)
	return nil
}

func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) error {
	if err := p.open(); err != nil {
		return err
	}
	d := p.enc.dev
	d.mu.Lock()
	g, ok := d.groups[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: bind group %d", ErrUnknownResource, id)
	}
	p.raw.SetBindGroup(index, g, nil)
	return nil
}

func (p *computePass) Dispatch(x, y, z uint32) error {
	if err := p.open(); err != nil {
		return err
	}
	if err := p.enc.dev.limits.ValidateDispatch(x, y, z); err != nil {
		return err
	}
	p.raw.DispatchWorkgroups(x, y, z)
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

type commandBuffer struct {
	dev   *Device
	raw   *wgpu.CommandBuffer
	label string
}

func (c *commandBuffer) Label() string { return c.label }

// Discard releases a command buffer that was never submitted.
func (c *commandBuffer) Discard() {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if c.raw == nil {
		return
	}
	c.raw.Release()
	c.raw = nil
}
