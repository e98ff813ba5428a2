package software

import (
	"fmt"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/parallel"
)

// command is one recorded operation.
type command interface {
	run()
	touches() []*buffer
}

type dispatchCmd struct {
	pipeline *pipeline
	group    *bindGroup
	x, y, z  uint32
	pool     *parallel.Pool
}

func (c *dispatchCmd) touches() []*buffer {
	bufs := make([]*buffer, len(c.group.entries))
	for i, e := range c.group.entries {
		bufs[i] = e.buf
	}
	return bufs
}

// run executes every invocation of the dispatch. Without a pool the
// workgroups run in order; with one they are split into contiguous ranges
// of the linear workgroup index.
func (c *dispatchCmd) run() {
	b := &Bindings{slots: make(map[uint32]slot, len(c.group.entries))}
	for _, e := range c.group.entries {
		b.slots[e.binding] = slot{data: e.buf.data[e.offset : e.offset+e.size], readOnly: e.readOnly}
	}

	total := uint64(c.x) * uint64(c.y) * uint64(c.z)
	if c.pool == nil {
		c.workgroups(b, 0, total)
		return
	}
	// A kernel panic inside the pool comes back as an error; re-raise it
	// so the queue worker reports it like a serial one.
	if err := c.pool.Split(total, c.pool.Workers()*4, func(lo, hi uint64) {
		c.workgroups(b, lo, hi)
	}); err != nil {
		panic(err)
	}
}

// workgroups runs the workgroups with linear index in [lo, hi), x fastest.
func (c *dispatchCmd) workgroups(b *Bindings, lo, hi uint64) {
	wg := c.pipeline.workgroup
	k := c.pipeline.kernel
	var inv Invocation
	for i := lo; i < hi; i++ {
		gx := uint32(i % uint64(c.x))
		gy := uint32(i / uint64(c.x) % uint64(c.y))
		gz := uint32(i / (uint64(c.x) * uint64(c.y)))
		inv.WorkgroupID = [3]uint32{gx, gy, gz}
		for lz := uint32(0); lz < wg[2]; lz++ {
			for ly := uint32(0); ly < wg[1]; ly++ {
				for lx := uint32(0); lx < wg[0]; lx++ {
					inv.LocalID = [3]uint32{lx, ly, lz}
					inv.GlobalID = [3]uint32{gx*wg[0] + lx, gy*wg[1] + ly, gz*wg[2] + lz}
					k(inv, b)
				}
			}
		}
	}
}

type copyCmd struct {
	src, dst             *buffer
	srcOffset, dstOffset uint64
	size                 uint64
}

func (c *copyCmd) touches() []*buffer { return []*buffer{c.src, c.dst} }

func (c *copyCmd) run() {
	copy(c.dst.data[c.dstOffset:c.dstOffset+c.size], c.src.data[c.srcOffset:c.srcOffset+c.size])
}

// encoder records commands for a single command buffer.
type encoder struct {
	dev      *Device
	label    string
	cmds     []command
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
	return &computePass{enc: e, label: label}, nil
}

func (e *encoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) error {
	if err := e.recording(); err != nil {
		return err
	}
	if size%gpucore.U32Size != 0 || srcOffset%gpucore.U32Size != 0 || dstOffset%gpucore.U32Size != 0 {
		return fmt.Errorf("software: copy offsets and size must be multiples of 4")
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
		return fmt.Errorf("software: copy source and destination are the same buffer %q", s.label)
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

	e.cmds = append(e.cmds, &copyCmd{src: s, dst: t, srcOffset: srcOffset, dstOffset: dstOffset, size: size})
	return nil
}

func (e *encoder) Finish() (gpucore.CommandBuffer, error) {
	if err := e.recording(); err != nil {
		return nil, err
	}
	e.finished = true
	return &commandBuffer{dev: e.dev, label: e.label, cmds: e.cmds}, nil
}

// Discard drops the recorded commands. It is a no-op after Finish.
func (e *encoder) Discard() {
	if e.finished {
		return
	}
	e.finished = true
	e.inPass = false
	e.cmds = nil
}

// computePass records dispatches into its encoder.
type computePass struct {
	enc      *encoder
	label    string
	pipeline *pipeline
	group    *bindGroup
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
	defer d.mu.Unlock()
	pl, ok := d.pipelines[id]
	if !ok {
		return fmt.Errorf("%w: compute pipeline %d", ErrUnknownResource, id)
	}
	p.pipeline = pl
	return nil
}

func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) error {
	if err := p.open(); err != nil {
		return err
	}
	if index != 0 {
		return fmt.Errorf("%w: bind group index %d, only 0 is supported", ErrLayout, index)
	}
	d := p.enc.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return fmt.Errorf("%w: bind group %d", ErrUnknownResource, id)
	}
	p.group = g
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
	group := p.group
	if group == nil {
		if len(p.pipeline.bindings) > 0 {
			return fmt.Errorf("%w: dispatch without bind group 0", ErrLayout)
		}
		group = &bindGroup{pipeline: p.pipeline}
	}
	if group.pipeline != p.pipeline {
		return fmt.Errorf("%w: bind group %q was created for another pipeline", ErrLayout, group.label)
	}
	p.enc.cmds = append(p.enc.cmds, &dispatchCmd{pipeline: p.pipeline, group: group, x: x, y: y, z: z, pool: p.enc.dev.pool})
	return nil
}

func (p *computePass) End() error {
	if err := p.open(); err != nil {
		return err
	}
	p.ended = true
	p.enc.inPass = false
	return nil
}

// commandBuffer is a finished recording.
type commandBuffer struct {
	dev       *Device
	label     string
	cmds      []command
	submitted bool
	discarded bool
}

func (c *commandBuffer) Label() string { return c.label }

// Discard drops an unsubmitted command buffer. Once submitted, the
// queue owns it and Discard does nothing.
func (c *commandBuffer) Discard() {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if c.submitted {
		return
	}
	c.discarded = true
	c.cmds = nil
}

// checkBindings rejects recordings whose pipeline or bind group has been
// destroyed since they were recorded.
func (c *commandBuffer) checkBindings() error {
	for _, cmd := range c.cmds {
		dc, ok := cmd.(*dispatchCmd)
		if !ok {
			continue
		}
		if dc.pipeline.destroyed {
			return fmt.Errorf("%w: compute pipeline %q was destroyed", ErrUnknownResource, dc.pipeline.label)
		}
		if dc.group.destroyed {
			return fmt.Errorf("%w: bind group %q was destroyed", ErrUnknownResource, dc.group.label)
		}
	}
	return nil
}

// stamp marks every resource the recording uses as needed until w is done.
func (c *commandBuffer) stamp(w *work) {
	for _, cmd := range c.cmds {
		if dc, ok := cmd.(*dispatchCmd); ok {
			dc.pipeline.lastWork = w
			dc.group.lastWork = w
		}
		for _, b := range cmd.touches() {
			b.lastWork = w
		}
	}
}

func (c *commandBuffer) buffers() []*buffer {
	var bufs []*buffer
	for _, cmd := range c.cmds {
		bufs = append(bufs, cmd.touches()...)
	}
	return bufs
}

func (c *commandBuffer) execute() error {
	for _, cmd := range c.cmds {
		cmd.run()
	}
	return nil
}
