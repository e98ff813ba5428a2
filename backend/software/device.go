// Package software provides a CPU implementation of gpucore.Device.
//
// The device keeps buffers in host memory and runs compute entry points as
// Go functions registered by name (see Kernel and RegisterKernel). It
// follows the GPU model closely enough to serve as the reference device in
// tests: buffer usage is enforced, buffers start zeroed, queue writes and
// submissions execute in order on a worker goroutine, and MapRead only
// returns once that work has finished.
//
// WithWorkers spreads the workgroups of one dispatch over several
// goroutines. Submissions still complete one at a time.
package software

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/parallel"
)

// Name is the device name reported by Device.Name.
const Name = backend.BackendSoftware

// queueDepth bounds the work queue before producers block.
const queueDepth = 64

func init() {
	backend.Register(backend.BackendSoftware, func() (gpucore.Device, error) {
		return New(), nil
	})
}

// Device is a CPU gpucore.Device. It is safe for concurrent use.
type Device struct {
	mu     sync.Mutex
	limits gpucore.Limits
	budget uint64
	logger atomic.Pointer[slog.Logger]

	kernels map[string]Kernel

	// ID generation
	nextID atomic.Uint64

	buffers   map[gpucore.BufferID]*buffer
	modules   map[gpucore.ShaderModuleID]*shaderModule
	pipelines map[gpucore.ComputePipelineID]*pipeline
	groups    map[gpucore.BindGroupID]*bindGroup

	bytesInUse     uint64
	buffersCreated uint64

	queue      chan *work
	workerDone chan struct{}
	retiring   sync.WaitGroup
	retired    int
	latency    time.Duration
	pool       *parallel.Pool // nil runs dispatches serially
	closed     bool
}

type shaderModule struct {
	label string
	wgsl  string
}

type pipeline struct {
	label     string
	kernel    Kernel
	workgroup [3]uint32
	bindings  map[uint32]gpucore.Binding

	lastWork  *work
	destroyed bool
}

type bindGroup struct {
	label    string
	pipeline *pipeline
	entries  []boundBuffer

	lastWork  *work
	destroyed bool
}

type boundBuffer struct {
	binding  uint32
	buf      *buffer
	offset   uint64
	size     uint64
	readOnly bool
}

// Counts reports live resources and allocation totals.
type Counts struct {
	Buffers       int
	ShaderModules int
	Pipelines     int
	BindGroups    int

	// BytesInUse is the total size of live buffers.
	BytesInUse uint64

	// BuffersCreated counts every successful CreateBuffer.
	BuffersCreated uint64

	// Retired counts destroyed resources still waiting for queued work
	// that uses them.
	Retired int
}

var _ gpucore.Device = (*Device)(nil)

// New creates a device and starts its queue worker. Kernels registered
// with RegisterKernel are available, overridden by WithKernel.
func New(opts ...Option) *Device {
	o := options{
		limits:  gpucore.DefaultLimits(),
		kernels: registeredKernels(),
		workers: 1,
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{
		limits:     o.limits,
		budget:     o.budget,
		kernels:    o.kernels,
		buffers:    make(map[gpucore.BufferID]*buffer),
		modules:    make(map[gpucore.ShaderModuleID]*shaderModule),
		pipelines:  make(map[gpucore.ComputePipelineID]*pipeline),
		groups:     make(map[gpucore.BindGroupID]*bindGroup),
		queue:      make(chan *work, queueDepth),
		workerDone: make(chan struct{}),
		latency:    o.latency,
	}
	d.SetLogger(o.logger)
	if o.workers != 1 {
		d.pool = parallel.NewPool(o.workers)
	}

	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)

	go d.worker()
	return d
}

// newID generates a unique resource ID.
func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// === Capabilities ===

// Name returns "software".
func (d *Device) Name() string { return Name }

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// Counts returns a snapshot of resource counters.
func (d *Device) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Counts{
		Buffers:        len(d.buffers),
		ShaderModules:  len(d.modules),
		Pipelines:      len(d.pipelines),
		BindGroups:     len(d.groups),
		BytesInUse:     d.bytesInUse,
		BuffersCreated: d.buffersCreated,
		Retired:        d.retired,
	}
}

// === Shader Compilation ===

// CreateShaderModule stores the shader source. Entry points are resolved
// against registered kernels at pipeline creation.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc.WGSL == "" && len(desc.SPIRV) == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: shader module %q has no source", desc.Label)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	id := gpucore.ShaderModuleID(d.newID())
	d.modules[id] = &shaderModule{label: desc.Label, wgsl: desc.WGSL}
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.modules[id]; !ok {
		return fmt.Errorf("%w: shader module %d", ErrUnknownResource, id)
	}
	delete(d.modules, id)
	return nil
}

// CreateComputePipeline binds the entry point to its registered kernel.
func (d *Device) CreateComputePipeline(ctx context.Context, desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if err := ctx.Err(); err != nil {
		return gpucore.InvalidID, err
	}
	for i, n := range desc.WorkgroupSize {
		if n == 0 {
			return gpucore.InvalidID, fmt.Errorf("software: workgroup size axis %d is zero", i)
		}
	}
	if err := d.limits.ValidateWorkgroupSize(desc.WorkgroupSize); err != nil {
		return gpucore.InvalidID, err
	}

	bindings := make(map[uint32]gpucore.Binding, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if b.Group != 0 {
			return gpucore.InvalidID, fmt.Errorf("%w: %s uses group %d, only group 0 is supported", ErrLayout, b.Name, b.Group)
		}
		bindings[b.Binding] = b
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	if _, ok := d.modules[desc.ShaderModule]; !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: shader module %d", ErrUnknownResource, desc.ShaderModule)
	}
	k, ok := d.kernels[desc.EntryPoint]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: %q", ErrNoKernel, desc.EntryPoint)
	}

	id := gpucore.ComputePipelineID(d.newID())
	d.pipelines[id] = &pipeline{
		label:     desc.Label,
		kernel:    k,
		workgroup: desc.WorkgroupSize,
		bindings:  bindings,
	}
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline. The ID is invalid
// at once; submissions already queued still run with it.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pipelines[id]
	if !ok {
		return fmt.Errorf("%w: compute pipeline %d", ErrUnknownResource, id)
	}
	delete(d.pipelines, id)
	p.destroyed = true
	d.retireLocked(p.lastWork, func() { p.lastWork = nil })
	return nil
}

// === Buffer Management ===

// CreateBuffer allocates a zeroed host buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: buffer %q has zero size", desc.Label)
	}
	if desc.Usage.Has(gpucore.BufferUsageMapRead) && desc.Usage&^(gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst) != 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: MapRead combines only with CopyDst, got %s", ErrUsage, desc.Usage)
	}
	if d.limits.MaxBufferSize != 0 && desc.Size > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("%w: %d > %d bytes", gpucore.ErrBufferTooLarge, desc.Size, d.limits.MaxBufferSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	if d.budget != 0 && d.bytesInUse+desc.Size > d.budget {
		return gpucore.InvalidID, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrOutOfMemory, desc.Size, d.bytesInUse, d.budget)
	}

	id := gpucore.BufferID(d.newID())
	d.buffers[id] = newBuffer(desc)
	d.bytesInUse += desc.Size
	d.buffersCreated++

	d.slogger().Debug("software: buffer created",
		"label", desc.Label, "size", desc.Size, "usage", desc.Usage.String())
	return id, nil
}

// DestroyBuffer releases a buffer. A mapped buffer is unmapped first.
// The ID is invalid at once, but the memory stays allocated, and counts
// against the budget, until queued work using the buffer has completed.
func (d *Device) DestroyBuffer(id gpucore.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	delete(d.buffers, id)
	b.destroy()
	d.retireLocked(b.lastWork, func() {
		d.bytesInUse -= b.size
		b.release()
	})
	return nil
}

// retireLocked runs release once w, the last queued work using a destroyed
// resource, has completed. Waiters never run on the queue worker, which
// must not take d.mu. Callers hold d.mu.
func (d *Device) retireLocked(w *work, release func()) {
	if w == nil || w.finished() {
		release()
		return
	}
	if d.closed {
		// The worker is draining the queue and never takes d.mu.
		<-w.done
		release()
		return
	}
	d.retired++
	d.retiring.Add(1)
	go func() {
		defer d.retiring.Done()
		<-w.done
		d.mu.Lock()
		defer d.mu.Unlock()
		d.retired--
		release()
	}()
}

// WriteBuffer enqueues a copy of data into the buffer.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	if offset%gpucore.U32Size != 0 || len(data)%gpucore.U32Size != 0 {
		return fmt.Errorf("software: write offset %d and size %d must be multiples of 4", offset, len(data))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if !b.usage.Has(gpucore.BufferUsageCopyDst) {
		return fmt.Errorf("%w: write to %q needs CopyDst, has %s", ErrUsage, b.label, b.usage)
	}
	if err := b.checkRange(offset, uint64(len(data))); err != nil {
		return err
	}
	if b.state != MapStateUnmapped {
		return fmt.Errorf("%w: %q is %s", ErrBufferMapped, b.label, b.state)
	}

	staged := append([]byte(nil), data...)
	w := newWork("write "+b.label, false, func() error {
		copy(b.data[offset:], staged)
		return nil
	})
	b.lastWork = w
	d.queue <- w
	return nil
}

// MapRead waits for the work queued against the buffer, then maps it.
func (d *Device) MapRead(ctx context.Context, id gpucore.BufferID, offset, size uint64) (gpucore.MappedRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	b, ok := d.buffers[id]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	if err := b.beginMap(offset, size); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	w := b.lastWork
	d.mu.Unlock()

	if w != nil {
		select {
		case <-w.done:
		case <-ctx.Done():
			d.mu.Lock()
			b.abortMap()
			d.mu.Unlock()
			return nil, ctx.Err()
		}
		if w.err != nil {
			d.mu.Lock()
			b.abortMap()
			d.mu.Unlock()
			return nil, fmt.Errorf("%w: %s: %w", ErrDeviceLost, w.label, w.err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b.destroyed {
		return nil, fmt.Errorf("%w: buffer %d destroyed while mapping", ErrUnknownResource, id)
	}
	b.state = MapStateMapped
	return &mappedRange{dev: d, buf: b, data: b.data[offset : offset+size]}, nil
}

// === Binding ===

// CreateBindGroup binds buffers to the pipeline's group-0 bindings.
// Every declared binding must be provided exactly once.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	if desc.Group != 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: group %d, only group 0 is supported", ErrLayout, desc.Group)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	p, ok := d.pipelines[desc.Pipeline]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: compute pipeline %d", ErrUnknownResource, desc.Pipeline)
	}
	if len(desc.Entries) != len(p.bindings) {
		return gpucore.InvalidID, fmt.Errorf("%w: %d entries for %d bindings", ErrLayout, len(desc.Entries), len(p.bindings))
	}

	seen := make(map[uint32]bool, len(desc.Entries))
	entries := make([]boundBuffer, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		decl, ok := p.bindings[e.Binding]
		if !ok || seen[e.Binding] {
			return gpucore.InvalidID, fmt.Errorf("%w: unexpected @binding(%d)", ErrLayout, e.Binding)
		}
		seen[e.Binding] = true

		b, ok := d.buffers[e.Buffer]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: buffer %d", ErrUnknownResource, e.Buffer)
		}
		need := gpucore.BufferUsageStorage
		if decl.Type == gpucore.BindingTypeUniformBuffer {
			need = gpucore.BufferUsageUniform
		}
		if !b.usage.Has(need) {
			return gpucore.InvalidID, fmt.Errorf("%w: @binding(%d) needs %s, %q has %s", ErrUsage, e.Binding, need, b.label, b.usage)
		}
		size := e.Size
		if size == 0 && e.Offset < b.size {
			size = b.size - e.Offset
		}
		if err := b.checkRange(e.Offset, size); err != nil {
			return gpucore.InvalidID, err
		}
		entries = append(entries, boundBuffer{
			binding:  e.Binding,
			buf:      b,
			offset:   e.Offset,
			size:     size,
			readOnly: decl.Type != gpucore.BindingTypeStorageBuffer,
		})
	}

	id := gpucore.BindGroupID(d.newID())
	d.groups[id] = &bindGroup{label: desc.Label, pipeline: p, entries: entries}
	return id, nil
}

// DestroyBindGroup releases a bind group once queued work using it has
// completed.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return fmt.Errorf("%w: bind group %d", ErrUnknownResource, id)
	}
	delete(d.groups, id)
	g.destroyed = true
	d.retireLocked(g.lastWork, func() { g.lastWork = nil })
	return nil
}

// === Command Recording and Execution ===

// CreateCommandEncoder starts recording.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return &encoder{dev: d, label: label}, nil
}

// Submit validates the command buffers and queues them, in order.
func (d *Device) Submit(cmds ...gpucore.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	bufs := make([]*commandBuffer, 0, len(cmds))
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.dev != d {
			return fmt.Errorf("%w: command buffer from another device", ErrUnknownResource)
		}
		if cb.submitted {
			return fmt.Errorf("%w: command buffer %q already submitted", ErrEncoderState, cb.label)
		}
		if cb.discarded {
			return fmt.Errorf("%w: command buffer %q was discarded", ErrEncoderState, cb.label)
		}
		for _, b := range cb.buffers() {
			if b.destroyed {
				return fmt.Errorf("%w: %q was destroyed", ErrUnknownResource, b.label)
			}
			if b.state != MapStateUnmapped {
				return fmt.Errorf("%w: %q is %s", ErrBufferMapped, b.label, b.state)
			}
		}
		if err := cb.checkBindings(); err != nil {
			return err
		}
		bufs = append(bufs, cb)
	}

	for _, cb := range bufs {
		cb.submitted = true
		w := newWork(cb.label, true, cb.execute)
		cb.stamp(w)
		d.queue <- w
		d.slogger().Debug("software: submitted", "label", cb.label, "commands", len(cb.cmds))
	}
	return nil
}

// Close drains the queue and stops the worker. Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.workerDone
	d.retiring.Wait()
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}
