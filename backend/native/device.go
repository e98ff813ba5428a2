// Package native runs compute jobs on gogpu/wgpu, the Pure Go WebGPU
// implementation, through its hardware abstraction layer.
//
// Open picks a Vulkan adapter, preferring discrete over integrated GPUs.
// FromProvider borrows the device of a host application such as a gogpu
// window instead of opening one. Shaders reach the HAL as SPIR-V compiled
// by naga, and bind group layouts are built from the bindings reflected
// out of the WGSL source, since the HAL has no automatic layout.
//
// Completion is tracked with submission indices: every buffer remembers the
// last submission that touched it and MapRead polls the queue until that
// index has completed.
package native

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/kernel"
)

// Name is the device name reported by Device.Name.
const Name = backend.BackendNative

// maxBindGroups matches the WebGPU default for maxBindGroups.
const maxBindGroups = 4

func init() {
	backend.Register(backend.BackendNative, func() (gpucore.Device, error) {
		d, err := Open()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// Device is a gpucore.Device backed by a HAL device and queue.
// It is safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	instance hal.Instance // nil when borrowed
	device   hal.Device
	queue    hal.Queue
	adapter  string
	borrowed bool
	limits   gpucore.Limits
	poll     time.Duration
	logger   atomic.Pointer[slog.Logger]

	// ID generation
	nextID atomic.Uint64

	modules   map[gpucore.ShaderModuleID]hal.ShaderModule
	pipelines map[gpucore.ComputePipelineID]*pipeline
	buffers   map[gpucore.BufferID]*buffer
	groups    map[gpucore.BindGroupID]*bindGroup

	// inflight holds submitted command buffers until the queue reports
	// them complete.
	inflight []inflight

	// retired holds destroyed resources a pending submission still uses.
	retired []retired

	closed bool
}

type pipeline struct {
	label        string
	raw          hal.ComputePipeline
	layout       hal.PipelineLayout
	groupLayouts []hal.BindGroupLayout

	submission uint64
	destroyed  bool
}

type bindGroup struct {
	label    string
	raw      hal.BindGroup
	pipeline *pipeline
	buffers  []*buffer

	submission uint64
	destroyed  bool
}

type inflight struct {
	index uint64
	cmds  []hal.CommandBuffer
}

type retired struct {
	index uint64
	free  func()
}

// Counts reports live resources.
type Counts struct {
	Buffers   int
	Modules   int
	Pipelines int
	Groups    int
	Inflight  int
	Retired   int
}

// Open opens the first suitable adapter of the configured HAL backend,
// Vulkan by default.
func Open(opts ...Option) (*Device, error) {
	o := newOptions(opts)
	b, ok := hal.GetBackend(o.variant)
	if !ok {
		return nil, fmt.Errorf("%w: %s backend is not compiled in", ErrNoAdapter, o.variant)
	}
	return OpenBackend(b, opts...)
}

// OpenBackend opens a device on the given HAL backend.
func OpenBackend(b hal.Backend, opts ...Option) (*Device, error) {
	o := newOptions(opts)

	instance, err := b.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("native: create %s instance: %w", b.Variant(), err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: %s reported no adapters", ErrNoAdapter, b.Variant())
	}
	selected := pickAdapter(adapters)

	limits := gputypes.DefaultLimits()
	opened, err := selected.Adapter.Open(0, limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open adapter %q: %w", selected.Info.Name, err)
	}

	d := newDevice(opened.Device, opened.Queue, selected.Info.Name, limitsFrom(limits), o)
	d.instance = instance
	d.slogger().Info("native: device opened",
		"adapter", selected.Info.Name,
		"type", selected.Info.DeviceType,
		"backend", b.Variant())
	return d, nil
}

// halProvider is implemented by hosts that expose their HAL objects
// directly.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider wraps the HAL device of a host application. The device is
// borrowed: Close releases the resources created through the Device but
// leaves the HAL device and queue to their owner.
func FromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrNoHAL)
	}

	var rawDevice, rawQueue any = p.Device(), p.Queue()
	if hp, ok := p.(halProvider); ok {
		rawDevice, rawQueue = hp.HalDevice(), hp.HalQueue()
	}

	dev, ok := rawDevice.(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: device is %T", ErrNoHAL, rawDevice)
	}
	queue, ok := rawQueue.(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: queue is %T", ErrNoHAL, rawQueue)
	}

	info := p.AdapterInfo()
	d := newDevice(dev, queue, info.Name, limitsFrom(gputypes.DefaultLimits()), newOptions(opts))
	d.borrowed = true
	d.slogger().Info("native: borrowed host device", "adapter", info.Name, "type", info.Type)
	return d, nil
}

func newDevice(dev hal.Device, queue hal.Queue, adapter string, limits gpucore.Limits, o *options) *Device {
	if o.limits != nil {
		limits = *o.limits
	}
	d := &Device{
		device:    dev,
		queue:     queue,
		adapter:   adapter,
		limits:    limits,
		poll:      o.poll,
		modules:   make(map[gpucore.ShaderModuleID]hal.ShaderModule),
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
		buffers:   make(map[gpucore.BufferID]*buffer),
		groups:    make(map[gpucore.BindGroupID]*bindGroup),
	}
	d.nextID.Store(1)
	d.SetLogger(o.logger)
	return d
}

// pickAdapter prefers discrete GPUs, then integrated ones, then whatever
// was enumerated first.
func pickAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Name returns "native".
func (d *Device) Name() string { return Name }

// Limits returns the limits the device was opened with.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// Adapter returns the adapter name.
func (d *Device) Adapter() string { return d.adapter }

// Counts returns a snapshot of live resources.
func (d *Device) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.reclaimLocked()
	}
	return Counts{
		Buffers:   len(d.buffers),
		Modules:   len(d.modules),
		Pipelines: len(d.pipelines),
		Groups:    len(d.groups),
		Inflight:  len(d.inflight),
		Retired:   len(d.retired),
	}
}

func (d *Device) live() error {
	if d.closed {
		return ErrClosed
	}
	return nil
}

// CreateShaderModule hands SPIR-V to the HAL, compiling desc.WGSL with naga
// when no SPIR-V is supplied.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	code := desc.SPIRV
	if len(code) == 0 {
		var err error
		if code, err = kernel.CompileSPIRV(desc.WGSL); err != nil {
			return 0, fmt.Errorf("native: shader %q: %w", desc.Label, err)
		}
	}

	d.mu.Lock()
	err := d.live()
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}

	raw, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return 0, fmt.Errorf("native: create shader module %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ShaderModuleID(d.newID())
	d.modules[id] = raw
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) error {
	d.mu.Lock()
	raw, ok := d.modules[id]
	delete(d.modules, id)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: shader module %d", ErrUnknownResource, id)
	}
	d.device.DestroyShaderModule(raw)
	return nil
}

// CreateComputePipeline builds one bind group layout per reflected group,
// a pipeline layout over them and the pipeline itself.
func (d *Device) CreateComputePipeline(ctx context.Context, desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := d.limits.ValidateWorkgroupSize(desc.WorkgroupSize); err != nil {
		return 0, err
	}
	groups, err := layoutEntries(desc.Bindings)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	if err := d.live(); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	module, ok := d.modules[desc.ShaderModule]
	d.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: shader module %d", ErrUnknownResource, desc.ShaderModule)
	}

	p := &pipeline{label: desc.Label}
	for i, entries := range groups {
		bgl, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group %d", desc.Label, i),
			Entries: entries,
		})
		if err != nil {
			d.destroyPipeline(p)
			return 0, fmt.Errorf("native: create bind group layout %d for %q: %w", i, desc.Label, err)
		}
		p.groupLayouts = append(p.groupLayouts, bgl)
	}

	p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: p.groupLayouts,
	})
	if err != nil {
		d.destroyPipeline(p)
		return 0, fmt.Errorf("native: create pipeline layout %q: %w", desc.Label, err)
	}

	p.raw, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		d.destroyPipeline(p)
		return 0, fmt.Errorf("native: create compute pipeline %q: %w", desc.Label, err)
	}

	// Pipeline creation is synchronous in the HAL; a caller that gave up
	// meanwhile does not get the pipeline.
	if err := ctx.Err(); err != nil {
		d.destroyPipeline(p)
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ComputePipelineID(d.newID())
	d.pipelines[id] = p
	return id, nil
}

func (d *Device) destroyPipeline(p *pipeline) {
	if p.raw != nil {
		d.device.DestroyComputePipeline(p.raw)
	}
	if p.layout != nil {
		d.device.DestroyPipelineLayout(p.layout)
	}
	for _, bgl := range p.groupLayouts {
		d.device.DestroyBindGroupLayout(bgl)
	}
}

// DestroyComputePipeline releases a pipeline and its layouts once the
// last submission using it has completed.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pipelines[id]
	if !ok {
		return fmt.Errorf("%w: compute pipeline %d", ErrUnknownResource, id)
	}
	delete(d.pipelines, id)
	p.destroyed = true
	d.retireLocked(p.submission, func() { d.destroyPipeline(p) })
	return nil
}

// CreateBindGroup binds buffers against one of the pipeline's group layouts.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	if err := d.live(); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	p, ok := d.pipelines[desc.Pipeline]
	if !ok {
		d.mu.Unlock()
		return 0, fmt.Errorf("%w: compute pipeline %d", ErrUnknownResource, desc.Pipeline)
	}
	if int(desc.Group) >= len(p.groupLayouts) {
		d.mu.Unlock()
		return 0, fmt.Errorf("%w: pipeline %q has %d groups, got group %d", ErrLayout, p.label, len(p.groupLayouts), desc.Group)
	}

	g := &bindGroup{label: desc.Label, pipeline: p}
	entries := make([]gputypes.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		b, ok := d.buffers[e.Buffer]
		if !ok {
			d.mu.Unlock()
			return 0, fmt.Errorf("%w: buffer %d", ErrUnknownResource, e.Buffer)
		}
		size := e.Size
		if size == 0 && e.Offset <= b.size {
			size = b.size - e.Offset
		}
		if err := b.checkRange(e.Offset, size); err != nil {
			d.mu.Unlock()
			return 0, err
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: e.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: b.raw.NativeHandle(),
				Offset: e.Offset,
				Size:   size,
			},
		})
		g.buffers = append(g.buffers, b)
	}
	layout := p.groupLayouts[desc.Group]
	d.mu.Unlock()

	raw, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("native: create bind group %q: %w", desc.Label, err)
	}
	g.raw = raw

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BindGroupID(d.newID())
	d.groups[id] = g
	return id, nil
}

// DestroyBindGroup releases a bind group once the last submission using
// it has completed.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return fmt.Errorf("%w: bind group %d", ErrUnknownResource, id)
	}
	delete(d.groups, id)
	g.destroyed = true
	d.retireLocked(g.submission, func() { d.device.DestroyBindGroup(g.raw) })
	return nil
}

// CreateCommandEncoder creates a HAL encoder and begins recording.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	err := d.live()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	raw, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder %q: %w", label, err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("native: begin encoding %q: %w", label, err)
	}
	return &encoder{dev: d, raw: raw, label: label}, nil
}

// Submit submits finished command buffers and records the submission index
// on every buffer they touch.
func (d *Device) Submit(cmds ...gpucore.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.live(); err != nil {
		return err
	}

	raws := make([]hal.CommandBuffer, 0, len(cmds))
	var touched []*buffer
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.dev != d {
			return fmt.Errorf("native: command buffer %T does not belong to this device", c)
		}
		if cb.submitted {
			return fmt.Errorf("%w: command buffer %q was already submitted", ErrEncoderState, cb.label)
		}
		if cb.raw == nil {
			return fmt.Errorf("%w: command buffer %q was discarded", ErrEncoderState, cb.label)
		}
		for _, p := range cb.pipelines {
			if p.destroyed {
				return fmt.Errorf("%w: command buffer %q uses destroyed pipeline %q", ErrUnknownResource, cb.label, p.label)
			}
		}
		for _, g := range cb.groups {
			if g.destroyed {
				return fmt.Errorf("%w: command buffer %q uses destroyed bind group %q", ErrUnknownResource, cb.label, g.label)
			}
		}
		for _, b := range cb.buffers {
			if b.destroyed {
				return fmt.Errorf("%w: command buffer %q uses destroyed buffer %q", ErrUnknownResource, cb.label, b.label)
			}
			if b.state != mapIdle {
				return fmt.Errorf("%w: command buffer %q uses buffer %q", ErrBufferMapped, cb.label, b.label)
			}
		}
		raws = append(raws, cb.raw)
		touched = append(touched, cb.buffers...)
	}

	index, err := d.queue.Submit(raws)
	if err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	for _, c := range cmds {
		cb := c.(*commandBuffer)
		cb.submitted = true
		for _, p := range cb.pipelines {
			p.submission = index
		}
		for _, g := range cb.groups {
			g.submission = index
		}
	}
	for _, b := range touched {
		b.submission = index
	}
	d.inflight = append(d.inflight, inflight{index: index, cmds: raws})
	d.reclaimLocked()
	return nil
}

// reclaimLocked frees command buffers and destroyed resources whose last
// submission has completed.
func (d *Device) reclaimLocked() {
	done := d.queue.PollCompleted()
	kept := d.inflight[:0]
	for _, f := range d.inflight {
		if f.index > done {
			kept = append(kept, f)
			continue
		}
		for _, cb := range f.cmds {
			d.device.FreeCommandBuffer(cb)
		}
	}
	d.inflight = kept

	parked := d.retired[:0]
	for _, r := range d.retired {
		if r.index > done {
			parked = append(parked, r)
			continue
		}
		r.free()
	}
	d.retired = parked
}

// retireLocked frees a destroyed resource now if submission index has
// completed, and parks it for reclaimLocked otherwise.
func (d *Device) retireLocked(index uint64, free func()) {
	if d.closed || index == 0 || d.queue.PollCompleted() >= index {
		free()
		return
	}
	d.retired = append(d.retired, retired{index: index, free: free})
}

// waitSubmission polls the queue until index has completed or ctx is done.
func (d *Device) waitSubmission(ctx context.Context, index uint64) error {
	if index == 0 || d.queue.PollCompleted() >= index {
		return nil
	}
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if d.queue.PollCompleted() >= index {
				return nil
			}
		}
	}
}

// Close waits for the queue to drain and releases every resource still
// alive. The HAL device is destroyed unless it was borrowed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if werr := d.device.WaitIdle(); werr != nil {
		err = fmt.Errorf("native: wait idle: %w", werr)
	}
	for _, f := range d.inflight {
		for _, cb := range f.cmds {
			d.device.FreeCommandBuffer(cb)
		}
	}
	d.inflight = nil
	for _, r := range d.retired {
		r.free()
	}
	d.retired = nil

	leaked := len(d.groups) + len(d.pipelines) + len(d.modules) + len(d.buffers)
	if leaked > 0 {
		d.slogger().Warn("native: releasing resources left alive at close", "count", leaked)
	}
	for id, g := range d.groups {
		d.device.DestroyBindGroup(g.raw)
		delete(d.groups, id)
	}
	for id, p := range d.pipelines {
		d.destroyPipeline(p)
		delete(d.pipelines, id)
	}
	for id, m := range d.modules {
		d.device.DestroyShaderModule(m)
		delete(d.modules, id)
	}
	for id, b := range d.buffers {
		d.releaseBuffer(b)
		delete(d.buffers, id)
	}

	if !d.borrowed {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.slogger().Debug("native: device closed", "adapter", d.adapter, "borrowed", d.borrowed)
	return err
}
