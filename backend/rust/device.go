//go:build rust

package rust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/gpucore"
)

// Name is the device name reported by Device.Name.
const Name = backend.BackendRust

// pollInterval is how often MapRead drives the device while waiting.
const pollInterval = 100 * time.Microsecond

func init() {
	backend.Register(backend.BackendRust, func() (gpucore.Device, error) {
		d, err := Open()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// Device is a gpucore.Device on wgpu-native. It is safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     AdapterInfo
	limits   gpucore.Limits
	logger   atomic.Pointer[slog.Logger]

	// ID generation
	nextID atomic.Uint64

	modules   map[gpucore.ShaderModuleID]*wgpu.ShaderModule
	pipelines map[gpucore.ComputePipelineID]*wgpu.ComputePipeline
	buffers   map[gpucore.BufferID]*buffer
	groups    map[gpucore.BindGroupID]*wgpu.BindGroup

	closed bool
}

// AdapterInfo describes the selected GPU.
type AdapterInfo struct {
	Name        string
	AdapterType string
	BackendType string
}

type buffer struct {
	raw    *wgpu.Buffer
	label  string
	size   uint64
	usage  gpucore.BufferUsage
	mapped bool
}

func (b *buffer) checkRange(offset, size uint64) error {
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("%w: [%d, %d) in buffer %q of %d bytes", ErrOutOfRange, offset, offset+size, b.label, b.size)
	}
	return nil
}

// Open requests a high-performance adapter, falling back to a low-power
// one and then to whatever wgpu-native offers by default.
func Open() (*Device, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("%w: CreateInstance returned nil", ErrNoGPU)
	}

	var ad *wgpu.Adapter
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		{},
	} {
		a, err := inst.RequestAdapter(opts)
		if err == nil && a != nil {
			ad = a
			break
		}
	}
	if ad == nil {
		inst.Release()
		return nil, ErrNoGPU
	}

	dev, err := ad.RequestDevice(&wgpu.DeviceDescriptor{})
	if err != nil || dev == nil {
		ad.Release()
		inst.Release()
		return nil, fmt.Errorf("%w: request device: %v", ErrNoGPU, err)
	}

	gi := ad.GetInfo()
	sl := ad.GetLimits()
	d := &Device{
		instance: inst,
		adapter:  ad,
		device:   dev,
		queue:    dev.GetQueue(),
		info: AdapterInfo{
			Name:        gi.Name,
			AdapterType: gi.AdapterType.String(),
			BackendType: gi.BackendType.String(),
		},
		limits: gpucore.Limits{
			SupportsCompute:                  true,
			MaxWorkgroupSizeX:                sl.Limits.MaxComputeWorkgroupSizeX,
			MaxWorkgroupSizeY:                sl.Limits.MaxComputeWorkgroupSizeY,
			MaxWorkgroupSizeZ:                sl.Limits.MaxComputeWorkgroupSizeZ,
			MaxWorkgroupInvocations:          sl.Limits.MaxComputeInvocationsPerWorkgroup,
			MaxBufferSize:                    sl.Limits.MaxBufferSize,
			MaxStorageBufferBindingSize:      sl.Limits.MaxStorageBufferBindingSize,
			MaxComputeWorkgroupsPerDimension: sl.Limits.MaxComputeWorkgroupsPerDimension,
		},
		modules:   make(map[gpucore.ShaderModuleID]*wgpu.ShaderModule),
		pipelines: make(map[gpucore.ComputePipelineID]*wgpu.ComputePipeline),
		buffers:   make(map[gpucore.BufferID]*buffer),
		groups:    make(map[gpucore.BindGroupID]*wgpu.BindGroup),
	}
	d.nextID.Store(1)
	d.SetLogger(nil)
	d.slogger().Info("rust: device opened", "adapter", d.info.Name, "type", d.info.AdapterType, "backend", d.info.BackendType)
	return d, nil
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Name returns "rust".
func (d *Device) Name() string { return Name }

// Limits returns the adapter's limits.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// Info returns the selected adapter.
func (d *Device) Info() AdapterInfo { return d.info }

func (d *Device) live() error {
	if d.closed {
		return ErrClosed
	}
	return nil
}

// CreateShaderModule compiles WGSL in wgpu-native.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.live(); err != nil {
		return 0, err
	}
	m, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.WGSL},
	})
	if err != nil {
		return 0, fmt.Errorf("rust: create shader module %q: %w", desc.Label, err)
	}
	id := gpucore.ShaderModuleID(d.newID())
	d.modules[id] = m
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.modules[id]
	if !ok {
		return fmt.Errorf("%w: shader module %d", ErrUnknownResource, id)
	}
	delete(d.modules, id)
	m.Release()
	return nil
}

// CreateComputePipeline creates a pipeline with an automatic layout.
// wgpu-native creates pipelines synchronously, so ctx is only checked
// around the call.
func (d *Device) CreateComputePipeline(ctx context.Context, desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := d.limits.ValidateWorkgroupSize(desc.WorkgroupSize); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.live(); err != nil {
		return 0, err
	}
	m, ok := d.modules[desc.ShaderModule]
	if !ok {
		return 0, fmt.Errorf("%w: shader module %d", ErrUnknownResource, desc.ShaderModule)
	}
	p, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: desc.Label,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     m,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("rust: create compute pipeline %q: %w", desc.Label, err)
	}
	if err := ctx.Err(); err != nil {
		p.Release()
		return 0, err
	}
	id := gpucore.ComputePipelineID(d.newID())
	d.pipelines[id] = p
	return id, nil
}

// DestroyComputePipeline releases a pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pipelines[id]
	if !ok {
		return fmt.Errorf("%w: compute pipeline %d", ErrUnknownResource, id)
	}
	delete(d.pipelines, id)
	p.Release()
	return nil
}

// CreateBuffer creates a buffer. WebGPU buffers start zeroed.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Size == 0 {
		return 0, fmt.Errorf("rust: buffer %q has zero size", desc.Label)
	}
	if desc.Size > d.limits.MaxBufferSize {
		return 0, fmt.Errorf("%w: %q wants %d bytes, limit %d", gpucore.ErrBufferTooLarge, desc.Label, desc.Size, d.limits.MaxBufferSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.live(); err != nil {
		return 0, err
	}
	raw, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: convertBufferUsage(desc.Usage),
	})
	if err != nil {
		return 0, fmt.Errorf("rust: create buffer %q: %w", desc.Label, err)
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{raw: raw, label: desc.Label, size: desc.Size, usage: desc.Usage}
	return id, nil
}

func convertBufferUsage(u gpucore.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u.Has(gpucore.BufferUsageMapRead) {
		out |= wgpu.BufferUsageMapRead
	}
	if u.Has(gpucore.BufferUsageMapWrite) {
		out |= wgpu.BufferUsageMapWrite
	}
	if u.Has(gpucore.BufferUsageCopySrc) {
		out |= wgpu.BufferUsageCopySrc
	}
	if u.Has(gpucore.BufferUsageCopyDst) {
		out |= wgpu.BufferUsageCopyDst
	}
	if u.Has(gpucore.BufferUsageUniform) {
		out |= wgpu.BufferUsageUniform
	}
	if u.Has(gpucore.BufferUsageStorage) {
		out |= wgpu.BufferUsageStorage
	}
	return out
}

// DestroyBuffer destroys a buffer, unmapping it first if needed.
func (d *Device) DestroyBuffer(id gpucore.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownResource, id)
	}
	delete(d.buffers, id)
	if b.mapped {
		b.raw.Unmap()
	}
	b.raw.Destroy()
	return nil
}

// WriteBuffer enqueues a write on the queue.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
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
	if b.mapped {
		return fmt.Errorf("%w: write to %q", ErrBufferMapped, b.label)
	}
	if err := b.checkRange(offset, uint64(len(data))); err != nil {
		return err
	}
	d.queue.WriteBuffer(b.raw, offset, data)
	return nil
}

// MapRead requests a mapping and polls the device until wgpu-native
// reports it, or ctx is done. An abandoned request is cancelled with
// Unmap.
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
	if b.mapped {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: map %q", ErrBufferMapped, b.label)
	}
	if err := b.checkRange(offset, size); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	b.mapped = true
	d.mu.Unlock()

	done := make(chan wgpu.BufferMapAsyncStatus, 1)
	b.raw.MapAsync(wgpu.MapModeRead, offset, size, func(status wgpu.BufferMapAsyncStatus) {
		done <- status
	})

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		d.device.Poll(false, nil)
		select {
		case status := <-done:
			if status != wgpu.BufferMapAsyncStatusSuccess {
				d.abandonMap(b)
				return nil, fmt.Errorf("%w: %q status %d", ErrMapFailed, b.label, status)
			}
			data := b.raw.GetMappedRange(uint(offset), uint(size))
			return &mappedRange{dev: d, buf: b, data: data}, nil
		case <-ctx.Done():
			d.abandonMap(b)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Device) abandonMap(b *buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.mapped {
		b.raw.Unmap()
		b.mapped = false
	}
}

type mappedRange struct {
	dev  *Device
	buf  *buffer
	data []byte
}

func (m *mappedRange) Bytes() []byte { return m.data }

func (m *mappedRange) Unmap() error {
	m.dev.mu.Lock()
	defer m.dev.mu.Unlock()
	if !m.buf.mapped || m.data == nil {
		return fmt.Errorf("%w: %q", ErrNotMapped, m.buf.label)
	}
	m.data = nil
	m.buf.mapped = false
	m.buf.raw.Unmap()
	return nil
}

// CreateBindGroup binds buffers to the pipeline's automatic layout.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.live(); err != nil {
		return 0, err
	}
	p, ok := d.pipelines[desc.Pipeline]
	if !ok {
		return 0, fmt.Errorf("%w: compute pipeline %d", ErrUnknownResource, desc.Pipeline)
	}
	entries := make([]wgpu.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		b, ok := d.buffers[e.Buffer]
		if !ok {
			return 0, fmt.Errorf("%w: buffer %d", ErrUnknownResource, e.Buffer)
		}
		size := e.Size
		if size == 0 && e.Offset <= b.size {
			size = b.size - e.Offset
		}
		if err := b.checkRange(e.Offset, size); err != nil {
			return 0, err
		}
		entries = append(entries, wgpu.BindGroupEntry{Binding: e.Binding, Buffer: b.raw, Offset: e.Offset, Size: size})
	}
	g, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  p.GetBindGroupLayout(desc.Group),
		Entries: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("rust: create bind group %q: %w", desc.Label, err)
	}
	id := gpucore.BindGroupID(d.newID())
	d.groups[id] = g
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return fmt.Errorf("%w: bind group %d", ErrUnknownResource, id)
	}
	delete(d.groups, id)
	g.Release()
	return nil
}

// CreateCommandEncoder creates a wgpu-native command encoder.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.live(); err != nil {
		return nil, err
	}
	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("rust: create command encoder %q: %w", label, err)
	}
	return &encoder{dev: d, raw: enc, label: label}, nil
}

// Submit submits command buffers in order and releases them.
func (d *Device) Submit(cmds ...gpucore.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.live(); err != nil {
		return err
	}
	raws := make([]*wgpu.CommandBuffer, 0, len(cmds))
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.dev != d {
			return fmt.Errorf("rust: command buffer %T does not belong to this device", c)
		}
		if cb.raw == nil {
			return fmt.Errorf("%w: command buffer %q was already submitted", ErrEncoderState, cb.label)
		}
		raws = append(raws, cb.raw)
	}
	d.queue.Submit(raws...)
	for _, c := range cmds {
		cb := c.(*commandBuffer)
		cb.raw.Release()
		cb.raw = nil
	}
	return nil
}

// Close waits for submitted work, releases what is still alive and
// releases the device, adapter and instance.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.device.Poll(true, nil)

	for id, g := range d.groups {
		g.Release()
		delete(d.groups, id)
	}
	for id, p := range d.pipelines {
		p.Release()
		delete(d.pipelines, id)
	}
	for id, m := range d.modules {
		m.Release()
		delete(d.modules, id)
	}
	for id, b := range d.buffers {
		if b.mapped {
			b.raw.Unmap()
		}
		b.raw.Destroy()
		delete(d.buffers, id)
	}

	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
	d.slogger().Debug("rust: device closed", "adapter", d.info.Name)
	return nil
}
