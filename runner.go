package compute

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/kernel"
)

// Stats reports what one job did.
type Stats struct {
	// Elements is the input length.
	Elements int

	// Covered is the number of leading elements the dispatch plan wrote.
	// Covered < Elements means the trailing elements were left at zero.
	Covered int

	// Compile is the time spent building the pipeline.
	Compile time.Duration

	// Execute is the time from submission until the readback was mapped.
	Execute time.Duration

	// Total is the wall time of the whole job, teardown included.
	Total time.Duration
}

// Runner executes single-dispatch compute jobs.
//
// A Runner holds no per-job state and may be used from several goroutines.
// Each call owns its buffers and releases them before returning.
type Runner struct {
	logger *slog.Logger
	label  string
	cache  *kernel.Cache // nil disables caching
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	var o runnerOptions
	for _, opt := range opts {
		opt(&o)
	}
	r := &Runner{logger: o.logger, label: o.label, cache: o.cache}
	if r.cache == nil && !o.noCache {
		r.cache = sharedKernels
	}
	return r
}

// sharedKernels caches prepared kernels for every Runner built without
// WithKernelCache.
var sharedKernels = kernel.NewCache(kernel.DefaultCacheSize)

var defaultRunner = NewRunner()

// Run runs kernel once over input on dev with the given dispatch plan and
// returns the output buffer's contents. See Runner.Run.
func Run(ctx context.Context, dev gpucore.Device, input []uint32, k KernelSpec, plan DispatchPlan) ([]uint32, error) {
	return defaultRunner.Run(ctx, dev, input, k, plan)
}

// Run uploads input, dispatches the kernel once, waits for the device and
// returns a copy of the output buffer.
//
// The returned slice has len(input) elements. Elements beyond the plan's
// coverage are zero. On failure the error is a *JobError, no partial output
// is returned and every device object created by the call has been
// released.
//
// ctx bounds the two blocking steps, pipeline creation and readback
// mapping. Work already submitted is not cancelled.
func (r *Runner) Run(ctx context.Context, dev gpucore.Device, input []uint32, k KernelSpec, plan DispatchPlan) ([]uint32, error) {
	out, _, err := r.RunWithStats(ctx, dev, input, k, plan)
	return out, err
}

// RunWithStats is Run, also reporting timings and coverage.
func (r *Runner) RunWithStats(ctx context.Context, dev gpucore.Device, input []uint32, k KernelSpec, plan DispatchPlan) ([]uint32, Stats, error) {
	start := time.Now()
	log := r.log()
	label := r.jobLabel(k)

	if dev == nil {
		return nil, Stats{}, jobErr(ErrDeviceUnavailable, StageDevice, label, nil)
	}
	limits := dev.Limits()
	if !limits.SupportsCompute {
		return nil, Stats{}, jobErr(ErrDeviceUnavailable, StageDevice, label,
			fmt.Errorf("device %q does not support compute", dev.Name()))
	}

	if err := validate(input, k, plan, limits); err != nil {
		return nil, Stats{}, jobErr(ErrInvalidJob, StageValidate, label, err)
	}

	j := &job{dev: dev, label: label, log: log, cache: r.cache}
	defer j.release()

	stats := Stats{Elements: len(input), Covered: covered(plan, k.WorkgroupSize, len(input))}
	if stats.Covered < stats.Elements {
		log.Warn("compute: dispatch plan does not cover input",
			"label", label, "covered", stats.Covered, "elements", stats.Elements)
	}

	if err := j.buildPipeline(ctx, k, limits); err != nil {
		return nil, Stats{}, err
	}
	stats.Compile = time.Since(start)

	size := uint64(len(input)) * gpucore.U32Size
	if err := j.allocate(size, limits); err != nil {
		return nil, Stats{}, err
	}

	if err := dev.WriteBuffer(j.input, 0, encodeU32(input)); err != nil {
		return nil, Stats{}, jobErr(ErrMappingFailed, StageUpload, label, err)
	}

	cmd, err := j.encode(plan, size)
	if err != nil {
		return nil, Stats{}, err
	}

	submitted := time.Now()
	if err := dev.Submit(cmd); err != nil {
		return nil, Stats{}, jobErr(ErrMappingFailed, StageSubmit, label, err)
	}

	out, err := j.readback(ctx, size, len(input))
	if err != nil {
		return nil, Stats{}, err
	}
	stats.Execute = time.Since(submitted)

	log.Debug("compute: job done",
		"label", label,
		"device", dev.Name(),
		"elements", stats.Elements,
		"compile", stats.Compile,
		"execute", stats.Execute)

	stats.Total = time.Since(start)
	return out, stats, nil
}

func (r *Runner) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return Logger()
}

func (r *Runner) jobLabel(k KernelSpec) string {
	switch {
	case r.label == "":
		return k.Label
	case k.Label == "":
		return r.label
	default:
		return r.label + "/" + k.Label
	}
}

func validate(input []uint32, k KernelSpec, plan DispatchPlan, limits gpucore.Limits) error {
	if len(input) == 0 {
		return errors.New("empty input")
	}
	if err := k.Validate(); err != nil {
		return err
	}
	if err := plan.Validate(); err != nil {
		return err
	}
	return limits.ValidateDispatch(plan[0], plan[1], plan[2])
}

func covered(plan DispatchPlan, wg [3]uint32, n int) int {
	c := plan.Coverage(wg)
	if c >= uint64(n) {
		return n
	}
	return int(c)
}

// job is the set of device objects owned by one Run call.
type job struct {
	dev   gpucore.Device
	label string
	log   *slog.Logger
	cache *kernel.Cache

	pipeline gpucore.ComputePipelineID
	input    gpucore.BufferID
	output   gpucore.BufferID
	readMap  gpucore.BufferID

	releases []func() error
}

// onRelease registers a release; release runs them in reverse order.
func (j *job) onRelease(f func() error) {
	j.releases = append(j.releases, f)
}

// release tears down everything the job acquired. Failures are logged,
// never returned: they must not mask the job's own outcome.
func (j *job) release() {
	var err error
	for i := len(j.releases) - 1; i >= 0; i-- {
		err = multierr.Append(err, j.releases[i]())
	}
	j.releases = nil
	if err != nil {
		j.log.Warn("compute: resource release failed",
			"label", j.label, "errors", len(multierr.Errors(err)), "err", err)
	}
}

func (j *job) name(suffix string) string {
	if j.label == "" {
		return suffix
	}
	return j.label + "_" + suffix
}

func (j *job) prepare(k KernelSpec) (*kernel.Prepared, error) {
	if j.cache == nil {
		return kernel.Prepare(k.Source, k.EntryPoint, k.WorkgroupSize)
	}
	return j.cache.Prepare(k.Source, k.EntryPoint, k.WorkgroupSize)
}

func (j *job) buildPipeline(ctx context.Context, k KernelSpec, limits gpucore.Limits) error {
	if err := limits.ValidateWorkgroupSize(k.WorkgroupSize); err != nil {
		return jobErr(ErrKernelCompile, StagePipeline, j.label, err)
	}
	prepared, err := j.prepare(k)
	if err != nil {
		return jobErr(ErrKernelCompile, StagePipeline, j.label, err)
	}

	code, err := prepared.SPIRV()
	if err != nil {
		return jobErr(ErrKernelCompile, StagePipeline, j.label, err)
	}
	module, err := j.dev.CreateShaderModule(&gpucore.ShaderModuleDesc{
		Label: j.name("shader"),
		WGSL:  prepared.Source,
		SPIRV: code,
	})
	if err != nil {
		return jobErr(ErrKernelCompile, StagePipeline, j.label, err)
	}
	j.onRelease(func() error { return j.dev.DestroyShaderModule(module) })

	pipeline, err := j.dev.CreateComputePipeline(ctx, &gpucore.ComputePipelineDesc{
		Label:         j.name("pipeline"),
		ShaderModule:  module,
		EntryPoint:    prepared.EntryPoint,
		WorkgroupSize: prepared.WorkgroupSize,
		Bindings:      prepared.Bindings,
	})
	if err != nil {
		return jobErr(ErrKernelCompile, StagePipeline, j.label, err)
	}
	j.onRelease(func() error { return j.dev.DestroyComputePipeline(pipeline) })
	j.pipeline = pipeline

	j.log.Debug("compute: pipeline ready",
		"label", j.label, "entry", prepared.EntryPoint, "workgroup", prepared.WorkgroupSize)
	return nil
}

func (j *job) allocate(size uint64, limits gpucore.Limits) error {
	if err := limits.ValidateBufferSize(size); err != nil {
		return jobErr(ErrResourceExhausted, StageAllocate, j.label, err)
	}

	bufs := []struct {
		id    *gpucore.BufferID
		name  string
		usage gpucore.BufferUsage
	}{
		{&j.input, "input", gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst},
		{&j.output, "output", gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc},
		{&j.readMap, "readback", gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst},
	}
	for _, b := range bufs {
		id, err := j.dev.CreateBuffer(&gpucore.BufferDesc{Label: j.name(b.name), Size: size, Usage: b.usage})
		if err != nil {
			return jobErr(ErrResourceExhausted, StageAllocate, j.label, fmt.Errorf("%s buffer: %w", b.name, err))
		}
		j.onRelease(func() error { return j.dev.DestroyBuffer(id) })
		*b.id = id
	}

	j.log.Debug("compute: buffers allocated", "label", j.label, "bytes", size)
	return nil
}

func (j *job) encode(plan DispatchPlan, size uint64) (gpucore.CommandBuffer, error) {
	fail := func(err error) (gpucore.CommandBuffer, error) {
		return nil, jobErr(ErrMappingFailed, StageEncode, j.label, err)
	}

	group, err := j.dev.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:    j.name("bind_group"),
		Pipeline: j.pipeline,
		Group:    0,
		Entries: []gpucore.BindGroupEntry{
			{Binding: kernel.InputBinding, Buffer: j.input, Size: size},
			{Binding: kernel.OutputBinding, Buffer: j.output, Size: size},
		},
	})
	if err != nil {
		return fail(fmt.Errorf("bind group: %w", err))
	}
	j.onRelease(func() error { return j.dev.DestroyBindGroup(group) })

	enc, err := j.dev.CreateCommandEncoder(j.name("encoder"))
	if err != nil {
		return fail(err)
	}
	j.onRelease(func() error { enc.Discard(); return nil })
	pass, err := enc.BeginComputePass(j.name("pass"))
	if err != nil {
		return fail(err)
	}
	if err := pass.SetPipeline(j.pipeline); err != nil {
		return fail(err)
	}
	if err := pass.SetBindGroup(0, group); err != nil {
		return fail(err)
	}
	if err := pass.Dispatch(plan[0], plan[1], plan[2]); err != nil {
		return fail(err)
	}
	if err := pass.End(); err != nil {
		return fail(err)
	}
	if err := enc.CopyBufferToBuffer(j.output, 0, j.readMap, 0, size); err != nil {
		return fail(err)
	}
	cmd, err := enc.Finish()
	if err != nil {
		return fail(err)
	}
	// Frees the command buffer if Submit never takes it.
	j.onRelease(func() error { cmd.Discard(); return nil })
	return cmd, nil
}

func (j *job) readback(ctx context.Context, size uint64, n int) ([]uint32, error) {
	mapped, err := j.dev.MapRead(ctx, j.readMap, 0, size)
	if err != nil {
		return nil, jobErr(ErrMappingFailed, StageReadback, j.label, err)
	}
	j.onRelease(mapped.Unmap)

	data := mapped.Bytes()
	if uint64(len(data)) < size {
		return nil, jobErr(ErrMappingFailed, StageReadback, j.label,
			fmt.Errorf("mapped %d bytes, want %d", len(data), size))
	}
	return decodeU32(data, n), nil
}

func encodeU32(v []uint32) []byte {
	b := make([]byte, len(v)*gpucore.U32Size)
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*gpucore.U32Size:], x)
	}
	return b
}

func decodeU32(b []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*gpucore.U32Size:])
	}
	return out
}
