package compute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/compute/backend/software"
	"github.com/gogpu/compute/gpucore"
)

func doubled(in []uint32) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = v * 2
	}
	return out
}

func newDevice(t *testing.T, opts ...software.Option) *software.Device {
	t.Helper()
	d := software.New(opts...)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// assertReleased fails if the device still holds objects created by a job.
func assertReleased(t *testing.T, d *software.Device) {
	t.Helper()
	c := d.Counts()
	if c.Buffers != 0 || c.ShaderModules != 0 || c.Pipelines != 0 || c.BindGroups != 0 || c.Retired != 0 {
		t.Errorf("device still holds %+v after the job", c)
	}
}

func TestSoftwareKnowsDoubleKernel(t *testing.T) {
	if software.DoubleEntryPoint != DoubleEntryPoint {
		t.Fatalf("software.DoubleEntryPoint = %q, want %q", software.DoubleEntryPoint, DoubleEntryPoint)
	}
	d := software.New()
	defer d.Close()
	got, err := Run(context.Background(), d, []uint32{1, 2, 3}, DoubleKernel(4), DispatchPlan{1, 1, 1})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]uint32{2, 4, 6}, got); diff != "" {
		t.Errorf("Run() mismatch (-want +got):\n%s", diff)
	}
}

func TestRunScenarios(t *testing.T) {
	tests := []struct {
		name  string
		input []uint32
		wg    uint32
		plan  DispatchPlan
		want  []uint32
	}{
		{"eight in one workgroup", SuccessiveArray(8), 8, DispatchPlan{1, 1, 1}, []uint32{2, 4, 6, 8, 10, 12, 14, 16}},
		{"single element", []uint32{1}, 1, DispatchPlan{1, 1, 1}, []uint32{2}},
		{"several workgroups", SuccessiveArray(100), 64, PlanFor(100, 64), doubled(SuccessiveArray(100))},
		{"wrapping multiply", []uint32{0x80000001}, 1, DispatchPlan{1, 1, 1}, []uint32{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDevice(t)
			got, err := Run(context.Background(), d, tt.input, DoubleKernel(tt.wg), tt.plan)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Run() mismatch (-want +got):\n%s", diff)
			}
			assertReleased(t, d)
		})
	}
}

func TestRunIdempotent(t *testing.T) {
	d := newDevice(t)
	input := SuccessiveArray(300)
	k := DoubleKernel(64)
	plan := PlanFor(len(input), 64)

	first, err := Run(context.Background(), d, input, k, plan)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	for i := range 3 {
		again, err := Run(context.Background(), d, input, k, plan)
		if err != nil {
			t.Fatalf("Run() #%d error = %v", i+2, err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Errorf("Run() #%d differs from first run (-first +again):\n%s", i+2, diff)
		}
	}
	if c := d.Counts(); c.BuffersCreated != 4*3 {
		t.Errorf("BuffersCreated = %d, want 12 (no reuse across jobs)", c.BuffersCreated)
	}
}

func TestRunKernelCache(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		wantHits   uint64
		wantCached bool
	}{
		{"private cache", 8, 2, true},
		{"disabled", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDevice(t)
			r := NewRunner(WithKernelCache(tt.size))
			if (r.cache != nil) != tt.wantCached {
				t.Fatalf("cache set = %v, want %v", r.cache != nil, tt.wantCached)
			}
			for range 3 {
				if _, err := r.Run(context.Background(), d, SuccessiveArray(16), DoubleKernel(16), PlanFor(16, 16)); err != nil {
					t.Fatalf("Run() error = %v", err)
				}
			}
			if r.cache == nil {
				return
			}
			if s := r.cache.Stats(); s.Hits != tt.wantHits || s.Len != 1 {
				t.Errorf("cache stats = %+v, want %d hits and 1 entry", s, tt.wantHits)
			}
			assertReleased(t, d)
		})
	}

	if NewRunner().cache != sharedKernels {
		t.Error("default Runner does not use the shared kernel cache")
	}
}

func TestRunUnderCoverage(t *testing.T) {
	var logs bytes.Buffer
	r := NewRunner(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	d := newDevice(t)

	got, stats, err := r.RunWithStats(context.Background(), d, SuccessiveArray(8), DoubleKernel(4), DispatchPlan{1, 1, 1})
	if err != nil {
		t.Fatalf("RunWithStats() error = %v", err)
	}
	if diff := cmp.Diff([]uint32{2, 4, 6, 8, 0, 0, 0, 0}, got); diff != "" {
		t.Errorf("RunWithStats() mismatch (-want +got):\n%s", diff)
	}
	if stats.Covered != 4 || stats.Elements != 8 {
		t.Errorf("stats covered %d of %d, want 4 of 8", stats.Covered, stats.Elements)
	}
	if !strings.Contains(logs.String(), "does not cover input") {
		t.Errorf("under-coverage was not logged, got: %s", logs.String())
	}
}

func TestRunWithStatsTimings(t *testing.T) {
	const latency = 20 * time.Millisecond
	d := newDevice(t, software.WithLatency(latency))

	_, stats, err := NewRunner().RunWithStats(context.Background(), d, SuccessiveArray(16), DoubleKernel(16), DispatchPlan{1, 1, 1})
	if err != nil {
		t.Fatalf("RunWithStats() error = %v", err)
	}
	if stats.Execute < latency {
		t.Errorf("Execute = %v, want at least the device latency %v", stats.Execute, latency)
	}
	if stats.Total < stats.Execute+stats.Compile {
		t.Errorf("Total = %v, want >= Compile %v + Execute %v", stats.Total, stats.Compile, stats.Execute)
	}
	if stats.Covered != 16 {
		t.Errorf("Covered = %d, want 16", stats.Covered)
	}
}

func TestRunDeviceUnavailable(t *testing.T) {
	_, err := Run(context.Background(), nil, SuccessiveArray(8), DoubleKernel(8), DispatchPlan{1, 1, 1})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Run(nil device) error = %v, want ErrDeviceUnavailable", err)
	}

	limits := gpucore.DefaultLimits()
	limits.SupportsCompute = false
	d := newDevice(t, software.WithLimits(limits))
	_, err = Run(context.Background(), d, SuccessiveArray(8), DoubleKernel(8), DispatchPlan{1, 1, 1})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Run(no compute) error = %v, want ErrDeviceUnavailable", err)
	}
	if c := d.Counts(); c.BuffersCreated != 0 {
		t.Errorf("BuffersCreated = %d, want 0", c.BuffersCreated)
	}
}

func TestRunResourceExhausted(t *testing.T) {
	t.Run("over device limit", func(t *testing.T) {
		limits := gpucore.DefaultLimits()
		limits.MaxBufferSize = 16
		d := newDevice(t, software.WithLimits(limits))

		_, err := Run(context.Background(), d, SuccessiveArray(8), DoubleKernel(8), DispatchPlan{1, 1, 1})
		if !errors.Is(err, ErrResourceExhausted) {
			t.Fatalf("Run() error = %v, want ErrResourceExhausted", err)
		}
		if !errors.Is(err, gpucore.ErrBufferTooLarge) {
			t.Errorf("Run() error = %v, want it to wrap ErrBufferTooLarge", err)
		}
		assertReleased(t, d)
	})

	t.Run("allocation fails after earlier buffers", func(t *testing.T) {
		// Room for two of the three 32-byte buffers.
		d := newDevice(t, software.WithMemoryBudget(64))

		_, err := Run(context.Background(), d, SuccessiveArray(8), DoubleKernel(8), DispatchPlan{1, 1, 1})
		if !errors.Is(err, ErrResourceExhausted) {
			t.Fatalf("Run() error = %v, want ErrResourceExhausted", err)
		}
		var jerr *JobError
		if !errors.As(err, &jerr) || jerr.Stage != StageAllocate {
			t.Errorf("Run() error = %#v, want a JobError at %s", err, StageAllocate)
		}
		if c := d.Counts(); c.BuffersCreated != 2 {
			t.Errorf("BuffersCreated = %d, want 2", c.BuffersCreated)
		}
		assertReleased(t, d)
	})
}

func TestRunKernelCompile(t *testing.T) {
	tests := []struct {
		name string
		k    KernelSpec
		opts []software.Option
	}{
		{
			name: "invalid wgsl",
			k:    KernelSpec{Source: "fn broken( {", EntryPoint: "broken", WorkgroupSize: [3]uint32{1, 1, 1}},
		},
		{
			name: "entry point missing from source",
			k:    KernelSpec{Source: doubleSource, EntryPoint: "main", WorkgroupSize: [3]uint32{8, 1, 1}},
		},
		{
			name: "workgroup over device limit",
			k:    DoubleKernel(1024),
		},
		{
			name: "device has no kernel for entry point",
			k:    DoubleKernel(8),
			opts: []software.Option{software.WithKernel("unrelated", software.ElementwiseU32(func(x uint32) uint32 { return x }))},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d *software.Device
			if tt.opts != nil {
				d = software.New(tt.opts...)
				t.Cleanup(func() { _ = d.Close() })
			} else {
				d = newDevice(t)
			}
			_, err := Run(context.Background(), d, SuccessiveArray(8), tt.k, DispatchPlan{1, 1, 1})
			if !errors.Is(err, ErrKernelCompile) {
				t.Fatalf("Run() error = %v, want ErrKernelCompile", err)
			}
			if c := d.Counts(); c.BuffersCreated != 0 {
				t.Errorf("BuffersCreated = %d, want 0", c.BuffersCreated)
			}
			assertReleased(t, d)
		})
	}
}

func TestRunInvalidJob(t *testing.T) {
	tests := []struct {
		name  string
		input []uint32
		k     KernelSpec
		plan  DispatchPlan
	}{
		{"empty input", nil, DoubleKernel(8), DispatchPlan{1, 1, 1}},
		{"zero workgroup", SuccessiveArray(4), DoubleKernel(0), DispatchPlan{1, 1, 1}},
		{"zero plan axis", SuccessiveArray(4), DoubleKernel(4), DispatchPlan{1, 0, 1}},
		{"no entry point", SuccessiveArray(4), KernelSpec{Source: doubleSource, WorkgroupSize: [3]uint32{4, 1, 1}}, DispatchPlan{1, 1, 1}},
		{"plan over device limit", SuccessiveArray(4), DoubleKernel(4), DispatchPlan{70000, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDevice(t)
			_, err := Run(context.Background(), d, tt.input, tt.k, tt.plan)
			if !errors.Is(err, ErrInvalidJob) {
				t.Fatalf("Run() error = %v, want ErrInvalidJob", err)
			}
			if c := d.Counts(); c.BuffersCreated != 0 || c.ShaderModules != 0 {
				t.Errorf("device touched before validation: %+v", c)
			}
		})
	}
}

func TestRunMappingAbandoned(t *testing.T) {
	var (
		dev          atomic.Pointer[software.Device]
		ran          atomic.Int32
		retiredInRun atomic.Int32
	)
	d := newDevice(t,
		software.WithLatency(300*time.Millisecond),
		software.WithKernel(DoubleEntryPoint, func(inv software.Invocation, b *software.Bindings) {
			if ran.Add(1) == 1 {
				retiredInRun.Store(int32(dev.Load().Counts().Retired))
			}
			software.Double(inv, b)
		}))
	dev.Store(d)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := Run(ctx, d, SuccessiveArray(8), DoubleKernel(8), DispatchPlan{1, 1, 1})
	if !errors.Is(err, ErrMappingFailed) {
		t.Fatalf("Run() error = %v, want ErrMappingFailed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want it to wrap DeadlineExceeded", err)
	}
	if out != nil {
		t.Errorf("Run() returned partial output %v", out)
	}

	// Every ID is gone, but the queued submission still owns its objects.
	c := d.Counts()
	if c.Buffers != 0 || c.Pipelines != 0 || c.BindGroups != 0 || c.ShaderModules != 0 {
		t.Errorf("Counts() after Run = %+v, want no live IDs", c)
	}
	if c.Retired == 0 || c.BytesInUse == 0 {
		t.Errorf("Counts() after Run = %+v, want buffers kept for the queued submission", c)
	}
	if n := ran.Load(); n != 0 {
		t.Fatalf("%d invocations ran before Run returned", n)
	}

	deadline := time.Now().Add(5 * time.Second)
	for d.Counts().Retired > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Counts() = %+v, resources never released", d.Counts())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := ran.Load(); n != 8 {
		t.Errorf("invocations = %d, want 8", n)
	}
	if n := retiredInRun.Load(); n == 0 {
		t.Error("resources were released before the kernel ran")
	}
	if c := d.Counts(); c.BytesInUse != 0 {
		t.Errorf("Counts().BytesInUse = %d after release, want 0", c.BytesInUse)
	}
	assertReleased(t, d)
}

// shaderRecorder keeps the shader module descriptors a job submits.
type shaderRecorder struct {
	*software.Device
	descs []gpucore.ShaderModuleDesc
}

func (d *shaderRecorder) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	d.descs = append(d.descs, *desc)
	return d.Device.CreateShaderModule(desc)
}

func TestRunHandsDeviceSPIRV(t *testing.T) {
	d := &shaderRecorder{Device: newDevice(t)}
	for range 2 {
		if _, err := Run(context.Background(), d, SuccessiveArray(4), DoubleKernel(4), DispatchPlan{1, 1, 1}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	if len(d.descs) != 2 {
		t.Fatalf("CreateShaderModule called %d times, want 2", len(d.descs))
	}
	for i, desc := range d.descs {
		if desc.WGSL == "" {
			t.Errorf("module %d has no WGSL", i)
		}
		if len(desc.SPIRV) < 5 || desc.SPIRV[0] != 0x07230203 {
			t.Errorf("module %d SPIR-V is not a SPIR-V module (%d words)", i, len(desc.SPIRV))
		}
	}
	if &d.descs[0].SPIRV[0] != &d.descs[1].SPIRV[0] {
		t.Error("cached kernel generated SPIR-V twice")
	}
	assertReleased(t, d.Device)
}

// leakyDevice fails every buffer release after performing it.
type leakyDevice struct {
	*software.Device
}

func (d leakyDevice) DestroyBuffer(id gpucore.BufferID) error {
	if err := d.Device.DestroyBuffer(id); err != nil {
		return err
	}
	return fmt.Errorf("buffer %d: release reported failure", id)
}

func TestRunReleaseErrorsAreLogged(t *testing.T) {
	var logs bytes.Buffer
	r := NewRunner(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	d := newDevice(t)

	got, err := r.Run(context.Background(), leakyDevice{d}, []uint32{3}, DoubleKernel(1), DispatchPlan{1, 1, 1})
	if err != nil {
		t.Fatalf("Run() error = %v, release failures must not fail the job", err)
	}
	if diff := cmp.Diff([]uint32{6}, got); diff != "" {
		t.Errorf("Run() mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(logs.String(), "resource release failed") || !strings.Contains(logs.String(), "errors=3") {
		t.Errorf("release failures not logged as one aggregate, got: %s", logs.String())
	}
	assertReleased(t, d)
}

func TestRunConcurrentJobs(t *testing.T) {
	d := newDevice(t)
	r := NewRunner(WithLabel("concurrent"))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			input := SuccessiveArray(10 * (i + 1))
			got, err := r.Run(context.Background(), d, input, DoubleKernel(16), PlanFor(len(input), 16))
			if err != nil {
				errs <- err
				return
			}
			if diff := cmp.Diff(doubled(input), got); diff != "" {
				errs <- fmt.Errorf("job %d mismatch (-want +got):\n%s", i, diff)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assertReleased(t, d)
}

func TestJobError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&JobError{Kind: ErrMappingFailed, Stage: StageSubmit, Label: "double", Err: cause})

	if !errors.Is(err, ErrMappingFailed) {
		t.Error("errors.Is(err, ErrMappingFailed) = false")
	}
	if errors.Is(err, ErrKernelCompile) {
		t.Error("errors.Is(err, ErrKernelCompile) = true, kinds must be distinct")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if got, want := err.Error(), "compute: mapping failed [double] at submit: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &JobError{Kind: ErrDeviceUnavailable, Stage: StageDevice}
	if got, want := bare.Error(), "compute: device unavailable at device"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
