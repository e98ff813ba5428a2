package kernel

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/compute/gpucore"
)

const doubleSource = `
@group(0) @binding(0) var<storage, read_write> inputResult: array<u32>;
@group(0) @binding(1) var<storage, read_write> outputResult: array<u32>;

@compute @workgroup_size({{.WorkgroupSize}})
fn computeSomething(@builtin(global_invocation_id) gid: vec3<u32>) {
    outputResult[gid.x] = inputResult[gid.x] * 2u;
}
`

// readOnlyOutputSource never stores, so it passes validation and only the
// layout check can reject it.
const readOnlyOutputSource = `
@group(0) @binding(0) var<storage, read_write> inputResult: array<u32>;
@group(0) @binding(1) var<storage, read> outputResult: array<u32>;

@compute @workgroup_size({{.WorkgroupSize}})
fn computeSomething(@builtin(global_invocation_id) gid: vec3<u32>) {
    inputResult[gid.x] = outputResult[gid.x];
}
`

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		src  string
		wg   [3]uint32
		want string
	}{
		{"no actions", "fn main() {}", [3]uint32{64, 1, 1}, "fn main() {}"},
		{"workgroup size", "@workgroup_size({{.WorkgroupSize}})", [3]uint32{64, 1, 1}, "@workgroup_size(64, 1, 1)"},
		{"axes", "@workgroup_size({{.X}}, {{.Y}}, {{.Z}})", [3]uint32{8, 8, 1}, "@workgroup_size(8, 8, 1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.src, tt.wg)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderBadTemplate(t *testing.T) {
	_, err := Render("@workgroup_size({{.Missing}})", [3]uint32{1, 1, 1})
	if !errors.Is(err, ErrInvalidSource) {
		t.Errorf("Render() error = %v, want ErrInvalidSource", err)
	}
}

func TestPrepare(t *testing.T) {
	p, err := Prepare(doubleSource, "computeSomething", [3]uint32{64, 1, 1})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if p.EntryPoint != "computeSomething" {
		t.Errorf("EntryPoint = %q, want computeSomething", p.EntryPoint)
	}
	if p.WorkgroupSize != [3]uint32{64, 1, 1} {
		t.Errorf("WorkgroupSize = %v, want [64 1 1]", p.WorkgroupSize)
	}
	if !strings.Contains(p.Source, "@workgroup_size(64, 1, 1)") {
		t.Errorf("Source was not rendered: %s", p.Source)
	}

	want := []gpucore.Binding{
		{Name: "inputResult", Group: 0, Binding: 0, Type: gpucore.BindingTypeStorageBuffer},
		{Name: "outputResult", Group: 0, Binding: 1, Type: gpucore.BindingTypeStorageBuffer},
	}
	if diff := cmp.Diff(want, p.Bindings); diff != "" {
		t.Errorf("Bindings mismatch (-want +got):\n%s", diff)
	}
}

func TestPrepareReadOnlyInput(t *testing.T) {
	src := strings.Replace(doubleSource, "var<storage, read_write> inputResult", "var<storage, read> inputResult", 1)
	p, err := Prepare(src, "computeSomething", [3]uint32{32, 1, 1})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if got := p.Bindings[0].Type; got != gpucore.BindingTypeReadOnlyStorageBuffer {
		t.Errorf("input binding type = %v, want ReadOnlyStorage", got)
	}
}

func TestPrepareErrors(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		entryPoint string
		wg         [3]uint32
		wantErr    error
	}{
		{
			name:       "syntax error",
			src:        "@compute @workgroup_size(64) fn main( {",
			entryPoint: "main",
			wg:         [3]uint32{64, 1, 1},
			wantErr:    ErrInvalidSource,
		},
		{
			name:       "unknown entry point",
			src:        doubleSource,
			entryPoint: "doesNotExist",
			wg:         [3]uint32{64, 1, 1},
			wantErr:    ErrEntryPointNotFound,
		},
		{
			name:       "hardcoded workgroup size",
			src:        strings.Replace(doubleSource, "{{.WorkgroupSize}}", "128", 1),
			entryPoint: "computeSomething",
			wg:         [3]uint32{64, 1, 1},
			wantErr:    ErrWorkgroupMismatch,
		},
		{
			name:       "read-only output",
			src:        readOnlyOutputSource,
			entryPoint: "computeSomething",
			wg:         [3]uint32{64, 1, 1},
			wantErr:    ErrBindingLayout,
		},
		{
			name:       "output not bound",
			src:        strings.Replace(doubleSource, "@binding(1)", "@binding(2)", 1),
			entryPoint: "computeSomething",
			wg:         [3]uint32{64, 1, 1},
			wantErr:    ErrBindingLayout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prepare(tt.src, tt.entryPoint, tt.wg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Prepare() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPreparedSPIRV(t *testing.T) {
	p, err := Prepare(doubleSource, "computeSomething", [3]uint32{64, 1, 1})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	code, err := p.SPIRV()
	if err != nil {
		t.Fatalf("SPIRV() error = %v", err)
	}
	if len(code) < 5 {
		t.Fatalf("SPIRV() returned %d words, want a full header", len(code))
	}
	if code[0] != 0x07230203 {
		t.Errorf("SPIR-V magic = 0x%08x, want 0x07230203", code[0])
	}

	again, err := p.SPIRV()
	if err != nil {
		t.Fatalf("second SPIRV() error = %v", err)
	}
	if &again[0] != &code[0] {
		t.Error("second SPIRV() generated the module again")
	}
}

func TestWords(t *testing.T) {
	got := words([]byte{0x03, 0x02, 0x23, 0x07, 0x01, 0x00, 0x00, 0x00})
	want := []uint32{0x07230203, 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("words() mismatch (-want +got):\n%s", diff)
	}
}
