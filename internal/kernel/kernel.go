// Package kernel prepares WGSL compute kernels for dispatch.
//
// Preparation renders the workgroup size into the source, runs the naga
// front end (parse, lower, validate) and reflects what the runner needs:
// the compute entry point, its declared workgroup size and the storage
// bindings of group 0.
package kernel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/compute/gpucore"
)

// Kernel errors.
var (
	// ErrInvalidSource is returned when the WGSL source fails to render,
	// parse, lower or validate.
	ErrInvalidSource = errors.New("kernel: invalid source")

	// ErrEntryPointNotFound is returned when the source has no compute
	// entry point with the requested name.
	ErrEntryPointNotFound = errors.New("kernel: compute entry point not found")

	// ErrWorkgroupMismatch is returned when the entry point declares a
	// workgroup size different from the requested one.
	ErrWorkgroupMismatch = errors.New("kernel: declared workgroup size does not match")

	// ErrBindingLayout is returned when group 0 does not hold exactly the
	// input and output storage buffers.
	ErrBindingLayout = errors.New("kernel: unsupported binding layout")
)

// Slots the runner binds its two buffers to, in group 0.
const (
	InputBinding  uint32 = 0
	OutputBinding uint32 = 1
)

// Prepared is a rendered, validated kernel ready for pipeline creation.
type Prepared struct {
	// Source is the rendered WGSL.
	Source string

	// EntryPoint is the compute entry point name.
	EntryPoint string

	// WorkgroupSize is the declared @workgroup_size.
	WorkgroupSize [3]uint32

	// Bindings are the group-0 buffer bindings, sorted by binding index.
	Bindings []gpucore.Binding

	module *ir.Module

	spirvOnce sync.Once
	spirv     []uint32
	spirvErr  error
}

// templateData is what the workgroup-size template actions see.
type templateData struct {
	X, Y, Z       uint32
	WorkgroupSize string
}

// Render substitutes the workgroup size into src.
//
// Recognized actions are {{.X}}, {{.Y}}, {{.Z}} and {{.WorkgroupSize}}
// (which expands to "x, y, z"). Sources without actions are returned as-is.
func Render(src string, wg [3]uint32) (string, error) {
	if !strings.Contains(src, "{{") {
		return src, nil
	}
	tmpl, err := template.New("kernel").Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: template: %w", ErrInvalidSource, err)
	}
	data := templateData{
		X: wg[0], Y: wg[1], Z: wg[2],
		WorkgroupSize: fmt.Sprintf("%d, %d, %d", wg[0], wg[1], wg[2]),
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("%w: template: %w", ErrInvalidSource, err)
	}
	return b.String(), nil
}

// Prepare renders src with wg, compiles it through the naga front end and
// reflects the entry point and its bindings.
func Prepare(src, entryPoint string, wg [3]uint32) (*Prepared, error) {
	rendered, err := Render(src, wg)
	if err != nil {
		return nil, err
	}

	module, err := frontEnd(rendered)
	if err != nil {
		return nil, err
	}

	ep, err := findEntryPoint(module, entryPoint)
	if err != nil {
		return nil, err
	}
	if ep.Workgroup != wg {
		return nil, fmt.Errorf("%w: %s declares %v, want %v", ErrWorkgroupMismatch, ep.Name, ep.Workgroup, wg)
	}

	bindings, err := reflectBindings(module)
	if err != nil {
		return nil, err
	}
	if err := checkLayout(bindings); err != nil {
		return nil, err
	}

	return &Prepared{
		Source:        rendered,
		EntryPoint:    ep.Name,
		WorkgroupSize: ep.Workgroup,
		Bindings:      bindings,
		module:        module,
	}, nil
}

// frontEnd parses, lowers and validates WGSL.
func frontEnd(src string) (*ir.Module, error) {
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, fmt.Errorf("%w: lowering: %w", ErrInvalidSource, err)
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("%w: validation: %w", ErrInvalidSource, err)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("%w: validation: %w", ErrInvalidSource, &verrs[0])
	}
	return module, nil
}

func findEntryPoint(module *ir.Module, name string) (*ir.EntryPoint, error) {
	var names []string
	for i := range module.EntryPoints {
		ep := &module.EntryPoints[i]
		if ep.Stage != ir.StageCompute {
			continue
		}
		if ep.Name == name {
			return ep, nil
		}
		names = append(names, ep.Name)
	}
	return nil, fmt.Errorf("%w: %q (compute entry points: %v)", ErrEntryPointNotFound, name, names)
}

// reflectBindings collects group-0 buffer bindings with their access mode.
func reflectBindings(module *ir.Module) ([]gpucore.Binding, error) {
	var out []gpucore.Binding
	for _, gv := range module.GlobalVariables {
		if gv.Binding == nil || gv.Binding.Group != 0 {
			continue
		}
		b := gpucore.Binding{
			Name:    gv.Name,
			Group:   gv.Binding.Group,
			Binding: gv.Binding.Binding,
		}
		switch gv.Space {
		case ir.SpaceStorage:
			if gv.Access == ir.StorageRead {
				b.Type = gpucore.BindingTypeReadOnlyStorageBuffer
			} else {
				b.Type = gpucore.BindingTypeStorageBuffer
			}
		case ir.SpaceUniform:
			b.Type = gpucore.BindingTypeUniformBuffer
		default:
			return nil, fmt.Errorf("%w: %s at @binding(%d) is not a buffer", ErrBindingLayout, gv.Name, gv.Binding.Binding)
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Binding < out[j].Binding })
	return out, nil
}

// checkLayout requires group 0 to be exactly {input @0, output @1}, with a
// writable output.
func checkLayout(bindings []gpucore.Binding) error {
	if len(bindings) != 2 {
		return fmt.Errorf("%w: group 0 has %d bindings, want 2", ErrBindingLayout, len(bindings))
	}
	in, out := bindings[0], bindings[1]
	if in.Binding != InputBinding || out.Binding != OutputBinding {
		return fmt.Errorf("%w: bindings are @%d and @%d, want @%d and @%d",
			ErrBindingLayout, in.Binding, out.Binding, InputBinding, OutputBinding)
	}
	if in.Type == gpucore.BindingTypeUniformBuffer {
		return fmt.Errorf("%w: input %s must be a storage buffer", ErrBindingLayout, in.Name)
	}
	if out.Type != gpucore.BindingTypeStorageBuffer {
		return fmt.Errorf("%w: output %s must be a read_write storage buffer", ErrBindingLayout, out.Name)
	}
	return nil
}
