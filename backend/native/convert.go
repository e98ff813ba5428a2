package native

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/compute/gpucore"
)

// convertBufferUsage maps gpucore usage flags to gputypes. The bit values
// are the WebGPU ones on both sides, but the mapping stays explicit.
func convertBufferUsage(u gpucore.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	pairs := []struct {
		from gpucore.BufferUsage
		to   gputypes.BufferUsage
	}{
		{gpucore.BufferUsageMapRead, gputypes.BufferUsageMapRead},
		{gpucore.BufferUsageMapWrite, gputypes.BufferUsageMapWrite},
		{gpucore.BufferUsageCopySrc, gputypes.BufferUsageCopySrc},
		{gpucore.BufferUsageCopyDst, gputypes.BufferUsageCopyDst},
		{gpucore.BufferUsageUniform, gputypes.BufferUsageUniform},
		{gpucore.BufferUsageStorage, gputypes.BufferUsageStorage},
	}
	for _, p := range pairs {
		if u.Has(p.from) {
			out |= p.to
		}
	}
	return out
}

func convertBindingType(t gpucore.BindingType) (gputypes.BufferBindingType, error) {
	switch t {
	case gpucore.BindingTypeStorageBuffer:
		return gputypes.BufferBindingTypeStorage, nil
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		return gputypes.BufferBindingTypeReadOnlyStorage, nil
	case gpucore.BindingTypeUniformBuffer:
		return gputypes.BufferBindingTypeUniform, nil
	default:
		return 0, fmt.Errorf("%w: binding type %s", ErrLayout, t)
	}
}

// layoutEntries groups reflected bindings into bind group layout entries,
// one slice per group index up to the highest group used.
func layoutEntries(bindings []gpucore.Binding) ([][]gputypes.BindGroupLayoutEntry, error) {
	var groups [][]gputypes.BindGroupLayoutEntry
	for _, b := range bindings {
		if b.Group >= maxBindGroups {
			return nil, fmt.Errorf("%w: %s uses group %d, limit %d", ErrLayout, b.Name, b.Group, maxBindGroups)
		}
		typ, err := convertBindingType(b.Type)
		if err != nil {
			return nil, err
		}
		for uint32(len(groups)) <= b.Group {
			groups = append(groups, nil)
		}
		groups[b.Group] = append(groups[b.Group], gputypes.BindGroupLayoutEntry{
			Binding:    b.Binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		})
	}
	return groups, nil
}

// limitsFrom translates WebGPU limits into the subset jobs care about.
func limitsFrom(l gputypes.Limits) gpucore.Limits {
	return gpucore.Limits{
		SupportsCompute:                  true,
		MaxWorkgroupSizeX:                l.MaxComputeWorkgroupSizeX,
		MaxWorkgroupSizeY:                l.MaxComputeWorkgroupSizeY,
		MaxWorkgroupSizeZ:                l.MaxComputeWorkgroupSizeZ,
		MaxWorkgroupInvocations:          l.MaxComputeInvocationsPerWorkgroup,
		MaxBufferSize:                    l.MaxBufferSize,
		MaxStorageBufferBindingSize:      l.MaxStorageBufferBindingSize,
		MaxComputeWorkgroupsPerDimension: l.MaxComputeWorkgroupsPerDimension,
	}
}
