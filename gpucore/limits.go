package gpucore

import (
	"errors"
	"fmt"
)

// Limit violation errors.
var (
	// ErrBufferTooLarge is returned when a buffer exceeds the device limit.
	ErrBufferTooLarge = errors.New("gpucore: buffer size exceeds device limit")

	// ErrWorkgroupCountZero is returned when any workgroup dimension is zero.
	ErrWorkgroupCountZero = errors.New("gpucore: workgroup count must be greater than zero")

	// ErrWorkgroupCountExceedsLimit is returned when workgroup count exceeds device limits.
	ErrWorkgroupCountExceedsLimit = errors.New("gpucore: workgroup count exceeds device limit")

	// ErrWorkgroupSizeExceedsLimit is returned when a workgroup is larger than the device allows.
	ErrWorkgroupSizeExceedsLimit = errors.New("gpucore: workgroup size exceeds device limit")
)

// Limits describes device capabilities relevant to compute jobs.
type Limits struct {
	// SupportsCompute indicates compute shader support.
	SupportsCompute bool

	// MaxWorkgroupSizeX is the maximum workgroup size in X dimension.
	MaxWorkgroupSizeX uint32

	// MaxWorkgroupSizeY is the maximum workgroup size in Y dimension.
	MaxWorkgroupSizeY uint32

	// MaxWorkgroupSizeZ is the maximum workgroup size in Z dimension.
	MaxWorkgroupSizeZ uint32

	// MaxWorkgroupInvocations is the maximum total invocations per workgroup.
	MaxWorkgroupInvocations uint32

	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64

	// MaxStorageBufferBindingSize is the maximum storage buffer binding size.
	MaxStorageBufferBindingSize uint64

	// MaxComputeWorkgroupsPerDimension is the maximum workgroups per dispatch dimension.
	MaxComputeWorkgroupsPerDimension uint32
}

// DefaultLimits returns the WebGPU default limits.
func DefaultLimits() Limits {
	return Limits{
		SupportsCompute:                  true,
		MaxWorkgroupSizeX:                256,
		MaxWorkgroupSizeY:                256,
		MaxWorkgroupSizeZ:                64,
		MaxWorkgroupInvocations:          256,
		MaxBufferSize:                    256 << 20,
		MaxStorageBufferBindingSize:      128 << 20,
		MaxComputeWorkgroupsPerDimension: 65535,
	}
}

// ValidateBufferSize checks a storage buffer size against the limits.
func (l Limits) ValidateBufferSize(size uint64) error {
	if l.MaxBufferSize != 0 && size > l.MaxBufferSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrBufferTooLarge, size, l.MaxBufferSize)
	}
	if l.MaxStorageBufferBindingSize != 0 && size > l.MaxStorageBufferBindingSize {
		return fmt.Errorf("%w: %d > %d bytes (storage binding)", ErrBufferTooLarge, size, l.MaxStorageBufferBindingSize)
	}
	return nil
}

// ValidateDispatch checks workgroup counts against the limits.
func (l Limits) ValidateDispatch(x, y, z uint32) error {
	for _, n := range [3]uint32{x, y, z} {
		if n == 0 {
			return ErrWorkgroupCountZero
		}
		if l.MaxComputeWorkgroupsPerDimension != 0 && n > l.MaxComputeWorkgroupsPerDimension {
			return fmt.Errorf("%w: %d > %d", ErrWorkgroupCountExceedsLimit, n, l.MaxComputeWorkgroupsPerDimension)
		}
	}
	return nil
}

// ValidateWorkgroupSize checks a workgroup size against the limits.
func (l Limits) ValidateWorkgroupSize(size [3]uint32) error {
	maxes := [3]uint32{l.MaxWorkgroupSizeX, l.MaxWorkgroupSizeY, l.MaxWorkgroupSizeZ}
	for i, n := range size {
		if maxes[i] != 0 && n > maxes[i] {
			return fmt.Errorf("%w: axis %d is %d > %d", ErrWorkgroupSizeExceedsLimit, i, n, maxes[i])
		}
	}
	total := uint64(size[0]) * uint64(size[1]) * uint64(size[2])
	if l.MaxWorkgroupInvocations != 0 && total > uint64(l.MaxWorkgroupInvocations) {
		return fmt.Errorf("%w: %d invocations > %d", ErrWorkgroupSizeExceedsLimit, total, l.MaxWorkgroupInvocations)
	}
	return nil
}
