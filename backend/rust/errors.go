package rust

import "errors"

// Package errors for the rust backend.
var (
	// ErrNotCompiled is returned by the factory when the package was built
	// without the rust tag.
	ErrNotCompiled = errors.New("rust: backend not compiled in (build with -tags rust)")

	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("rust: device closed")

	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("rust: no GPU adapter available")

	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("rust: unknown resource")

	// ErrUsage is returned when an operation is not allowed by a buffer's usage.
	ErrUsage = errors.New("rust: buffer usage does not allow operation")

	// ErrOutOfRange is returned when an offset or size falls outside a buffer.
	ErrOutOfRange = errors.New("rust: range out of bounds")

	// ErrEncoderState is returned when commands are recorded out of order.
	ErrEncoderState = errors.New("rust: invalid encoder state")

	// ErrBufferMapped is returned when a mapped buffer is written or mapped again.
	ErrBufferMapped = errors.New("rust: buffer is mapped or mapping is pending")

	// ErrNotMapped is returned when unmapping a buffer that is not mapped.
	ErrNotMapped = errors.New("rust: buffer is not mapped")

	// ErrMapFailed is returned when wgpu-native reports a failed mapping.
	ErrMapFailed = errors.New("rust: buffer mapping failed")
)
