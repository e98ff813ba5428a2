package software

import "errors"

// Software device errors.
var (
	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("software: device closed")

	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("software: unknown resource")

	// ErrUsage is returned when an operation is not allowed by a buffer's usage.
	ErrUsage = errors.New("software: buffer usage does not allow operation")

	// ErrOutOfRange is returned when an offset or size falls outside a buffer.
	ErrOutOfRange = errors.New("software: range out of bounds")

	// ErrOutOfMemory is returned when an allocation exceeds the memory budget.
	ErrOutOfMemory = errors.New("software: out of memory")

	// ErrNoKernel is returned when no Go kernel is registered for an entry point.
	ErrNoKernel = errors.New("software: no kernel registered for entry point")

	// ErrLayout is returned when a bind group does not match the pipeline's bindings.
	ErrLayout = errors.New("software: bind group does not match pipeline layout")

	// ErrEncoderState is returned when commands are recorded out of order.
	ErrEncoderState = errors.New("software: invalid encoder state")

	// ErrBufferMapped is returned when a mapped buffer is written or used by
	// submitted work.
	ErrBufferMapped = errors.New("software: buffer is mapped or mapping is pending")

	// ErrNotMapped is returned when unmapping a buffer that is not mapped.
	ErrNotMapped = errors.New("software: buffer is not mapped")

	// ErrDeviceLost is returned by MapRead when the work it waited for failed.
	ErrDeviceLost = errors.New("software: device lost")
)
