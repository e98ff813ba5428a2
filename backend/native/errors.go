package native

import "errors"

// Native device errors.
var (
	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("native: device closed")

	// ErrNoAdapter is returned when the HAL backend is unavailable or has
	// no adapters.
	ErrNoAdapter = errors.New("native: no GPU adapter available")

	// ErrNoHAL is returned by FromProvider when the host does not expose
	// HAL objects.
	ErrNoHAL = errors.New("native: provider does not expose a HAL device")

	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("native: unknown resource")

	// ErrUsage is returned when an operation is not allowed by a buffer's usage.
	ErrUsage = errors.New("native: buffer usage does not allow operation")

	// ErrOutOfRange is returned when an offset or size falls outside a buffer.
	ErrOutOfRange = errors.New("native: range out of bounds")

	// ErrLayout is returned when bindings do not fit the pipeline layout.
	ErrLayout = errors.New("native: bind group does not match pipeline layout")

	// ErrEncoderState is returned when commands are recorded out of order.
	ErrEncoderState = errors.New("native: invalid encoder state")

	// ErrBufferMapped is returned when a mapped buffer is written or used by
	// submitted work.
	ErrBufferMapped = errors.New("native: buffer is mapped or mapping is pending")

	// ErrNotMapped is returned when unmapping a buffer that is not mapped.
	ErrNotMapped = errors.New("native: buffer is not mapped")
)
