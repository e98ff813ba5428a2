package compute

import (
	"errors"
	"fmt"
)

// Job error kinds. Every *JobError matches exactly one of these with errors.Is.
var (
	// ErrDeviceUnavailable is returned when no device was supplied or the
	// device cannot run compute work. No resources are allocated.
	ErrDeviceUnavailable = errors.New("compute: device unavailable")

	// ErrKernelCompile is returned when the kernel source fails to render,
	// validate or compile, or the device rejects the pipeline.
	ErrKernelCompile = errors.New("compute: kernel compile failed")

	// ErrResourceExhausted is returned when a buffer cannot be allocated,
	// including requests above the device limits.
	ErrResourceExhausted = errors.New("compute: resource exhausted")

	// ErrMappingFailed is returned when the readback could not be produced:
	// the upload, encoding or submission failed, the host mapping failed,
	// or the caller's context ended while waiting for it.
	ErrMappingFailed = errors.New("compute: mapping failed")

	// ErrInvalidJob is returned for caller contract violations detected
	// before anything touches the device.
	ErrInvalidJob = errors.New("compute: invalid job")
)

// Job stages, as reported in JobError.Stage.
const (
	StageDevice   = "device"
	StageValidate = "validate"
	StagePipeline = "pipeline"
	StageAllocate = "allocate"
	StageUpload   = "upload"
	StageEncode   = "encode"
	StageSubmit   = "submit"
	StageReadback = "readback"
)

// JobError describes why a job failed.
type JobError struct {
	// Kind is one of the Err* sentinels of this package.
	Kind error

	// Stage names the job step that failed.
	Stage string

	// Label is the kernel label, if any.
	Label string

	// Err is the underlying cause. May be nil.
	Err error
}

func (e *JobError) Error() string {
	prefix := e.Kind.Error()
	if e.Label != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, e.Label)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s at %s", prefix, e.Stage)
	}
	return fmt.Sprintf("%s at %s: %v", prefix, e.Stage, e.Err)
}

// Unwrap returns the cause.
func (e *JobError) Unwrap() error { return e.Err }

// Is reports whether target is the error kind.
func (e *JobError) Is(target error) bool { return e.Kind == target }

func jobErr(kind error, stage, label string, err error) *JobError {
	return &JobError{Kind: kind, Stage: stage, Label: label, Err: err}
}
