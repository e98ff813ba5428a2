//go:build !rust

package rust

import (
	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/gpucore"
)

// init registers a failing factory when the rust tag is not set, so
// selecting the backend by name reports why it is unavailable and
// InitDefault moves on to the next backend.
func init() {
	backend.Register(backend.BackendRust, func() (gpucore.Device, error) {
		return nil, ErrNotCompiled
	})
}
