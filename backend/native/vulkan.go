//go:build !nogpu

package native

// Register the Vulkan HAL so Open can find it. Build with -tags nogpu to
// leave it out; Open then reports ErrNoAdapter.
import _ "github.com/gogpu/wgpu/hal/vulkan"
