package kernel

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"
)

// SPIRV returns SPIR-V words for the prepared module. The module is
// already validated, so only code generation runs, once per Prepared.
// The returned slice is shared and must not be modified.
func (p *Prepared) SPIRV() ([]uint32, error) {
	p.spirvOnce.Do(func() {
		code, err := naga.GenerateSPIRV(p.module, spirv.Options{Version: spirv.Version1_3})
		if err != nil {
			p.spirvErr = fmt.Errorf("%w: SPIR-V generation: %w", ErrInvalidSource, err)
			return
		}
		p.spirv = words(code)
	})
	return p.spirv, p.spirvErr
}

// CompileSPIRV compiles WGSL source straight to SPIR-V words.
func CompileSPIRV(src string) ([]uint32, error) {
	code, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	return words(code), nil
}

// words packs little-endian SPIR-V bytes into 32-bit words.
func words(code []byte) []uint32 {
	out := make([]uint32, len(code)/4)
	for i := range out {
		out[i] = uint32(code[i*4]) |
			uint32(code[i*4+1])<<8 |
			uint32(code[i*4+2])<<16 |
			uint32(code[i*4+3])<<24
	}
	return out
}
