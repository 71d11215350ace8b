// Package codegen is the seam towards the final instruction encoder: the
// component mapping the legal, register-allocated instruction stream to
// 64-bit machine words. Encoders register themselves here, mirroring how
// front ends register with the precompiler.
package codegen

import (
	"fmt"
	"sync"

	"github.com/vc4go/vc4cc/internal/ir"
)

// Encoder turns a fully lowered module into the little-endian 64-bit
// instruction words of the output binary.
type Encoder interface {
	Encode(module *ir.Module) ([]byte, error)
}

var (
	encodersMu sync.RWMutex
	encoders   = make(map[string]Encoder)
)

// RegisterEncoder wires an encoder implementation into the compiler. It
// panics when attempting to register the same name twice so mistakes are
// caught during init.
func RegisterEncoder(name string, encoder Encoder) {
	if name == "" {
		panic("codegen: encoder name must be non-empty")
	}
	if encoder == nil {
		panic("codegen: encoder must be non-nil")
	}
	encodersMu.Lock()
	defer encodersMu.Unlock()
	if _, exists := encoders[name]; exists {
		panic(fmt.Sprintf("codegen: encoder %q already registered", name))
	}
	encoders[name] = encoder
}

// LookupEncoder returns the registered encoder with the given name.
func LookupEncoder(name string) (Encoder, error) {
	encodersMu.RLock()
	defer encodersMu.RUnlock()
	if encoder, ok := encoders[name]; ok {
		return encoder, nil
	}
	return nil, fmt.Errorf("codegen: no encoder %q registered", name)
}
