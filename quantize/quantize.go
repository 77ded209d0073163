// Package quantize - Block-Quantisierung fuer den GGUF-Export
//
// Hauptfunktionen:
// - ShouldQuantize: Entscheidet anhand von Name und Form ob quantisiert wird
// - TypeFor: Waehlt den Ziel-Typ eines Tensors
// - Encode / Decode: Wandelt float32 in ggml-Bloecke und zurueck
package quantize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bidyaai/bidya/fs/ggml"
	"github.com/bidyaai/bidya/safetensors"
)

// ErrBlockSize wird zurueckgegeben wenn die Elementanzahl nicht in Bloecke passt
var ErrBlockSize = errors.New("quantize: element count is not a multiple of the block size")

// minElements ist die Mindestgroesse quantisierter Tensoren
const minElements = 1024

// ShouldQuantize prueft ob ein Tensor quantisiert werden soll.
// Quantisiert werden nur 2-D Gewichte linearer Schichten; Embeddings,
// Normen, Biases, kleine Tensoren und Zeilen, die nicht in 32er Bloecke
// passen, bleiben unquantisiert.
func ShouldQuantize(name string, shape []uint64) bool {
	if strings.Contains(name, "embed") || strings.Contains(name, "embd") {
		return false
	}

	if strings.Contains(name, "norm") || strings.Contains(name, "ln_") || strings.Contains(name, "layernorm") {
		return false
	}

	if strings.HasSuffix(name, ".bias") || !strings.HasSuffix(name, ".weight") {
		return false
	}

	if len(shape) != 2 {
		return false
	}

	if shape[0]*shape[1] < minElements {
		return false
	}

	// letzte Dimension in PyTorch-Reihenfolge (Zeilenlaenge)
	return shape[1]%32 == 0
}

// TypeFor waehlt den Ziel-Typ fuer einen Tensor mit PyTorch-Form shape.
// Nicht quantisierbare 2-D Tensoren werden F16, alle anderen F32.
func TypeFor(name string, shape []uint64, want ggml.TensorType) ggml.TensorType {
	if want == ggml.TensorTypeF32 {
		return ggml.TensorTypeF32
	}

	if want.IsQuantized() && ShouldQuantize(name, shape) {
		return want
	}

	if len(shape) == 2 {
		if want == ggml.TensorTypeBF16 {
			return ggml.TensorTypeBF16
		}
		return ggml.TensorTypeF16
	}
	return ggml.TensorTypeF32
}

// Encode wandelt float32-Werte in die Byte-Darstellung von kind um
func Encode(kind ggml.TensorType, data []float32) ([]byte, error) {
	switch kind {
	case ggml.TensorTypeF32:
		return safetensors.Encode(safetensors.F32, data)
	case ggml.TensorTypeF16:
		return safetensors.Encode(safetensors.F16, data)
	case ggml.TensorTypeBF16:
		return safetensors.Encode(safetensors.BF16, data)
	case ggml.TensorTypeQ4_0:
		if len(data)%blockSize != 0 {
			return nil, fmt.Errorf("%w: %d", ErrBlockSize, len(data))
		}
		return Q4_0(data), nil
	case ggml.TensorTypeQ8_0:
		if len(data)%blockSize != 0 {
			return nil, fmt.Errorf("%w: %d", ErrBlockSize, len(data))
		}
		return Q8_0(data), nil
	default:
		return nil, fmt.Errorf("quantize: unsupported tensor type %s", kind)
	}
}

// Decode wandelt Bytes von kind zurueck in float32
func Decode(kind ggml.TensorType, b []byte) ([]float32, error) {
	switch kind {
	case ggml.TensorTypeF32:
		return safetensors.Decode(safetensors.F32, b)
	case ggml.TensorTypeF16:
		return safetensors.Decode(safetensors.F16, b)
	case ggml.TensorTypeBF16:
		return safetensors.Decode(safetensors.BF16, b)
	case ggml.TensorTypeQ4_0:
		if len(b)%q4_0Size != 0 {
			return nil, fmt.Errorf("%w: %d bytes", ErrBlockSize, len(b))
		}
		return DequantizeQ4_0(b), nil
	case ggml.TensorTypeQ8_0:
		if len(b)%q8_0Size != 0 {
			return nil, fmt.Errorf("%w: %d bytes", ErrBlockSize, len(b))
		}
		return DequantizeQ8_0(b), nil
	default:
		return nil, fmt.Errorf("quantize: unsupported tensor type %s", kind)
	}
}
