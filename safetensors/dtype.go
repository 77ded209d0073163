// dtype.go - Safetensors Datentypen und Float-Konvertierung
// Hauptfunktionen: DType.Size, Decode, Encode
package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType ist der Datentyp-Name aus dem Safetensors-Header
type DType string

const (
	F64  DType = "F64"
	F32  DType = "F32"
	F16  DType = "F16"
	BF16 DType = "BF16"
	I64  DType = "I64"
	I32  DType = "I32"
	I16  DType = "I16"
	I8   DType = "I8"
	U8   DType = "U8"
	Bool DType = "BOOL"
)

// Size gibt die Bytes pro Element zurueck (0 fuer unbekannte Typen)
func (d DType) Size() int {
	switch d {
	case F64, I64:
		return 8
	case F32, I32:
		return 4
	case F16, BF16, I16:
		return 2
	case I8, U8, Bool:
		return 1
	default:
		return 0
	}
}

// IsFloat prueft ob der Typ in float32 dekodiert werden kann
func (d DType) IsFloat() bool {
	switch d {
	case F64, F32, F16, BF16:
		return true
	default:
		return false
	}
}

// Decode wandelt rohe Tensor-Bytes in float32 um
func Decode(d DType, bts []byte) ([]float32, error) {
	if size := d.Size(); size == 0 || len(bts)%size != 0 {
		return nil, fmt.Errorf("safetensors: cannot decode %d bytes as %s", len(bts), d)
	}

	switch d {
	case F32:
		f32s := make([]float32, len(bts)/4)
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(bts[i*4:]))
		}
		return f32s, nil
	case F16:
		f32s := make([]float32, len(bts)/2)
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(bts[i*2:])).Float32()
		}
		return f32s, nil
	case BF16:
		return bfloat16.DecodeFloat32(bts), nil
	case F64:
		f32s := make([]float32, len(bts)/8)
		for i := range f32s {
			f32s[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(bts[i*8:])))
		}
		return f32s, nil
	default:
		return nil, fmt.Errorf("safetensors: %s is not a float type", d)
	}
}

// Encode wandelt float32-Werte in rohe Bytes des Zieltyps um
func Encode(d DType, f32s []float32) ([]byte, error) {
	switch d {
	case F32:
		bts := make([]byte, len(f32s)*4)
		for i, f := range f32s {
			binary.LittleEndian.PutUint32(bts[i*4:], math.Float32bits(f))
		}
		return bts, nil
	case F16:
		bts := make([]byte, len(f32s)*2)
		for i, f := range f32s {
			binary.LittleEndian.PutUint16(bts[i*2:], float16.Fromfloat32(f).Bits())
		}
		return bts, nil
	case BF16:
		return bfloat16.EncodeFloat32(f32s), nil
	case F64:
		bts := make([]byte, len(f32s)*8)
		for i, f := range f32s {
			binary.LittleEndian.PutUint64(bts[i*8:], math.Float64bits(float64(f)))
		}
		return bts, nil
	default:
		return nil, fmt.Errorf("safetensors: cannot encode float32 as %s", d)
	}
}
