// tensortype.go - GGML TensorType und FileType Definitionen
// Enthält: Tensor-Typen des Exports, Block- und Typgroessen, Parsing

package ggml

import (
	"fmt"
	"strings"
)

// TensorType ist äquivalent zu ggml_type für einzelne Tensor-Typen
// Die Werte entsprechen der GGUF-Nummerierung; nur exportierbare Typen sind benannt.
type TensorType uint32

const (
	TensorTypeF32  TensorType = 0
	TensorTypeF16  TensorType = 1
	TensorTypeQ4_0 TensorType = 2
	TensorTypeQ4_1 TensorType = 3
	TensorTypeQ5_0 TensorType = 6
	TensorTypeQ5_1 TensorType = 7
	TensorTypeQ8_0 TensorType = 8
	TensorTypeI8   TensorType = 24
	TensorTypeI16  TensorType = 25
	TensorTypeI32  TensorType = 26
	TensorTypeI64  TensorType = 27
	TensorTypeF64  TensorType = 28
	TensorTypeBF16 TensorType = 30
)

// ParseTensorType parst einen Export-Typ (z.B. "q4_0", "int4", "F16")
func ParseTensorType(s string) (TensorType, error) {
	switch strings.ToUpper(s) {
	case "F32":
		return TensorTypeF32, nil
	case "F16":
		return TensorTypeF16, nil
	case "BF16":
		return TensorTypeBF16, nil
	case "Q4_0", "INT4":
		return TensorTypeQ4_0, nil
	case "Q8_0", "INT8":
		return TensorTypeQ8_0, nil
	default:
		return 0, fmt.Errorf("unsupported quantization type %q (supported: q4_0, q8_0, f16, bf16, f32)", s)
	}
}

// BlockSize gibt die Anzahl der Elemente pro Block zurueck
func (t TensorType) BlockSize() uint64 {
	switch t {
	case TensorTypeQ4_0, TensorTypeQ4_1, TensorTypeQ5_0, TensorTypeQ5_1, TensorTypeQ8_0:
		return 32
	default:
		return 1
	}
}

// TypeSize gibt die Byte-Groesse pro Block zurueck
func (t TensorType) TypeSize() uint64 {
	switch t {
	case TensorTypeF32, TensorTypeI32:
		return 4
	case TensorTypeF16, TensorTypeBF16, TensorTypeI16:
		return 2
	case TensorTypeI8:
		return 1
	case TensorTypeI64, TensorTypeF64:
		return 8
	case TensorTypeQ4_0:
		return 2 + t.BlockSize()/2
	case TensorTypeQ4_1:
		return 2 + 2 + t.BlockSize()/2
	case TensorTypeQ5_0:
		return 2 + 4 + t.BlockSize()/2
	case TensorTypeQ5_1:
		return 2 + 2 + 4 + t.BlockSize()/2
	case TensorTypeQ8_0:
		return 2 + t.BlockSize()
	default:
		return 0
	}
}

// IsQuantized prüft ob der TensorType quantisiert ist
func (t TensorType) IsQuantized() bool {
	return t.BlockSize() > 1
}

// RowSize berechnet die Zeilengröße in Bytes
func (t TensorType) RowSize(ne uint64) uint64 {
	return t.TypeSize() * ne / t.BlockSize()
}

// FileType gibt den passenden general.file_type zurueck
func (t TensorType) FileType() FileType {
	switch t {
	case TensorTypeF32:
		return FileTypeF32
	case TensorTypeF16:
		return FileTypeF16
	case TensorTypeQ4_0:
		return FileTypeQ4_0
	case TensorTypeQ8_0:
		return FileTypeQ8_0
	case TensorTypeBF16:
		return FileTypeBF16
	default:
		return FileTypeUnknown
	}
}

// String gibt die String-Repräsentation des TensorType zurück
func (t TensorType) String() string {
	switch t {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	case TensorTypeQ4_0:
		return "Q4_0"
	case TensorTypeQ4_1:
		return "Q4_1"
	case TensorTypeQ5_0:
		return "Q5_0"
	case TensorTypeQ5_1:
		return "Q5_1"
	case TensorTypeQ8_0:
		return "Q8_0"
	case TensorTypeI8:
		return "I8"
	case TensorTypeI16:
		return "I16"
	case TensorTypeI32:
		return "I32"
	case TensorTypeI64:
		return "I64"
	case TensorTypeF64:
		return "F64"
	case TensorTypeBF16:
		return "BF16"
	default:
		return "unknown"
	}
}

// FileType ist der Go-Äquivalent zu llama_ftype für GGUF-Dateitypen
type FileType uint32

const (
	FileTypeF32     FileType = 0
	FileTypeF16     FileType = 1
	FileTypeQ4_0    FileType = 2
	FileTypeQ8_0    FileType = 7
	FileTypeBF16    FileType = 32
	FileTypeUnknown FileType = 1024
)

// String gibt den Namen des Dateityps zurueck
func (t FileType) String() string {
	switch t {
	case FileTypeF32:
		return "F32"
	case FileTypeF16:
		return "F16"
	case FileTypeQ4_0:
		return "Q4_0"
	case FileTypeQ8_0:
		return "Q8_0"
	case FileTypeBF16:
		return "BF16"
	default:
		return "unknown"
	}
}
