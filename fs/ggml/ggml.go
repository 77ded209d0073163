// Package ggml - GGUF-Container fuer den quantisierten Export
//
// Hauptkomponenten:
// - KV: Metadaten mit typisierten Gettern
// - Tensor: Tensor-Beschreibung mit lazy WriterTo
// - WriteGGUF: Schreibt GGUF v3
// - Decode: Liest Header, KV und Tensor-Infos
package ggml

import (
	"fmt"
	"io"
	"iter"
	"maps"
	"math"
	"strings"
)

// KV - Key-Value Map fuer GGUF Metadaten
// Schluessel ohne "general.", "tokenizer.", "adapter." oder "export." Prefix
// werden beim Schreiben mit der Architektur versehen.
type KV map[string]any

// Architecture - Gibt die Modell-Architektur zurueck
func (kv KV) Architecture() string {
	return kv.String("general.architecture", "unknown")
}

// FileType - Gibt den Dateityp zurueck
func (kv KV) FileType() FileType {
	if t, ok := kv["general.file_type"].(FileType); ok {
		return t
	}
	if t, ok := kv["general.file_type"].(uint32); ok {
		return FileType(t)
	}
	return FileTypeUnknown
}

// Len - Anzahl der Eintraege
func (kv KV) Len() int {
	return len(kv)
}

// Keys - Gibt alle Schluessel zurueck
func (kv KV) Keys() iter.Seq[string] {
	return maps.Keys(kv)
}

// Value - Gibt einen Wert zurueck
func (kv KV) Value(key string) any {
	return kv[key]
}

// String - Gibt String-Wert zurueck
func (kv KV) String(key string, defaultValue ...string) string {
	val, _ := keyValue(kv, key, append(defaultValue, "")...)
	return val
}

// Uint - Gibt uint32-Wert zurueck
func (kv KV) Uint(key string, defaultValue ...uint32) uint32 {
	val, _ := keyValue(kv, key, append(defaultValue, 0)...)
	return val
}

// Float - Gibt float32-Wert zurueck
func (kv KV) Float(key string, defaultValue ...float32) float32 {
	val, _ := keyValue(kv, key, append(defaultValue, 0)...)
	return val
}

// Strings - Gibt String-Array zurueck
func (kv KV) Strings(key string, defaultValue ...[]string) []string {
	val, _ := keyValue(kv, key, append(defaultValue, []string(nil))...)
	return val
}

// Uints - Gibt uint32-Array zurueck
func (kv KV) Uints(key string, defaultValue ...[]uint32) []uint32 {
	val, _ := keyValue(kv, key, append(defaultValue, []uint32(nil))...)
	return val
}

type valueTypes interface {
	uint8 | int8 | uint16 | int16 |
		uint32 | int32 | uint64 | int64 |
		string | float32 | float64 | bool
}

type arrayValueTypes interface {
	[]uint8 | []int8 | []uint16 | []int16 |
		[]uint32 | []int32 | []uint64 | []int64 |
		[]string | []float32 | []float64 | []bool
}

// keyValue - Generische Funktion zum Abrufen von Werten aus KV
func keyValue[T valueTypes | arrayValueTypes](kv KV, key string, defaultValue ...T) (T, bool) {
	if !hasReservedPrefix(key) {
		key = kv.Architecture() + "." + key
	}

	if val, ok := kv[key].(T); ok {
		return val, true
	}
	return defaultValue[0], false
}

func hasReservedPrefix(key string) bool {
	for _, prefix := range []string{"general.", "tokenizer.", "adapter.", "export."} {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Tensor beschreibt einen GGUF-Tensor
// Shape ist in ggml-Reihenfolge (innerste Dimension zuerst).
type Tensor struct {
	Name   string `json:"name"`
	Kind   uint32 `json:"kind"`
	Offset uint64 `json:"-"`

	// Shape ist die Anzahl der Elemente in jeder Dimension
	Shape []uint64 `json:"shape"`

	io.WriterTo `json:"-"`
}

// block extrahiert die Block-Nummer aus dem Tensor-Namen
func (t Tensor) block() (n int) {
	if _, err := fmt.Sscanf(t.Name, "blk.%d.", &n); err != nil {
		return math.MaxInt
	}
	return
}

// Elements gibt die Anzahl der Elemente zurueck
func (t Tensor) Elements() uint64 {
	var count uint64 = 1
	for _, n := range t.Shape {
		count *= n
	}
	return count
}

// Size gibt die Groesse des Tensors in Bytes zurueck
func (t Tensor) Size() uint64 {
	kind := TensorType(t.Kind)
	return t.Elements() * kind.TypeSize() / kind.BlockSize()
}

// Type gibt den Typ-Namen als String zurueck
func (t Tensor) Type() string {
	return TensorType(t.Kind).String()
}
