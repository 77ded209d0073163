// writer.go - Streaming Safetensors Writer
// Hauptfunktionen: Write, Float32Tensor
package safetensors

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
)

// Tensor ist ein zu schreibender Tensor
// WriterTo muss genau Elements*DType.Size() Bytes schreiben.
type Tensor struct {
	Name  string
	DType DType
	Shape []int64

	io.WriterTo
}

// Float32Tensor erstellt einen Tensor aus float32-Daten, kodiert als dtype
func Float32Tensor(name string, dtype DType, shape []int64, data []float32) Tensor {
	return Tensor{Name: name, DType: dtype, Shape: shape, WriterTo: encoder{dtype, data}}
}

type encoder struct {
	dtype DType
	data  []float32
}

func (e encoder) WriteTo(w io.Writer) (int64, error) {
	bts, err := Encode(e.dtype, e.data)
	if err != nil {
		return 0, err
	}

	n, err := w.Write(bts)
	return int64(n), err
}

func (t Tensor) size() int64 {
	n := int64(t.DType.Size())
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Write schreibt Tensoren (nach Namen sortiert) mit optionalen Metadaten
func Write(w io.Writer, ts []Tensor, metadata map[string]string) error {
	slices.SortFunc(ts, func(a, b Tensor) int {
		return cmp.Compare(a.Name, b.Name)
	})

	header := make(map[string]any, len(ts)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = maps.Clone(metadata)
	}

	var offset int64
	for _, t := range ts {
		if t.DType.Size() == 0 {
			return fmt.Errorf("safetensors: %s: unsupported dtype %q", t.Name, t.DType)
		}

		shape := t.Shape
		if shape == nil {
			shape = []int64{}
		}

		header[t.Name] = TensorInfo{DType: t.DType, Shape: shape, Offsets: [2]int64{offset, offset + t.size()}}
		offset += t.size()
	}

	bts, err := json.Marshal(header)
	if err != nil {
		return err
	}

	// Header wird mit Leerzeichen auf 8 Bytes ausgerichtet
	if pad := (8 - len(bts)%8) % 8; pad > 0 {
		bts = append(bts, bytes.Repeat([]byte(" "), pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(bts))); err != nil {
		return err
	}

	if _, err := w.Write(bts); err != nil {
		return err
	}

	for _, t := range ts {
		n, err := t.WriteTo(w)
		if err != nil {
			return fmt.Errorf("safetensors: write %s: %w", t.Name, err)
		}

		if n != t.size() {
			return fmt.Errorf("safetensors: %s: wrote %d bytes, expected %d", t.Name, n, t.size())
		}
	}

	return nil
}
