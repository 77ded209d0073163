// tensor.go - Basisgewichte als lazy GGUF-Tensoren
// Gewichte mit LoRA-Anteil werden ganz gelesen und gemerged,
// alle anderen zeilenweise gestreamt und kodiert.

package convert

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/bidyaai/bidya/fs/ggml"
	"github.com/bidyaai/bidya/lora"
	"github.com/bidyaai/bidya/quantize"
	"github.com/bidyaai/bidya/safetensors"
)

// chunkElements begrenzt die Elemente pro gestreamtem Abschnitt
const chunkElements = 1 << 22

// sourceTensor ist ein Tensor des Basismodells unter seinem Transformers-Namen
type sourceTensor struct {
	base    *safetensors.Model
	adapter *lora.Adapter

	name  string
	dtype safetensors.DType
	// shape in PyTorch-Reihenfolge
	shape []uint64
	kind  ggml.TensorType
}

// passthroughTypes sind Ganzzahl-Typen, die unveraendert uebernommen werden
var passthroughTypes = map[safetensors.DType]ggml.TensorType{
	safetensors.I8:  ggml.TensorTypeI8,
	safetensors.I16: ggml.TensorTypeI16,
	safetensors.I32: ggml.TensorTypeI32,
	safetensors.I64: ggml.TensorTypeI64,
}

// parseTensors erzeugt die GGUF-Tensoren des Basismodells. Tensoren in
// unbekannten Typen werden uebersprungen.
func parseTensors(base *safetensors.Model, adapter *lora.Adapter, want ggml.TensorType, replacer *strings.Replacer) ([]*ggml.Tensor, error) {
	var ts []*ggml.Tensor
	for _, name := range base.Names() {
		info, _ := base.Info(name)

		shape := make([]uint64, len(info.Shape))
		for i, d := range info.Shape {
			shape[i] = uint64(d)
		}

		src := &sourceTensor{base: base, adapter: adapter, name: name, dtype: info.DType, shape: shape}
		ggufName := replacer.Replace(name)

		switch kind, ok := passthroughTypes[info.DType]; {
		case ok:
			if adapter.Has(name) {
				return nil, fmt.Errorf("%s: adapter targets %s tensor", name, info.DType)
			}
			src.kind = kind
		case info.DType.IsFloat():
			src.kind = quantize.TypeFor(ggufName, shape, want)
		default:
			slog.Warn("skipping tensor with unsupported dtype", "name", name, "dtype", info.DType)
			continue
		}

		// GGUF begrenzt Tensornamen auf 63 Bytes
		if len(ggufName) >= 64 {
			return nil, fmt.Errorf("%w: %s (%d bytes)", ErrTensorName, ggufName, len(ggufName))
		}

		slog.Debug("tensor", "name", name, "gguf", ggufName, "shape", shape, "kind", src.kind)
		ts = append(ts, &ggml.Tensor{
			Name:     ggufName,
			Kind:     uint32(src.kind),
			Shape:    slices.Clone(shape),
			WriterTo: src,
		})
	}

	return ts, nil
}

// rowLength ist die innerste Dimension, 1 fuer Skalare
func (t *sourceTensor) rowLength() uint64 {
	if len(t.shape) == 0 {
		return 1
	}
	return t.shape[len(t.shape)-1]
}

// WriteTo schreibt die kodierten Daten in der Zielform
func (t *sourceTensor) WriteTo(w io.Writer) (int64, error) {
	if _, ok := passthroughTypes[t.dtype]; ok {
		sr, err := t.base.Section(t.name)
		if err != nil {
			return 0, err
		}
		return io.Copy(w, sr)
	}

	if t.adapter.Has(t.name) {
		return t.writeMerged(w)
	}
	return t.writeStreamed(w)
}

func (t *sourceTensor) writeMerged(w io.Writer) (int64, error) {
	data, err := t.base.ReadFloat32(t.name)
	if err != nil {
		return 0, err
	}

	if _, err := t.adapter.Merge(t.name, t.shape, data); err != nil {
		return 0, err
	}

	bts, err := quantize.Encode(t.kind, data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", t.name, err)
	}

	n, err := w.Write(bts)
	return int64(n), err
}

func (t *sourceTensor) writeStreamed(w io.Writer) (int64, error) {
	sr, err := t.base.Section(t.name)
	if err != nil {
		return 0, err
	}

	row := t.rowLength()
	if row == 0 {
		return 0, nil
	}
	rows := max(1, chunkElements/row)
	buf := make([]byte, rows*row*uint64(t.dtype.Size()))

	var written int64
	for {
		n, err := io.ReadFull(sr, buf)
		if n > 0 {
			data, err := safetensors.Decode(t.dtype, buf[:n])
			if err != nil {
				return written, err
			}

			bts, err := quantize.Encode(t.kind, data)
			if err != nil {
				return written, fmt.Errorf("%s: %w", t.name, err)
			}

			m, err := w.Write(bts)
			written += int64(m)
			if err != nil {
				return written, err
			}
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return written, nil
		} else if err != nil {
			return written, err
		}
	}
}

// mergedTensor ist ein gemergtes Basisgewicht fuer model.safetensors
type mergedTensor struct {
	*sourceTensor
}

func (t mergedTensor) WriteTo(w io.Writer) (int64, error) {
	if !t.adapter.Has(t.name) {
		sr, err := t.base.Section(t.name)
		if err != nil {
			return 0, err
		}
		return io.Copy(w, sr)
	}

	data, err := t.base.ReadFloat32(t.name)
	if err != nil {
		return 0, err
	}

	if _, err := t.adapter.Merge(t.name, t.shape, data); err != nil {
		return 0, err
	}

	bts, err := safetensors.Encode(t.dtype, data)
	if err != nil {
		return 0, err
	}

	n, err := w.Write(bts)
	return int64(n), err
}

// mergedTensors gibt alle Basisgewichte in ihrem Originaltyp zurueck, gemerged wo der Adapter sie betrifft
func mergedTensors(base *safetensors.Model, adapter *lora.Adapter) []safetensors.Tensor {
	var ts []safetensors.Tensor
	for _, name := range base.Names() {
		info, _ := base.Info(name)

		shape := make([]uint64, len(info.Shape))
		for i, d := range info.Shape {
			shape[i] = uint64(d)
		}

		ts = append(ts, safetensors.Tensor{
			Name:  name,
			DType: info.DType,
			Shape: info.Shape,
			WriterTo: mergedTensor{&sourceTensor{
				base: base, adapter: adapter, name: name, dtype: info.DType, shape: shape,
			}},
		})
	}
	return ts
}
