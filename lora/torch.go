// torch.go - adapter_model.bin (PyTorch Pickle) laden

package lora

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

func loadTorch(p string) (map[string]*matrix, error) {
	pt, err := pytorch.Load(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}

	dict, ok := pt.(*types.Dict)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected checkpoint type %T", p, pt)
	}

	tensors := make(map[string]*matrix)
	for _, k := range dict.Keys() {
		name, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected key type %T", p, k)
		}

		t, ok := dict.MustGet(k).(*pytorch.Tensor)
		if !ok {
			return nil, fmt.Errorf("%s: %s is not a tensor", p, name)
		}

		data, err := torchData(t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		tensors[name] = &matrix{shape: append([]int(nil), t.Size...), data: data}
	}
	return tensors, nil
}

// torchData kopiert die Elemente eines Tensors in row-major Reihenfolge
func torchData(t *pytorch.Tensor) ([]float32, error) {
	var storage []float32
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		storage = s.Data
	case *pytorch.HalfStorage:
		storage = s.Data
	case *pytorch.BFloat16Storage:
		storage = s.Data
	default:
		return nil, fmt.Errorf("unsupported storage %T", t.Source)
	}

	n := 1
	for _, d := range t.Size {
		n *= d
	}

	out := make([]float32, n)
	index := make([]int, len(t.Size))
	for i := range out {
		off := t.StorageOffset
		for d, j := range index {
			off += j * t.Stride[d]
		}
		if off >= len(storage) {
			return nil, fmt.Errorf("storage offset %d out of range", off)
		}
		out[i] = storage[off]

		for d := len(index) - 1; d >= 0; d-- {
			if index[d]++; index[d] < t.Size[d] {
				break
			}
			index[d] = 0
		}
	}
	return out, nil
}
