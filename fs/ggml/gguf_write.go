// gguf_write.go - GGUF v3 Writer
// Hauptfunktionen:
// - WriteGGUF: Schreibt KV-Metadaten, Tensor-Infos und Tensor-Daten
// - Tensor-Daten werden parallel an ihre Offsets geschrieben

package ggml

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bidyaai/bidya/envconfig"
	"github.com/bidyaai/bidya/logutil"
)

// ErrNoArchitecture wird zurückgegeben wenn general.architecture fehlt
var ErrNoArchitecture = errors.New("ggml: architecture not set")

// WriteGGUF schreibt eine GGUF v3 Datei
// Die Tensoren werden nach Block und Name sortiert, ihre Offsets gesetzt.
func WriteGGUF(f *os.File, kv KV, ts []*Tensor) error {
	arch := kv.String("general.architecture")
	if arch == "" {
		return ErrNoArchitecture
	}

	if _, err := f.Write([]byte(ggufMagic)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(3)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint64(len(ts))); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint64(kv.Len())); err != nil {
		return err
	}

	for _, key := range slices.Sorted(kv.Keys()) {
		if err := ggufWriteKV(f, arch, key, kv.Value(key)); err != nil {
			return err
		}
	}

	slices.SortStableFunc(ts, func(a, b *Tensor) int {
		return cmp.Or(cmp.Compare(a.block(), b.block()), cmp.Compare(a.Name, b.Name))
	})

	alignment := kv.Uint("general.alignment", 32)

	var s uint64
	for _, t := range ts {
		t.Offset = s
		if err := ggufWriteTensorInfo(f, t); err != nil {
			return err
		}
		s += t.Size()
		s += uint64(ggufPadding(int64(s), int64(alignment)))
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	offset += ggufPadding(offset, int64(alignment))

	var g errgroup.Group
	g.SetLimit(envconfig.NumThreads())
	for _, t := range ts {
		w := io.NewOffsetWriter(f, offset+int64(t.Offset))
		g.Go(func() error {
			n, err := t.WriteTo(w)
			if err != nil {
				return fmt.Errorf("%s: %w", t.Name, err)
			}
			if uint64(n) != t.Size() {
				return fmt.Errorf("%s: wrote %d bytes, expected %d", t.Name, n, t.Size())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Padding hinter dem letzten Tensor
	end := offset + int64(s)
	if fi, err := f.Stat(); err == nil && fi.Size() < end {
		return f.Truncate(end)
	}
	return nil
}

func writeGGUF[V any](w io.Writer, t uint32, v V) error {
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func writeGGUFString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeGGUFArray[S ~[]E, E any](w io.Writer, t uint32, s S) error {
	if err := binary.Write(w, binary.LittleEndian, ggufTypeArray); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}

	if ss, ok := any(s).([]string); ok {
		for _, e := range ss {
			if err := writeGGUFString(w, e); err != nil {
				return err
			}
		}
		return nil
	}
	return binary.Write(w, binary.LittleEndian, s)
}

func ggufWriteKV(w io.Writer, arch, k string, v any) error {
	if !strings.HasPrefix(k, arch+".") && !hasReservedPrefix(k) {
		k = arch + "." + k
	}

	logutil.Trace("gguf kv", "key", k, "type", fmt.Sprintf("%T", v))

	if err := writeGGUFString(w, k); err != nil {
		return err
	}

	switch v := v.(type) {
	case uint8:
		return writeGGUF(w, ggufTypeUint8, v)
	case int32:
		return writeGGUF(w, ggufTypeInt32, v)
	case int64:
		return writeGGUF(w, ggufTypeInt64, v)
	case uint32:
		return writeGGUF(w, ggufTypeUint32, v)
	case FileType:
		return writeGGUF(w, ggufTypeUint32, uint32(v))
	case uint64:
		return writeGGUF(w, ggufTypeUint64, v)
	case float32:
		return writeGGUF(w, ggufTypeFloat32, v)
	case float64:
		return writeGGUF(w, ggufTypeFloat64, v)
	case bool:
		return writeGGUF(w, ggufTypeBool, v)
	case string:
		if err := binary.Write(w, binary.LittleEndian, ggufTypeString); err != nil {
			return err
		}
		return writeGGUFString(w, v)
	case []int32:
		return writeGGUFArray(w, ggufTypeInt32, v)
	case []int64:
		return writeGGUFArray(w, ggufTypeInt64, v)
	case []uint32:
		return writeGGUFArray(w, ggufTypeUint32, v)
	case []uint64:
		return writeGGUFArray(w, ggufTypeUint64, v)
	case []float32:
		return writeGGUFArray(w, ggufTypeFloat32, v)
	case []string:
		return writeGGUFArray(w, ggufTypeString, v)
	case []bool:
		return writeGGUFArray(w, ggufTypeBool, v)
	default:
		return fmt.Errorf("improper type for '%s': %T", k, v)
	}
}

func ggufWriteTensorInfo(w io.Writer, t *Tensor) error {
	logutil.Trace("gguf tensor", "name", t.Name, "kind", TensorType(t.Kind), "shape", t.Shape, "offset", t.Offset)

	if err := writeGGUFString(w, t.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.Shape))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, t.Shape); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, t.Kind); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.Offset)
}

func ggufPadding(offset, align int64) int64 {
	return (align - offset%align) % align
}
