// reader.go - Safetensors Reader fuer einzelne Dateien und Shards
// Hauptfunktionen: Open, Model.Names, Model.ReadRaw, Model.ReadFloat32
//
// Dateilayout: [header_len:u64 LE][header JSON][tensor data]
// Tensor-Daten werden erst beim Zugriff per ReadAt gelesen.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// IndexFile ist die Shard-Index-Datei von Hugging Face
const IndexFile = "model.safetensors.index.json"

// maxHeaderSize begrenzt den JSON-Header (100 MB)
const maxHeaderSize = 100 << 20

var (
	ErrNotFound      = errors.New("safetensors: tensor not found")
	ErrInvalidHeader = errors.New("safetensors: invalid header")
	ErrNoFiles       = errors.New("safetensors: no .safetensors files found")
)

// TensorInfo beschreibt einen Tensor aus dem Header
type TensorInfo struct {
	Name    string   `json:"-"`
	DType   DType    `json:"dtype"`
	Shape   []int64  `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// Elements gibt die Anzahl der Elemente zurueck
func (t TensorInfo) Elements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Size gibt die Datengroesse in Bytes zurueck
func (t TensorInfo) Size() int64 {
	return t.Offsets[1] - t.Offsets[0]
}

// file ist eine geoeffnete Safetensors-Datei
type file struct {
	f        *os.File
	base     int64
	tensors  map[string]TensorInfo
	metadata map[string]string
}

func openFile(path string) (*file, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	st, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	return st, nil
}

func readHeader(f *os.File) (*file, error) {
	var n uint64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, err
	}

	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d", ErrInvalidHeader, n)
	}

	bts := make([]byte, n)
	if _, err := io.ReadFull(f, bts); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bts, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	st := file{f: f, base: 8 + int64(n), tensors: make(map[string]TensorInfo, len(raw))}
	for name, msg := range raw {
		if name == "__metadata__" {
			if err := json.Unmarshal(msg, &st.metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidHeader, err)
			}
			continue
		}

		var ti TensorInfo
		if err := json.Unmarshal(msg, &ti); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHeader, name, err)
		}

		if size := ti.DType.Size(); size > 0 && ti.Elements()*int64(size) != ti.Size() {
			return nil, fmt.Errorf("%w: %s: shape %v does not match %d bytes", ErrInvalidHeader, name, ti.Shape, ti.Size())
		}

		ti.Name = name
		st.tensors[name] = ti
	}

	return &st, nil
}

// Model ist eine Sammlung von Safetensors-Shards
type Model struct {
	files []*file
	index map[string]*file
}

// Open oeffnet eine einzelne Datei oder alle Shards eines Verzeichnisses
// Existiert model.safetensors.index.json, werden genau die dort gelisteten Shards geladen.
func Open(path string) (*Model, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	if !fi.IsDir() {
		paths = []string{path}
	} else if paths, err = shards(path); err != nil {
		return nil, err
	}

	m := Model{index: make(map[string]*file)}
	for _, p := range paths {
		st, err := openFile(p)
		if err != nil {
			m.Close()
			return nil, err
		}

		m.files = append(m.files, st)
		for name := range st.tensors {
			m.index[name] = st
		}
	}

	return &m, nil
}

func shards(dir string) ([]string, error) {
	if bts, err := os.ReadFile(filepath.Join(dir, IndexFile)); err == nil {
		var index struct {
			WeightMap map[string]string `json:"weight_map"`
		}
		if err := json.Unmarshal(bts, &index); err != nil {
			return nil, fmt.Errorf("%s: %w", IndexFile, err)
		}

		var paths []string
		for _, name := range slices.Sorted(maps.Values(index.WeightMap)) {
			p := filepath.Join(dir, name)
			if !slices.Contains(paths, p) {
				paths = append(paths, p)
			}
		}
		return paths, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.safetensors"))
	if err != nil {
		return nil, err
	}

	paths = slices.DeleteFunc(paths, func(p string) bool {
		return strings.HasPrefix(filepath.Base(p), "adapter_")
	})

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, dir)
	}

	slices.Sort(paths)
	return paths, nil
}

// Names gibt alle Tensor-Namen sortiert zurueck
func (m *Model) Names() []string {
	return slices.Sorted(maps.Keys(m.index))
}

// Info gibt die Header-Informationen eines Tensors zurueck
func (m *Model) Info(name string) (TensorInfo, bool) {
	st, ok := m.index[name]
	if !ok {
		return TensorInfo{}, false
	}
	return st.tensors[name], true
}

// Metadata gibt die zusammengefassten __metadata__ Eintraege aller Shards zurueck
func (m *Model) Metadata() map[string]string {
	md := make(map[string]string)
	for _, st := range m.files {
		maps.Copy(md, st.metadata)
	}
	return md
}

// Section gibt einen Reader ueber die rohen Bytes eines Tensors zurueck
func (m *Model) Section(name string) (*io.SectionReader, error) {
	st, ok := m.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	ti := st.tensors[name]
	return io.NewSectionReader(st.f, st.base+ti.Offsets[0], ti.Size()), nil
}

// ReadRaw liest die rohen Bytes eines Tensors
func (m *Model) ReadRaw(name string) ([]byte, error) {
	sr, err := m.Section(name)
	if err != nil {
		return nil, err
	}

	bts := make([]byte, sr.Size())
	if _, err := sr.ReadAt(bts, 0); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return bts, nil
}

// ReadFloat32 liest einen Float-Tensor und wandelt ihn in float32 um
func (m *Model) ReadFloat32(name string) ([]float32, error) {
	ti, ok := m.Info(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	bts, err := m.ReadRaw(name)
	if err != nil {
		return nil, err
	}

	return Decode(ti.DType, bts)
}

// Close schliesst alle Shards
func (m *Model) Close() error {
	var errs []error
	for _, st := range m.files {
		errs = append(errs, st.f.Close())
	}
	return errors.Join(errs...)
}
