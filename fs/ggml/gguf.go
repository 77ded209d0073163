// gguf.go - GGUF Dekodierung
// Hauptfunktionen:
// - Decode: Liest Header, KV-Paare und Tensor-Infos einer GGUF v2/v3 Datei
// - File: Ergebnis mit Daten-Offset fuer spaeteres Lesen der Tensoren

package ggml

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const ggufMagic = "GGUF"

// GGUF Typ-Identifikatoren der KV-Werte
const (
	ggufTypeUint8 uint32 = iota
	ggufTypeInt8
	ggufTypeUint16
	ggufTypeInt16
	ggufTypeUint32
	ggufTypeInt32
	ggufTypeFloat32
	ggufTypeBool
	ggufTypeString
	ggufTypeArray
	ggufTypeUint64
	ggufTypeInt64
	ggufTypeFloat64
)

var (
	ErrInvalidMagic   = errors.New("ggml: invalid file magic")
	ErrUnsupportedVer = errors.New("ggml: unsupported gguf version")
)

// File ist eine dekodierte GGUF-Datei ohne Tensor-Daten
type File struct {
	Version uint32
	KV      KV
	Tensors []*Tensor

	// DataOffset ist die absolute Position der Tensor-Daten
	DataOffset uint64
}

// Parameters summiert die Elemente aller Tensoren
func (f *File) Parameters() (n uint64) {
	for _, t := range f.Tensors {
		n += t.Elements()
	}
	return n
}

// Tensor sucht einen Tensor nach Namen
func (f *File) Tensor(name string) *Tensor {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t
		}
	}
	return nil
}

type decoder struct {
	r       io.Reader
	scratch [16 << 10]byte
}

// Decode liest eine GGUF-Datei bis zum Beginn der Tensor-Daten
func Decode(rs io.ReadSeeker) (*File, error) {
	var magic [4]byte
	if _, err := io.ReadFull(rs, magic[:]); err != nil {
		return nil, err
	}
	if string(magic[:]) != ggufMagic {
		return nil, ErrInvalidMagic
	}

	d := &decoder{r: rs}
	version, err := readGGUF[uint32](d)
	if err != nil {
		return nil, err
	}
	if version < 2 || version > 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVer, version)
	}

	numTensor, err := readGGUF[uint64](d)
	if err != nil {
		return nil, err
	}
	numKV, err := readGGUF[uint64](d)
	if err != nil {
		return nil, err
	}

	f := &File{Version: version, KV: make(KV, numKV)}
	for range numKV {
		k, err := d.readString()
		if err != nil {
			return nil, err
		}
		v, err := d.readValue()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		f.KV[k] = v
	}

	for range numTensor {
		t, err := d.readTensorInfo()
		if err != nil {
			return nil, err
		}
		f.Tensors = append(f.Tensors, t)
	}

	offset, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	alignment := f.KV.Uint("general.alignment", 32)
	f.DataOffset = uint64(offset + ggufPadding(offset, int64(alignment)))
	return f, nil
}

func readGGUF[T any](d *decoder) (T, error) {
	var t T
	err := binary.Read(d.r, binary.LittleEndian, &t)
	return t, err
}

func (d *decoder) readString() (string, error) {
	n, err := readGGUF[uint64](d)
	if err != nil {
		return "", err
	}

	buf := d.scratch[:]
	if n > uint64(len(buf)) {
		buf = make([]byte, n)
	}
	if _, err := io.ReadFull(d.r, buf[:n]); err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func (d *decoder) readValue() (any, error) {
	t, err := readGGUF[uint32](d)
	if err != nil {
		return nil, err
	}

	switch t {
	case ggufTypeUint8:
		return readGGUF[uint8](d)
	case ggufTypeInt8:
		return readGGUF[int8](d)
	case ggufTypeUint16:
		return readGGUF[uint16](d)
	case ggufTypeInt16:
		return readGGUF[int16](d)
	case ggufTypeUint32:
		return readGGUF[uint32](d)
	case ggufTypeInt32:
		return readGGUF[int32](d)
	case ggufTypeUint64:
		return readGGUF[uint64](d)
	case ggufTypeInt64:
		return readGGUF[int64](d)
	case ggufTypeFloat32:
		return readGGUF[float32](d)
	case ggufTypeFloat64:
		return readGGUF[float64](d)
	case ggufTypeBool:
		return readGGUF[bool](d)
	case ggufTypeString:
		return d.readString()
	case ggufTypeArray:
		return d.readArray()
	default:
		return nil, fmt.Errorf("invalid type: %d", t)
	}
}

func (d *decoder) readArray() (any, error) {
	t, err := readGGUF[uint32](d)
	if err != nil {
		return nil, err
	}
	n, err := readGGUF[uint64](d)
	if err != nil {
		return nil, err
	}

	switch t {
	case ggufTypeUint8:
		return readGGUFArray[uint8](d, n)
	case ggufTypeInt8:
		return readGGUFArray[int8](d, n)
	case ggufTypeUint16:
		return readGGUFArray[uint16](d, n)
	case ggufTypeInt16:
		return readGGUFArray[int16](d, n)
	case ggufTypeUint32:
		return readGGUFArray[uint32](d, n)
	case ggufTypeInt32:
		return readGGUFArray[int32](d, n)
	case ggufTypeUint64:
		return readGGUFArray[uint64](d, n)
	case ggufTypeInt64:
		return readGGUFArray[int64](d, n)
	case ggufTypeFloat32:
		return readGGUFArray[float32](d, n)
	case ggufTypeFloat64:
		return readGGUFArray[float64](d, n)
	case ggufTypeBool:
		return readGGUFArray[bool](d, n)
	case ggufTypeString:
		s := make([]string, n)
		for i := range s {
			if s[i], err = d.readString(); err != nil {
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("invalid array type: %d", t)
	}
}

func readGGUFArray[T any](d *decoder, n uint64) ([]T, error) {
	s := make([]T, n)
	err := binary.Read(d.r, binary.LittleEndian, s)
	return s, err
}

func (d *decoder) readTensorInfo() (*Tensor, error) {
	name, err := d.readString()
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor name: %w", err)
	}

	dims, err := readGGUF[uint32](d)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor dimensions: %w", err)
	}

	shape := make([]uint64, dims)
	if err := binary.Read(d.r, binary.LittleEndian, shape); err != nil {
		return nil, fmt.Errorf("failed to read tensor shape: %w", err)
	}

	kind, err := readGGUF[uint32](d)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor kind: %w", err)
	}

	offset, err := readGGUF[uint64](d)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor offset: %w", err)
	}

	return &Tensor{Name: name, Kind: kind, Offset: offset, Shape: shape}, nil
}

// ReadTensor liest die Rohdaten eines Tensors
func (f *File) ReadTensor(r io.ReaderAt, t *Tensor) ([]byte, error) {
	b := make([]byte, t.Size())
	if _, err := r.ReadAt(b, int64(f.DataOffset+t.Offset)); err != nil {
		return nil, err
	}
	return b, nil
}

// bytesWriter ist ein io.WriterTo ueber einem festen Puffer
type bytesWriter []byte

func (b bytesWriter) WriteTo(w io.Writer) (int64, error) {
	return bytes.NewReader(b).WriteTo(w)
}

// Bytes verpackt Rohdaten als io.WriterTo fuer Tensor
func Bytes(b []byte) io.WriterTo {
	return bytesWriter(b)
}
