// ggml_test.go - Tests fuer GGUF Schreiben und Lesen
package ggml

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/bidyaai/bidya/logutil"
)

func float32Bytes(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// TestWriteGGUFRoundTrip testet Schreiben und Dekodieren einer kleinen Datei
func TestWriteGGUFRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "model.gguf")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}

	kv := KV{
		"general.architecture":        "gemma3n",
		"general.file_type":           FileTypeQ4_0,
		"context_length":              uint32(2048),
		"export.prefill_seq_lens":     []uint32{256, 1024},
		"export.signatures":           []string{"prefill_256", "prefill_1024", "decode"},
		"tokenizer.ggml.bos_token_id": uint32(2),
	}

	q4 := make([]byte, TensorTypeQ4_0.RowSize(64))
	for i := range q4 {
		q4[i] = byte(i)
	}

	ts := []*Tensor{
		{Name: "output_norm.weight", Kind: uint32(TensorTypeF32), Shape: []uint64{3}, WriterTo: Bytes(float32Bytes(1, 2, 3))},
		{Name: "blk.1.attn_q.weight", Kind: uint32(TensorTypeQ4_0), Shape: []uint64{64, 1}, WriterTo: Bytes(q4)},
		{Name: "blk.0.attn_q.weight", Kind: uint32(TensorTypeQ4_0), Shape: []uint64{64, 1}, WriterTo: Bytes(q4)},
	}

	if err := WriteGGUF(f, kv, ts); err != nil {
		t.Fatalf("WriteGGUF() Fehler: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := os.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got, err := Decode(r)
	if err != nil {
		t.Fatalf("Decode() Fehler: %v", err)
	}

	if got.Version != 3 {
		t.Errorf("Version = %d, erwartet 3", got.Version)
	}
	if got.KV.Architecture() != "gemma3n" {
		t.Errorf("Architecture() = %q", got.KV.Architecture())
	}
	if got.KV.FileType() != FileTypeQ4_0 {
		t.Errorf("FileType() = %v, erwartet Q4_0", got.KV.FileType())
	}
	if n := got.KV.Uint("context_length"); n != 2048 {
		t.Errorf("context_length = %d, erwartet 2048", n)
	}
	if diff := cmp.Diff([]uint32{256, 1024}, got.KV.Uints("export.prefill_seq_lens")); diff != "" {
		t.Errorf("prefill_seq_lens (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"prefill_256", "prefill_1024", "decode"}, got.KV.Strings("export.signatures")); diff != "" {
		t.Errorf("signatures (-want +got):\n%s", diff)
	}

	names := make([]string, len(got.Tensors))
	for i, tt := range got.Tensors {
		names[i] = tt.Name
	}
	want := []string{"blk.0.attn_q.weight", "blk.1.attn_q.weight", "output_norm.weight"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Tensor-Reihenfolge (-want +got):\n%s", diff)
	}

	for _, tt := range got.Tensors {
		if tt.Offset%32 != 0 {
			t.Errorf("%s: Offset %d nicht ausgerichtet", tt.Name, tt.Offset)
		}
	}
	if got.DataOffset%32 != 0 {
		t.Errorf("DataOffset %d nicht ausgerichtet", got.DataOffset)
	}

	norm := got.Tensor("output_norm.weight")
	if norm == nil {
		t.Fatal("output_norm.weight fehlt")
	}
	b, err := got.ReadTensor(r, norm)
	if err != nil {
		t.Fatalf("ReadTensor() Fehler: %v", err)
	}
	if !bytes.Equal(b, float32Bytes(1, 2, 3)) {
		t.Errorf("ReadTensor() = %v", b)
	}

	q, err := got.ReadTensor(r, got.Tensor("blk.1.attn_q.weight"))
	if err != nil {
		t.Fatalf("ReadTensor() Fehler: %v", err)
	}
	if !bytes.Equal(q, q4) {
		t.Error("Q4_0 Daten stimmen nicht ueberein")
	}

	if got.Parameters() != 64+64+3 {
		t.Errorf("Parameters() = %d", got.Parameters())
	}
}

func TestWriteGGUFRequiresArchitecture(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "x.gguf"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := WriteGGUF(f, KV{}, nil); !errors.Is(err, ErrNoArchitecture) {
		t.Errorf("Fehler = %v, erwartet ErrNoArchitecture", err)
	}
}

func TestWriteGGUFShortTensor(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "x.gguf"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ts := []*Tensor{{Name: "a", Kind: uint32(TensorTypeF32), Shape: []uint64{4}, WriterTo: Bytes(float32Bytes(1))}}
	if err := WriteGGUF(f, KV{"general.architecture": "x"}, ts); err == nil {
		t.Error("erwartet Fehler bei zu kurzen Tensor-Daten")
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("GGML\x03\x00\x00\x00"))); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("Fehler = %v, erwartet ErrInvalidMagic", err)
	}

	var buf bytes.Buffer
	buf.WriteString(ggufMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	if _, err := Decode(bytes.NewReader(buf.Bytes())); !errors.Is(err, ErrUnsupportedVer) {
		t.Errorf("Fehler = %v, erwartet ErrUnsupportedVer", err)
	}
}

func TestTensorTypeSizes(t *testing.T) {
	tests := []struct {
		kind      TensorType
		blockSize uint64
		typeSize  uint64
		quantized bool
	}{
		{TensorTypeF32, 1, 4, false},
		{TensorTypeF16, 1, 2, false},
		{TensorTypeBF16, 1, 2, false},
		{TensorTypeQ4_0, 32, 18, true},
		{TensorTypeQ8_0, 32, 34, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.BlockSize(); got != tt.blockSize {
				t.Errorf("BlockSize() = %d, erwartet %d", got, tt.blockSize)
			}
			if got := tt.kind.TypeSize(); got != tt.typeSize {
				t.Errorf("TypeSize() = %d, erwartet %d", got, tt.typeSize)
			}
			if got := tt.kind.IsQuantized(); got != tt.quantized {
				t.Errorf("IsQuantized() = %v", got)
			}
		})
	}
}

func TestParseTensorType(t *testing.T) {
	tests := []struct {
		in      string
		want    TensorType
		wantErr bool
	}{
		{"q4_0", TensorTypeQ4_0, false},
		{"int4", TensorTypeQ4_0, false},
		{"Q8_0", TensorTypeQ8_0, false},
		{"int8", TensorTypeQ8_0, false},
		{"f16", TensorTypeF16, false},
		{"F32", TensorTypeF32, false},
		{"q2_k", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseTensorType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTensorType(%q) Fehler = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTensorType(%q) = %v, erwartet %v", tt.in, got, tt.want)
		}
	}
}

func TestKVArchitecturePrefix(t *testing.T) {
	kv := KV{
		"general.architecture":     "gemma3n",
		"gemma3n.embedding_length": uint32(2048),
		"tokenizer.ggml.model":     "gemma",
	}

	if got := kv.Uint("embedding_length"); got != 2048 {
		t.Errorf("Uint(embedding_length) = %d", got)
	}
	if got := kv.String("tokenizer.ggml.model"); got != "gemma" {
		t.Errorf("String(tokenizer.ggml.model) = %q", got)
	}
	if got := kv.Uint("block_count", 30); got != 30 {
		t.Errorf("Default = %d, erwartet 30", got)
	}

	keys := cmp.Diff([]string{"general.architecture", "gemma3n.embedding_length", "tokenizer.ggml.model"},
		slicesCollect(kv), cmpopts.SortSlices(func(a, b string) bool { return a < b }))
	if keys != "" {
		t.Errorf("Keys (-want +got):\n%s", keys)
	}
}

func slicesCollect(kv KV) (s []string) {
	for k := range kv.Keys() {
		s = append(s, k)
	}
	return s
}

func TestWriteGGUFTrace(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	write := func(level slog.Level) string {
		var buf bytes.Buffer
		slog.SetDefault(logutil.NewLogger(&buf, level))

		f, err := os.Create(filepath.Join(t.TempDir(), "model.gguf"))
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		kv := KV{"general.architecture": "gemma3n", "context_length": uint32(2048)}
		ts := []*Tensor{{Name: "output_norm.weight", Kind: uint32(TensorTypeF32), Shape: []uint64{2}, WriterTo: Bytes(float32Bytes(1, 2))}}
		if err := WriteGGUF(f, kv, ts); err != nil {
			t.Fatalf("WriteGGUF() Fehler: %v", err)
		}
		return buf.String()
	}

	out := write(logutil.LevelTrace)
	for _, want := range []string{
		`msg="gguf kv" key=general.architecture type=string`,
		`msg="gguf kv" key=gemma3n.context_length type=uint32`,
		`msg="gguf tensor" name=output_norm.weight kind=F32`,
		"source=gguf_write.go:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("erwartet %s in\n%s", want, out)
		}
	}

	if out := write(slog.LevelDebug); strings.Contains(out, "gguf kv") || strings.Contains(out, "gguf tensor") {
		t.Errorf("Trace-Eintraege auf Debug-Level:\n%s", out)
	}
}
