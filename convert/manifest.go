// manifest.go - export.json: Herkunft und Pruefsumme der Exportdatei
package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"github.com/bidyaai/bidya/fs/ggml"
)

// ManifestFile ist der Name des Manifests im Ausgabeverzeichnis
const ManifestFile = "export.json"

// Manifest beschreibt einen Export
type Manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Base     string `json:"base"`
	Revision string `json:"revision,omitempty"`
	Adapter  string `json:"adapter"`

	Architecture string `json:"architecture"`
	Quantization string `json:"quantization"`
	FileType     string `json:"file_type"`

	File string `json:"file"`
	Size int64  `json:"size"`
	// XXH3 ist der 64-Bit xxh3 der Datei, hexadezimal
	XXH3 string `json:"xxh3"`

	Tensors   int            `json:"tensors"`
	TypeCount map[string]int `json:"type_count"`

	PrefillSeqLens []int    `json:"prefill_seq_lens"`
	KVCacheMaxLen  int      `json:"kv_cache_max_len"`
	Signatures     []string `json:"signatures"`
}

func newManifest(opts Options, path string, kv ggml.KV, ts []*ggml.Tensor, signatures []string) (*Manifest, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	size, digest, err := checksum(path)
	if err != nil {
		return nil, fmt.Errorf("checksum: %w", err)
	}

	counts := make(map[string]int)
	for _, t := range ts {
		counts[t.Type()]++
	}

	return &Manifest{
		ID:             id.String(),
		CreatedAt:      time.Now().UTC(),
		Base:           opts.BaseID,
		Revision:       opts.Revision,
		Adapter:        opts.LoraDir,
		Architecture:   kv.Architecture(),
		Quantization:   opts.Quantize,
		FileType:       kv.FileType().String(),
		File:           filepath.Base(path),
		Size:           size,
		XXH3:           digest,
		Tensors:        len(ts),
		TypeCount:      counts,
		PrefillSeqLens: opts.PrefillSeqLens,
		KVCacheMaxLen:  opts.KVCacheMaxLen,
		Signatures:     signatures,
	}, nil
}

// checksum gibt Groesse und xxh3 einer Datei zurueck
func checksum(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := xxh3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, fmt.Sprintf("%016x", h.Sum64()), nil
}

func (m *Manifest) write(path string) error {
	bts, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(bts, '\n'), 0o644)
}

// ReadManifest liest export.json aus dir
func ReadManifest(dir string) (*Manifest, error) {
	bts, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(bts, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", ManifestFile, err)
	}
	return &m, nil
}

// Verify prueft Groesse und Pruefsumme der Exportdatei in dir
func (m *Manifest) Verify(dir string) error {
	size, digest, err := checksum(filepath.Join(dir, m.File))
	if err != nil {
		return err
	}
	if size != m.Size || digest != m.XXH3 {
		return fmt.Errorf("%s: size %d xxh3 %s, manifest has size %d xxh3 %s", m.File, size, digest, m.Size, m.XXH3)
	}
	return nil
}
