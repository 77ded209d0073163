// Package convert - Merged einen LoRA-Adapter in Gemma 3n und exportiert GGUF
//
// Ablauf von Run:
// - Basismodell aufloesen (lokales Verzeichnis oder Hugging Face Cache)
// - config.json und Tokenizer lesen
// - Adapter laden, gegen die Basisgewichte pruefen
// - Gewichte mergen, quantisieren und als GGUF schreiben
// - Tokenizer-Dateien, optional model.safetensors und export.json ablegen
package convert

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bidyaai/bidya/envconfig"
	"github.com/bidyaai/bidya/fs/ggml"
	"github.com/bidyaai/bidya/huggingface"
	"github.com/bidyaai/bidya/lora"
	"github.com/bidyaai/bidya/model/gemma3n"
	"github.com/bidyaai/bidya/safetensors"
)

// Standardwerte der Optionen
const (
	DefaultPrefillSeqLen = 1024
	DefaultKVCacheMaxLen = 2048
	DefaultQuantize      = "q4_0"
	DefaultOutputName    = "gemma3n_e2b_int4.gguf"

	// MergedFile ist der Name der optional gespeicherten gemergten Gewichte
	MergedFile = "model.safetensors"
)

// TokenizerFiles werden aus dem Basismodell in das Ausgabeverzeichnis kopiert
var TokenizerFiles = []string{
	"tokenizer.json",
	"tokenizer.model",
	"tokenizer_config.json",
	"special_tokens_map.json",
	"generation_config.json",
	"chat_template.jinja",
}

// Fehler-Definitionen
var (
	ErrMissingFlag             = errors.New("missing required option")
	ErrPrefillLength           = errors.New("invalid prefill length")
	ErrKVCacheLength           = errors.New("invalid kv cache length")
	ErrTensorName              = errors.New("tensor name too long")
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
	ErrNoHiddenSize            = errors.New("config.json has no hidden_size")
	ErrUnmatchedAdapter        = errors.New("adapter modules without base weight")
)

// Options steuert einen Export
type Options struct {
	// LoraDir enthaelt adapter_config.json und die Adapter-Gewichte
	LoraDir   string
	OutputDir string

	// BaseID ist ein lokales Verzeichnis oder eine Hugging Face Modell-ID
	BaseID   string
	Revision string
	// Hub laedt BaseID, nil = huggingface.NewClient()
	Hub *huggingface.Client

	PrefillSeqLens []int
	// KVCacheMaxLen muss positiv sein, es gibt keinen Standardwert
	KVCacheMaxLen int

	// Quantize ist der Zieltyp quantisierbarer Gewichte (q4_0, q8_0, f16, bf16, f32)
	Quantize   string
	OutputName string
	SaveMerged bool
}

// Result beschreibt die geschriebenen Dateien
type Result struct {
	Path     string
	Manifest *Manifest

	// Tokenizer sind die kopierten Tokenizer-Dateien
	Tokenizer []string
	Merged    string
}

// withDefaults fuellt leere Felder mit den Standardwerten
func (o Options) withDefaults() Options {
	o.BaseID = cmp.Or(o.BaseID, envconfig.BaseID())
	o.Revision = cmp.Or(o.Revision, huggingface.DefaultRevision)
	o.Quantize = cmp.Or(o.Quantize, DefaultQuantize)
	o.OutputName = cmp.Or(o.OutputName, DefaultOutputName)
	if len(o.PrefillSeqLens) == 0 {
		o.PrefillSeqLens = []int{DefaultPrefillSeqLen}
	}
	return o
}

// Validate prueft die Pflichtfelder, die KV-Cache-Laenge und die Prefill-Laengen
func (o Options) Validate() error {
	if o.LoraDir == "" {
		return fmt.Errorf("%w: lora_ckpt", ErrMissingFlag)
	}
	if o.OutputDir == "" {
		return fmt.Errorf("%w: output_dir", ErrMissingFlag)
	}
	if o.KVCacheMaxLen <= 0 {
		return fmt.Errorf("%w: kv_cache_max_len %d must be positive", ErrKVCacheLength, o.KVCacheMaxLen)
	}

	for _, n := range o.PrefillSeqLens {
		if n <= 0 || n > o.KVCacheMaxLen {
			return fmt.Errorf("%w: %d not in (0, %d]", ErrPrefillLength, n, o.KVCacheMaxLen)
		}
	}
	return nil
}

// Run fuehrt einen Export aus. Jeder Fehler bricht ab; eine halb
// geschriebene GGUF-Datei wird entfernt.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	opts.PrefillSeqLens = slices.Compact(slices.Sorted(slices.Values(opts.PrefillSeqLens)))

	want, err := ggml.ParseTensorType(opts.Quantize)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	slog.Info("resolving base model", "base", opts.BaseID, "revision", opts.Revision)
	hub := opts.Hub
	if hub == nil {
		hub = huggingface.NewClient()
	}
	baseDir, err := hub.Resolve(ctx, opts.BaseID, opts.Revision, huggingface.DefaultPatterns)
	if err != nil {
		return nil, fmt.Errorf("resolve base model: %w", err)
	}

	conv, t, err := loadModelMetadata(baseDir)
	if err != nil {
		return nil, err
	}

	slog.Info("loading adapter", "dir", opts.LoraDir)
	adapter, err := lora.Load(opts.LoraDir)
	if err != nil {
		return nil, fmt.Errorf("load adapter: %w", err)
	}

	base, err := safetensors.Open(baseDir)
	if err != nil {
		return nil, fmt.Errorf("open base weights: %w", err)
	}
	defer base.Close()

	if missing := adapter.Missing(base.Names()); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnmatchedAdapter, strings.Join(missing, ", "))
	}

	ts, err := parseTensors(base, adapter, want, strings.NewReplacer(conv.Replacements()...))
	if err != nil {
		return nil, err
	}

	names := make([]string, len(ts))
	for i := range ts {
		names[i] = ts[i].Name
	}
	vision, audio := towers(names)
	signatures := gemma3n.SignatureNames(opts.PrefillSeqLens, vision, audio)

	kv := conv.KV(uint32(opts.KVCacheMaxLen))
	kv["general.file_type"] = want.FileType()
	kv["general.quantization_version"] = uint32(2)
	kv["general.name"] = filepath.Base(opts.BaseID)
	kv["adapter.type"] = "lora"
	kv["adapter.lora.alpha"] = float32(adapter.Config.Alpha)
	kv["adapter.lora.rank"] = uint32(adapter.Config.R)
	kv["adapter.lora.modules"] = adapter.Modules()
	kv["export.prefill_seq_lens"] = toUint32s(opts.PrefillSeqLens)
	kv["export.kv_cache_max_len"] = uint32(opts.KVCacheMaxLen)
	kv["export.signatures"] = signatures
	t.KV(kv)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := filepath.Join(opts.OutputDir, opts.OutputName)
	slog.Info("merging and exporting", "tensors", len(ts), "quantize", want, "file", out)
	if err := writeModel(out, kv, ts); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	if unused := adapter.Unused(); len(unused) > 0 {
		os.Remove(out)
		return nil, fmt.Errorf("%w: %s", ErrUnmatchedAdapter, strings.Join(unused, ", "))
	}

	res := Result{Path: out}

	slog.Info("saving tokenizer", "dir", opts.OutputDir)
	if res.Tokenizer, err = copyFiles(baseDir, opts.OutputDir, TokenizerFiles); err != nil {
		return nil, fmt.Errorf("save tokenizer: %w", err)
	}

	if opts.SaveMerged {
		res.Merged = filepath.Join(opts.OutputDir, MergedFile)
		slog.Info("saving merged weights", "file", res.Merged)
		if err := writeMerged(res.Merged, base, adapter); err != nil {
			return nil, fmt.Errorf("save merged weights: %w", err)
		}
		if _, err := copyFiles(baseDir, opts.OutputDir, []string{huggingface.ConfigFile}); err != nil {
			return nil, fmt.Errorf("save merged weights: %w", err)
		}
	}

	m, err := newManifest(opts, out, kv, ts, signatures)
	if err != nil {
		return nil, err
	}
	if err := m.write(filepath.Join(opts.OutputDir, ManifestFile)); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	res.Manifest = m

	slog.Info("export done", "file", out, "size", m.Size)
	return &res, nil
}

// loadModelMetadata liest config.json und den Tokenizer aus dir
func loadModelMetadata(dir string) (*gemma3nModel, *Tokenizer, error) {
	config, err := huggingface.LoadConfig(dir)
	if err != nil {
		return nil, nil, err
	}

	if !config.HasArchitecture(gemma3nArchitectures...) {
		return nil, nil, fmt.Errorf("%w %q", ErrUnsupportedArchitecture, config.Architecture())
	}

	if config.EmbeddingLength() == 0 {
		return nil, nil, ErrNoHiddenSize
	}

	bts, err := os.ReadFile(filepath.Join(dir, huggingface.ConfigFile))
	if err != nil {
		return nil, nil, err
	}

	var conv gemma3nModel
	if err := json.Unmarshal(bts, &conv); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", huggingface.ConfigFile, err)
	}
	// Text-Parameter auf oberster Ebene
	if conv.TextModel.HiddenSize == 0 {
		if err := json.Unmarshal(bts, &conv.TextModel); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", huggingface.ConfigFile, err)
		}
	}

	t, err := parseTokenizer(os.DirFS(dir), conv.specialTokenTypes())
	if err != nil {
		return nil, nil, err
	}

	// vocab_size aus config.json zaehlt, fehlende Eintraege werden aufgefuellt
	switch n := int(conv.TextModel.VocabSize); {
	case n > len(t.Tokens):
		slog.Debug("padding vocabulary", "tokens", len(t.Tokens), "vocab_size", n)
		t.pad(n)
	case n < len(t.Tokens):
		slog.Debug("vocabulary exceeds vocab_size", "tokens", len(t.Tokens), "vocab_size", n)
		conv.TextModel.VocabSize = uint32(len(t.Tokens))
	}

	return &conv, t, nil
}

// writeModel schreibt die GGUF-Datei zuerst unter einem temporaeren Namen
func writeModel(path string, kv ggml.KV, ts []*ggml.Tensor) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.partial")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := writeFile(f, kv, ts); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), path)
}

// writeFile dreht die Formen in ggml-Reihenfolge und schreibt GGUF
func writeFile(f *os.File, kv ggml.KV, ts []*ggml.Tensor) error {
	for i := range ts {
		ts[i].Shape = slices.Clone(ts[i].Shape)
		slices.Reverse(ts[i].Shape)
	}
	return ggml.WriteGGUF(f, kv, ts)
}

func writeMerged(path string, base *safetensors.Model, adapter *lora.Adapter) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := safetensors.Write(f, mergedTensors(base, adapter), map[string]string{"format": "pt"}); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// copyFiles kopiert die vorhandenen names von src nach dst
func copyFiles(src, dst string, names []string) ([]string, error) {
	var copied []string
	for _, name := range names {
		in, err := os.Open(filepath.Join(src, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return copied, err
		}

		err = func() error {
			defer in.Close()

			out, err := os.Create(filepath.Join(dst, name))
			if err != nil {
				return err
			}

			if _, err := io.Copy(out, in); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		}()
		if err != nil {
			return copied, fmt.Errorf("%s: %w", name, err)
		}

		slog.Debug("copied", "file", name)
		copied = append(copied, name)
	}
	return copied, nil
}

func toUint32s(s []int) []uint32 {
	u := make([]uint32, len(s))
	for i, v := range s {
		u[i] = uint32(v)
	}
	return u
}
