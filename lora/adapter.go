// adapter.go - Geladener LoRA Adapter und Merge
// Hauptfunktionen:
// - Load: Liest adapter_config.json und adapter_model.safetensors oder .bin
// - Merge: W += s * B @ A fuer ein Basisgewicht
// - Unused: Module deren Gewichte nie gemerged wurden

package lora

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/bidyaai/bidya/safetensors"
)

// Dateinamen der Adapter-Gewichte in Suchreihenfolge
const (
	SafetensorsFile = "adapter_model.safetensors"
	TorchFile       = "adapter_model.bin"
)

var (
	ErrUnsupported = errors.New("lora: unsupported adapter")
	ErrNoWeights   = errors.New("lora: no adapter weights found")
	ErrShape       = errors.New("lora: shape mismatch")
)

// matrix ist ein dichter row-major float32 Tensor
type matrix struct {
	shape []int
	data  []float32
}

func (m *matrix) general() blas32.General {
	return blas32.General{Rows: m.shape[0], Cols: m.shape[1], Stride: m.shape[1], Data: m.data}
}

// pair sind die beiden Faktoren eines Moduls
type pair struct {
	a, b *matrix

	// transposed ist gesetzt fuer fan_in_fan_out und Embedding-Adapter
	transposed bool
}

// Adapter ist ein geladener PEFT LoRA Adapter
type Adapter struct {
	Config *Config

	pairs map[string]*pair

	// replace enthaelt vollstaendige Tensoren nach Basistensor-Namen
	replace map[string]*matrix

	mu   sync.Mutex
	used map[string]bool
}

// Load liest einen Adapter aus dir
func Load(dir string) (*Adapter, error) {
	config, err := LoadConfig(os.DirFS(dir))
	if err != nil {
		return nil, err
	}

	var tensors map[string]*matrix
	if p := filepath.Join(dir, SafetensorsFile); fileExists(p) {
		tensors, err = loadSafetensors(p)
	} else if p := filepath.Join(dir, TorchFile); fileExists(p) {
		tensors, err = loadTorch(p)
	} else {
		return nil, fmt.Errorf("%w in %s", ErrNoWeights, dir)
	}
	if err != nil {
		return nil, err
	}

	return newAdapter(config, tensors)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func loadSafetensors(p string) (map[string]*matrix, error) {
	st, err := safetensors.Open(p)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	tensors := make(map[string]*matrix)
	for _, name := range st.Names() {
		info, _ := st.Info(name)
		data, err := st.ReadFloat32(name)
		if err != nil {
			return nil, err
		}

		shape := make([]int, len(info.Shape))
		for i, n := range info.Shape {
			shape[i] = int(n)
		}
		tensors[name] = &matrix{shape: shape, data: data}
	}
	return tensors, nil
}

// parseKey zerlegt einen PEFT Schluessel in Modulname und Faktor.
// Fuer vollstaendige Gewichte (modules_to_save) ist part leer und
// module der Name des ersetzten Basistensors.
func parseKey(key string) (module, part string) {
	key = strings.TrimPrefix(key, "base_model.model.")
	for _, p := range []string{"lora_A", "lora_B", "lora_embedding_A", "lora_embedding_B", "lora_magnitude_vector"} {
		if i := strings.Index(key, "."+p); i >= 0 {
			return key[:i], p
		}
	}
	return strings.Replace(key, ".modules_to_save.default", "", 1), ""
}

func newAdapter(config *Config, tensors map[string]*matrix) (*Adapter, error) {
	a := Adapter{
		Config:  config,
		pairs:   make(map[string]*pair),
		replace: make(map[string]*matrix),
		used:    make(map[string]bool),
	}

	for key, m := range tensors {
		module, part := parseKey(key)
		if part == "" {
			a.replace[module] = m
			continue
		}

		if len(m.shape) != 2 {
			return nil, fmt.Errorf("%w: %s has %d dimensions", ErrShape, key, len(m.shape))
		}

		p, ok := a.pairs[module]
		if !ok {
			p = &pair{transposed: config.FanInFanOut}
			a.pairs[module] = p
		}

		switch part {
		case "lora_A":
			p.a = m
		case "lora_B":
			p.b = m
		case "lora_embedding_A":
			p.a, p.transposed = m, true
		case "lora_embedding_B":
			p.b, p.transposed = m, true
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, key)
		}
	}

	for module, p := range a.pairs {
		if p.a == nil || p.b == nil {
			return nil, fmt.Errorf("lora: %s is missing lora_A or lora_B", module)
		}
		if p.a.shape[0] != p.b.shape[1] {
			return nil, fmt.Errorf("%w: %s A %v B %v", ErrShape, module, p.a.shape, p.b.shape)
		}
		if r := config.Rank(module); p.a.shape[0] != r {
			return nil, fmt.Errorf("%w: %s has rank %d, config says %d", ErrShape, module, p.a.shape[0], r)
		}
	}

	if len(a.pairs)+len(a.replace) == 0 {
		return nil, ErrNoWeights
	}

	slog.Debug("lora adapter", "modules", len(a.pairs), "replaced", len(a.replace), "r", config.R, "alpha", config.Alpha)
	return &a, nil
}

// moduleName wandelt einen Basisgewicht-Namen in den Modulnamen
func moduleName(name string) string {
	return strings.TrimSuffix(name, ".weight")
}

// Has prueft ob der Adapter das Basisgewicht name veraendert
func (a *Adapter) Has(name string) bool {
	if _, ok := a.replace[name]; ok {
		return true
	}
	if !strings.HasSuffix(name, ".weight") {
		return false
	}
	_, ok := a.pairs[moduleName(name)]
	return ok
}

// Missing gibt die Module zurueck, fuer die names kein Basisgewicht enthaelt
func (a *Adapter) Missing(names []string) []string {
	found := make(map[string]bool, a.Len())
	for _, name := range names {
		if _, ok := a.replace[name]; ok {
			found[name] = true
		} else if a.Has(name) {
			found[moduleName(name)] = true
		}
	}

	var missing []string
	for _, module := range a.Modules() {
		if !found[module] {
			missing = append(missing, module)
		}
	}
	return missing
}

// Len gibt die Anzahl der veraenderten Module zurueck
func (a *Adapter) Len() int {
	return len(a.pairs) + len(a.replace)
}

// Modules gibt alle Modulnamen und ersetzten Tensoren sortiert zurueck
func (a *Adapter) Modules() []string {
	names := slices.Collect(maps.Keys(a.pairs))
	names = slices.AppendSeq(names, maps.Keys(a.replace))
	slices.Sort(names)
	return names
}

// Merge addiert den Adapter-Beitrag fuer das Basisgewicht name in data.
// shape ist die PyTorch-Form von data. Gibt false zurueck wenn der
// Adapter name nicht betrifft.
func (a *Adapter) Merge(name string, shape []uint64, data []float32) (bool, error) {
	if !a.Has(name) {
		return false, nil
	}
	if m, ok := a.replace[name]; ok {
		if len(m.data) != len(data) {
			return false, fmt.Errorf("%w: %s has %d elements, base has %d", ErrShape, name, len(m.data), len(data))
		}
		copy(data, m.data)
		a.markUsed(name)
		return true, nil
	}

	module := moduleName(name)

	p := a.pairs[module]
	if len(shape) != 2 {
		return false, fmt.Errorf("%w: %s base is %d-D", ErrShape, name, len(shape))
	}

	out, in := int(shape[0]), int(shape[1])
	if p.transposed {
		out, in = in, out
	}
	if p.b.shape[0] != out || p.a.shape[1] != in {
		return false, fmt.Errorf("%w: %s base %v, A %v, B %v", ErrShape, name, shape, p.a.shape, p.b.shape)
	}

	w := blas32.General{Rows: int(shape[0]), Cols: int(shape[1]), Stride: int(shape[1]), Data: data}
	scale := a.Config.Scale(module)
	if p.transposed {
		// W^T += s * B @ A  <=>  W += s * A^T @ B^T
		blas32.Gemm(blas.Trans, blas.Trans, scale, p.a.general(), p.b.general(), 1, w)
	} else {
		blas32.Gemm(blas.NoTrans, blas.NoTrans, scale, p.b.general(), p.a.general(), 1, w)
	}

	slog.Debug("lora merge", "tensor", name, "scale", scale, "rank", p.a.shape[0])
	a.markUsed(module)
	return true, nil
}

func (a *Adapter) markUsed(module string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used[module] = true
}

// Unused gibt die Module zurueck, die nie gemerged wurden
func (a *Adapter) Unused() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var unused []string
	for _, module := range a.Modules() {
		if !a.used[module] {
			unused = append(unused, module)
		}
	}
	return unused
}
