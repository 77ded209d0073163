// config.go - config.json Parsing und Modell-Erkennung
//
// Liest die Transformers-Konfiguration eines Basis-Modells. Multimodale
// Modelle wie Gemma3n verschachteln die Text-Parameter in text_config.
package huggingface

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ConfigFile ist der Dateiname der Modell-Konfiguration
const ConfigFile = "config.json"

// Fehler-Definitionen
var (
	ErrConfigNotFound = errors.New("config.json not found")
	ErrInvalidConfig  = errors.New("invalid config.json")
)

// HuggingFaceError beschreibt einen Fehler beim Lesen eines Modells
type HuggingFaceError struct {
	Op      string // Operation (resolve, parse, detect)
	ModelID string // Betroffenes Modell
	Err     error  // Urspruenglicher Fehler
}

// Error implementiert das error Interface
func (e *HuggingFaceError) Error() string {
	if e.ModelID != "" {
		return "huggingface " + e.Op + " [" + e.ModelID + "]: " + e.Err.Error()
	}
	return "huggingface " + e.Op + ": " + e.Err.Error()
}

// Unwrap ermoeglicht errors.Is/As
func (e *HuggingFaceError) Unwrap() error {
	return e.Err
}

// ModelConfig enthaelt die Felder der config.json, die der Export braucht
type ModelConfig struct {
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures,omitempty"`
	TorchDtype    string   `json:"torch_dtype,omitempty"`

	// Text-Parameter auf oberster Ebene (reine Sprachmodelle)
	TextConfig

	// Verschachtelte Konfigurationen multimodaler Modelle
	Text   *TextConfig    `json:"text_config,omitempty"`
	Vision *EncoderConfig `json:"vision_config,omitempty"`
	Audio  *EncoderConfig `json:"audio_config,omitempty"`
}

// TextConfig enthaelt die Parameter des Sprachmodells
type TextConfig struct {
	ModelType             string  `json:"model_type,omitempty"`
	HiddenSize            int     `json:"hidden_size,omitempty"`
	NumHiddenLayers       int     `json:"num_hidden_layers,omitempty"`
	NumAttentionHeads     int     `json:"num_attention_heads,omitempty"`
	NumKeyValueHeads      int     `json:"num_key_value_heads,omitempty"`
	HeadDim               int     `json:"head_dim,omitempty"`
	VocabSize             int     `json:"vocab_size,omitempty"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings,omitempty"`
	RMSNormEps            float64 `json:"rms_norm_eps,omitempty"`
	SlidingWindow         int     `json:"sliding_window,omitempty"`
}

// EncoderConfig enthaelt die Parameter eines Vision- oder Audio-Encoders
type EncoderConfig struct {
	ModelType  string `json:"model_type,omitempty"`
	HiddenSize int    `json:"hidden_size,omitempty"`
}

// ParseConfig parst die rohen JSON-Bytes einer config.json
func ParseConfig(data []byte) (*ModelConfig, error) {
	var c ModelConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &HuggingFaceError{Op: "parse", Err: fmt.Errorf("%w: %v", ErrInvalidConfig, err)}
	}
	if c.ModelType == "" && len(c.Architectures) == 0 {
		return nil, &HuggingFaceError{Op: "parse", Err: fmt.Errorf("%w: neither model_type nor architectures set", ErrInvalidConfig)}
	}
	return &c, nil
}

// LoadConfig liest config.json aus einem Modell-Verzeichnis
func LoadConfig(dir string) (*ModelConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &HuggingFaceError{Op: "detect", ModelID: dir, Err: ErrConfigNotFound}
	} else if err != nil {
		return nil, &HuggingFaceError{Op: "detect", ModelID: dir, Err: err}
	}
	return ParseConfig(data)
}

// TextParams gibt die Text-Parameter zurueck, verschachtelt oder oberste Ebene
func (c *ModelConfig) TextParams() TextConfig {
	if c.Text != nil && c.Text.HiddenSize > 0 {
		return *c.Text
	}
	return c.TextConfig
}

// EmbeddingLength gibt hidden_size oder text_config.hidden_size zurueck
func (c *ModelConfig) EmbeddingLength() int {
	return c.TextParams().HiddenSize
}

// Architecture gibt die erste Transformers-Architektur zurueck
func (c *ModelConfig) Architecture() string {
	if len(c.Architectures) > 0 {
		return c.Architectures[0]
	}
	return ""
}

// HasArchitecture prueft ob eine der Architekturen in names enthalten ist
func (c *ModelConfig) HasArchitecture(names ...string) bool {
	return slices.ContainsFunc(c.Architectures, func(a string) bool {
		return slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(a, n) })
	})
}
