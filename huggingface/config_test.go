// config_test.go - Unit Tests fuer config.json Parsing
package huggingface

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const gemma3nConfig = `{
  "architectures": ["Gemma3nForConditionalGeneration"],
  "model_type": "gemma3n",
  "torch_dtype": "bfloat16",
  "text_config": {
    "model_type": "gemma3n_text",
    "hidden_size": 2048,
    "num_hidden_layers": 30,
    "num_attention_heads": 8,
    "num_key_value_heads": 2,
    "head_dim": 256,
    "vocab_size": 262400,
    "intermediate_size": [8192, 8192],
    "rms_norm_eps": 1e-06,
    "sliding_window": 512
  },
  "vision_config": {"model_type": "gemma3n_vision", "hidden_size": 2048},
  "audio_config": {"model_type": "gemma3n_audio", "hidden_size": 1536}
}`

// TestParseConfig testet das Parsen verschiedener config.json Varianten
func TestParseConfig(t *testing.T) {
	tests := []struct {
		name, config string
		arch         string
		hidden       int
		wantErr      bool
	}{
		{"Gemma3n verschachtelt", gemma3nConfig, "Gemma3nForConditionalGeneration", 2048, false},
		{"Sprachmodell", `{"architectures": ["Gemma3ForCausalLM"], "hidden_size": 1152}`, "Gemma3ForCausalLM", 1152, false},
		{"nur model_type", `{"model_type": "gemma3n"}`, "", 0, false},
		{"Fehlt", `{"hidden_size": 768}`, "", 0, true},
		{"Kein JSON", `{`, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseConfig([]byte(tt.config))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Fehler = %v, erwartet ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unerwarteter Fehler: %v", err)
			}
			if got := c.Architecture(); got != tt.arch {
				t.Errorf("Architecture() = %q, erwartet %q", got, tt.arch)
			}
			if got := c.EmbeddingLength(); got != tt.hidden {
				t.Errorf("EmbeddingLength() = %d, erwartet %d", got, tt.hidden)
			}
		})
	}
}

func TestGemma3nConfig(t *testing.T) {
	c, err := ParseConfig([]byte(gemma3nConfig))
	if err != nil {
		t.Fatal(err)
	}

	if c.ModelType != "gemma3n" {
		t.Errorf("ModelType = %q", c.ModelType)
	}
	text := c.TextParams()
	if text.NumHiddenLayers != 30 || text.NumKeyValueHeads != 2 || text.SlidingWindow != 512 {
		t.Errorf("TextParams() = %+v", text)
	}
	if c.Vision == nil || c.Audio == nil || c.Audio.HiddenSize != 1536 {
		t.Errorf("Vision = %+v, Audio = %+v", c.Vision, c.Audio)
	}
	if !c.HasArchitecture("gemma3nforconditionalgeneration") {
		t.Error("HasArchitecture sollte case-insensitiv sein")
	}
	if c.HasArchitecture("LlamaForCausalLM") {
		t.Error("HasArchitecture(LlamaForCausalLM) sollte false sein")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadConfig(dir); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Fehler = %v, erwartet ErrConfigNotFound", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(gemma3nConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("Unerwarteter Fehler: %v", err)
	}
	if c.EmbeddingLength() != 2048 {
		t.Errorf("EmbeddingLength() = %d", c.EmbeddingLength())
	}

	var hfErr *HuggingFaceError
	_, err = LoadConfig(t.TempDir())
	if !errors.As(err, &hfErr) || hfErr.Op != "detect" {
		t.Errorf("Fehler = %v, erwartet *HuggingFaceError mit Op detect", err)
	}
}
