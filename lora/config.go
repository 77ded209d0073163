// Package lora - PEFT LoRA Adapter laden und in Basisgewichte mergen
//
// Hauptkomponenten:
// - Config: adapter_config.json (r, lora_alpha, use_rslora, Pattern)
// - Adapter: geladene A/B Paare, Merge in float32 Gewichte
package lora

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"strings"
)

// ConfigFile ist der Dateiname der PEFT Adapter-Konfiguration
const ConfigFile = "adapter_config.json"

// Config entspricht adapter_config.json von PEFT
type Config struct {
	PeftType      string             `json:"peft_type"`
	BaseModel     string             `json:"base_model_name_or_path"`
	R             int                `json:"r"`
	Alpha         float64            `json:"lora_alpha"`
	UseRSLoRA     bool               `json:"use_rslora"`
	FanInFanOut   bool               `json:"fan_in_fan_out"`
	RankPattern   map[string]int     `json:"rank_pattern"`
	AlphaPattern  map[string]float64 `json:"alpha_pattern"`
	TargetModules TargetModules      `json:"target_modules"`
	UseDoRA       bool               `json:"use_dora"`
}

// TargetModules ist entweder eine Liste von Modulnamen oder ein einzelner String
// (z.B. "all-linear" oder ein regulaerer Ausdruck)
type TargetModules []string

func (t *TargetModules) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = TargetModules{s}
		return nil
	}

	var ss []string
	if err := json.Unmarshal(b, &ss); err != nil {
		return fmt.Errorf("target_modules: %w", err)
	}
	*t = ss
	return nil
}

// LoadConfig liest adapter_config.json aus fsys
func LoadConfig(fsys fs.FS) (*Config, error) {
	b, err := fs.ReadFile(fsys, ConfigFile)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigFile, err)
	}

	if c.PeftType != "" && !strings.EqualFold(c.PeftType, "LORA") {
		return nil, fmt.Errorf("%w: peft_type %s", ErrUnsupported, c.PeftType)
	}
	if c.UseDoRA {
		return nil, fmt.Errorf("%w: use_dora", ErrUnsupported)
	}
	if c.R <= 0 {
		return nil, fmt.Errorf("%s: invalid rank %d", ConfigFile, c.R)
	}
	if c.Alpha == 0 {
		c.Alpha = float64(c.R)
	}
	return &c, nil
}

// patternMatch sucht den Pattern-Schluessel der auf module passt.
// Ein Schluessel passt wenn er gleich dem Modulnamen ist oder dessen
// Suffix ab einer Punktgrenze bildet; der laengste Treffer gewinnt.
func patternMatch[V any](patterns map[string]V, module string) (V, bool) {
	var best string
	var val V
	for k, v := range patterns {
		if (module == k || strings.HasSuffix(module, "."+k)) && len(k) > len(best) {
			best, val = k, v
		}
	}
	return val, best != ""
}

// Rank gibt den Rang fuer module zurueck
func (c *Config) Rank(module string) int {
	if r, ok := patternMatch(c.RankPattern, module); ok {
		return r
	}
	return c.R
}

// Scale berechnet den Skalierungsfaktor fuer module:
// lora_alpha / r, oder lora_alpha / sqrt(r) mit use_rslora
func (c *Config) Scale(module string) float32 {
	alpha := c.Alpha
	if a, ok := patternMatch(c.AlphaPattern, module); ok {
		alpha = a
	}

	r := float64(c.Rank(module))
	if c.UseRSLoRA {
		return float32(alpha / math.Sqrt(r))
	}
	return float32(alpha / r)
}
