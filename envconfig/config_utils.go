// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Uint64: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BIDYA_DEBUG":       {"BIDYA_DEBUG", LogLevel(), "Show additional debug information (e.g. BIDYA_DEBUG=1)"},
		"BIDYA_DATA_DIR":    {"BIDYA_DATA_DIR", DataDir(), "Root directory of the curriculum data (default \"~/curriculum_data\")"},
		"BIDYA_BASE_ID":     {"BIDYA_BASE_ID", BaseID(), "Base model id or local directory (default \"" + DefaultBaseID + "\")"},
		"BIDYA_SEED":        {"BIDYA_SEED", Seed(), "Seed for dataset shuffling (default 42)"},
		"BIDYA_NUM_THREADS": {"BIDYA_NUM_THREADS", NumThreads(), "Tensors processed in parallel during export (default: all cores)"},

		"HF_TOKEN":     {"HF_TOKEN", HFToken() != "", "Hugging Face access token for gated models"},
		"HF_HOME":      {"HF_HOME", HFHome(), "Hugging Face home directory"},
		"HF_HUB_CACHE": {"HF_HUB_CACHE", HFHubCache(), "Hugging Face hub cache directory"},
		"HF_ENDPOINT":  {"HF_ENDPOINT", HFEndpoint(), "Hugging Face hub endpoint (default https://huggingface.co)"},

		"HF_HUB_DOWNLOAD_TIMEOUT": {"HF_HUB_DOWNLOAD_TIMEOUT", HFDownloadTimeout(), "Seconds to wait for the hub to respond (default 10)"},
	}
}

// Hugging Face Hub Variablen, gleiche Namen wie huggingface_hub
var (
	HFToken    = String("HF_TOKEN")
	HFHome     = String("HF_HOME")
	HFHubCache = String("HF_HUB_CACHE")
	HFEndpoint = String("HF_ENDPOINT")
)

// HFDownloadTimeout gibt die Wartezeit auf eine Antwort des Hubs zurueck
// Konfigurierbar via HF_HUB_DOWNLOAD_TIMEOUT in Sekunden
// Default: 10s
func HFDownloadTimeout() time.Duration {
	return time.Duration(Uint("HF_HUB_DOWNLOAD_TIMEOUT", 10)()) * time.Second
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
