// config.go - Haupt-Konfigurationsfunktionen fuer bidya
//
// Dieses Modul enthaelt:
// - DataDir: Gibt das Curriculum-Verzeichnis zurueck (BIDYA_DATA_DIR)
// - BaseID: Gibt das Basis-Modell zurueck (BIDYA_BASE_ID)
// - Seed: Gibt den Seed fuer das Shuffling zurueck (BIDYA_SEED)
// - NumThreads: Gibt die Anzahl paralleler Tensor-Worker zurueck (BIDYA_NUM_THREADS)
// - LogLevel: Gibt Log-Level zurueck (BIDYA_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// DefaultBaseID ist das Basis-Modell, auf das die LoRA-Adapter trainiert werden
const DefaultBaseID = "google/gemma-3n-e2b-it"

// DataDir gibt das Wurzelverzeichnis der Curriculum-Daten zurueck
// Konfigurierbar via BIDYA_DATA_DIR
// Default: $HOME/curriculum_data
func DataDir() string {
	if s := Var("BIDYA_DATA_DIR"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "curriculum_data"
	}

	return filepath.Join(home, "curriculum_data")
}

// BaseID gibt die Modell-ID oder den Pfad des Basis-Modells zurueck
// Konfigurierbar via BIDYA_BASE_ID
func BaseID() string {
	if s := Var("BIDYA_BASE_ID"); s != "" {
		return s
	}
	return DefaultBaseID
}

// Seed gibt den Seed fuer alle Shuffle-Operationen zurueck
// Konfigurierbar via BIDYA_SEED
// Default: 42
func Seed() uint64 {
	return Uint64("BIDYA_SEED", 42)()
}

// NumThreads gibt die Anzahl gleichzeitig verarbeiteter Tensoren zurueck
// Konfigurierbar via BIDYA_NUM_THREADS
// 0 = GOMAXPROCS
func NumThreads() int {
	if n := Uint("BIDYA_NUM_THREADS", 0)(); n > 0 {
		return int(n)
	}
	return runtime.GOMAXPROCS(0)
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via BIDYA_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("BIDYA_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
