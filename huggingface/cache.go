// cache.go - Cache-Management fuer HuggingFace Modelle
// Kompatibel mit der huggingface_hub Cache-Struktur:
// models--owner--name/refs/<revision> enthaelt den Commit,
// models--owner--name/snapshots/<commit>/ die Dateien.
package huggingface

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/bidyaai/bidya/envconfig"
)

// Cache-Konstanten
const (
	DefaultCacheSubdir = "huggingface/hub"
	CacheRefDir        = "refs"
	CacheSnapshotDir   = "snapshots"
	CacheModelPrefix   = "models--"
	// CacheCompleteDir enthaelt pro Commit die Liste der vollstaendig geladenen Dateien
	CacheCompleteDir = ".complete"
	DefaultRevision  = "main"
)

// GetCacheDir gibt das Cache-Verzeichnis zurueck
// Reihenfolge: HF_HUB_CACHE, HF_HOME/hub, Plattform-Default
func GetCacheDir() string {
	if cacheDir := envconfig.HFHubCache(); cacheDir != "" {
		return cacheDir
	}
	if hfHome := envconfig.HFHome(); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	return getDefaultCacheDir()
}

func getDefaultCacheDir() string {
	var baseDir string
	switch runtime.GOOS {
	case "windows":
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			baseDir = filepath.Join(userProfile, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	default:
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			baseDir = xdgCache
		} else if home, err := os.UserHomeDir(); err == nil {
			baseDir = filepath.Join(home, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	}
	return filepath.Join(baseDir, DefaultCacheSubdir)
}

func modelIDToCacheDir(modelID string) string {
	return CacheModelPrefix + strings.ReplaceAll(modelID, "/", "--")
}

// resolveRef loest eine Revision ueber refs/<revision> in einen Commit auf.
// Ohne Ref wird die Revision selbst als Snapshot-Name verwendet.
func resolveRef(cacheDir, modelID, revision string) string {
	b, err := os.ReadFile(filepath.Join(cacheDir, modelIDToCacheDir(modelID), CacheRefDir, revision))
	if err != nil {
		return revision
	}
	if commit := strings.TrimSpace(string(b)); commit != "" {
		return commit
	}
	return revision
}

func writeRef(cacheDir, modelID, revision, commit string) error {
	p := filepath.Join(cacheDir, modelIDToCacheDir(modelID), CacheRefDir, revision)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(commit), 0o644)
}

func snapshotPath(cacheDir, modelID, commit string) string {
	return filepath.Join(cacheDir, modelIDToCacheDir(modelID), CacheSnapshotDir, commit)
}

// completeSnapshot wird erst nach dem letzten erfolgreichen Download geschrieben.
// Files sind alle Dateien der Revision, die auf Patterns passen.
type completeSnapshot struct {
	Patterns []string `json:"patterns"`
	Files    []string `json:"files"`
}

func completePath(cacheDir, modelID, commit string) string {
	return filepath.Join(cacheDir, modelIDToCacheDir(modelID), CacheCompleteDir, commit+".json")
}

func readComplete(cacheDir, modelID, commit string) (*completeSnapshot, error) {
	b, err := os.ReadFile(completePath(cacheDir, modelID, commit))
	if err != nil {
		return nil, err
	}

	var cs completeSnapshot
	if err := json.Unmarshal(b, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// markComplete vereinigt patterns und files mit einer frueheren Markierung
func markComplete(cacheDir, modelID, commit string, patterns []string, files []APISibling) error {
	cs, err := readComplete(cacheDir, modelID, commit)
	if err != nil {
		cs = &completeSnapshot{}
	}

	cs.Patterns = union(cs.Patterns, patterns)
	for _, f := range files {
		cs.Files = union(cs.Files, []string{f.Filename})
	}

	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}

	p := completePath(cacheDir, modelID, commit)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o644)
}

func union(a, b []string) []string {
	for _, s := range b {
		if !slices.Contains(a, s) {
			a = append(a, s)
		}
	}
	return a
}

// CachedSnapshot gibt das Snapshot-Verzeichnis einer Revision zurueck, wenn ein
// Download mit allen patterns abgeschlossen wurde und jede dabei geladene Datei
// noch existiert. Abgebrochene Downloads haben keine Markierung und zaehlen nicht.
func CachedSnapshot(cacheDir, modelID, revision string, patterns []string) (string, bool) {
	if revision == "" {
		revision = DefaultRevision
	}

	commit := resolveRef(cacheDir, modelID, revision)
	cs, err := readComplete(cacheDir, modelID, commit)
	if err != nil || len(cs.Files) == 0 {
		return "", false
	}

	for _, pattern := range patterns {
		if !slices.Contains(cs.Patterns, pattern) {
			return "", false
		}
	}

	dir := snapshotPath(cacheDir, modelID, commit)
	for _, name := range cs.Files {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return "", false
		}
	}
	return dir, true
}
