// cache_test.go - Unit Tests fuer Cache-Management
package huggingface

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestGetCacheDir testet die Ermittlung des Cache-Verzeichnisses
func TestGetCacheDir(t *testing.T) {
	tests := []struct {
		name         string
		hfHubCache   string
		hfHome       string
		wantContains string // Teilstring der erwartet wird
	}{
		{
			name:         "HF_HUB_CACHE hat Prioritaet",
			hfHubCache:   "/custom/cache/path",
			hfHome:       "/other/path",
			wantContains: "/custom/cache/path",
		},
		{
			name:         "HF_HOME wird verwendet wenn HF_HUB_CACHE leer",
			hfHome:       "/hf/home",
			wantContains: "hub",
		},
		{
			name:         "Default wird verwendet wenn beide leer",
			wantContains: "huggingface",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HF_HUB_CACHE", tt.hfHubCache)
			t.Setenv("HF_HOME", tt.hfHome)

			result := GetCacheDir()

			if tt.hfHubCache != "" && result != tt.hfHubCache {
				t.Errorf("GetCacheDir() = %v, erwartet %v", result, tt.hfHubCache)
			} else if !strings.Contains(result, tt.wantContains) {
				t.Errorf("GetCacheDir() = %v, sollte %v enthalten", result, tt.wantContains)
			}
		})
	}
}

// TestModelIDToCacheDir testet die Konvertierung von Model-ID zu Cache-Dir
func TestModelIDToCacheDir(t *testing.T) {
	tests := []struct {
		modelID  string
		expected string
	}{
		{"google/gemma-3n-e2b-it", "models--google--gemma-3n-e2b-it"},
		{"google/gemma-3n-E4B-it", "models--google--gemma-3n-E4B-it"},
	}

	for _, tt := range tests {
		if got := modelIDToCacheDir(tt.modelID); got != tt.expected {
			t.Errorf("modelIDToCacheDir(%q) = %q, erwartet %q", tt.modelID, got, tt.expected)
		}
	}
}

// TestCachedSnapshot testet Cache-Treffer ueber Refs, Revisionen und Abschluss-Markierung
func TestCachedSnapshot(t *testing.T) {
	cacheDir := t.TempDir()
	modelID := "test-org/test-model"
	patterns := []string{"*.json", "*.safetensors"}

	if _, found := CachedSnapshot(cacheDir, modelID, "", patterns); found {
		t.Error("CachedSnapshot sollte false zurueckgeben fuer nicht-existierendes Modell")
	}

	commit := "0123456789abcdef"
	snapshot := snapshotPath(cacheDir, modelID, commit)
	if err := os.MkdirAll(snapshot, 0o755); err != nil {
		t.Fatalf("Verzeichnis erstellen fehlgeschlagen: %v", err)
	}
	for _, name := range []string{"config.json", "model.safetensors"} {
		if err := os.WriteFile(filepath.Join(snapshot, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeRef(cacheDir, modelID, "main", commit); err != nil {
		t.Fatal(err)
	}

	// Dateien ohne Markierung stammen von einem abgebrochenen Download
	if _, found := CachedSnapshot(cacheDir, modelID, "main", patterns); found {
		t.Error("CachedSnapshot sollte ohne Abschluss-Markierung false zurueckgeben")
	}

	files := []APISibling{{Filename: "config.json"}, {Filename: "model.safetensors"}}
	if err := markComplete(cacheDir, modelID, commit, patterns, files); err != nil {
		t.Fatal(err)
	}

	path, found := CachedSnapshot(cacheDir, modelID, "main", patterns)
	if !found || path != snapshot {
		t.Errorf("CachedSnapshot = (%q, %v), erwartet (%q, true)", path, found, snapshot)
	}

	// Commit direkt als Revision
	if path, found := CachedSnapshot(cacheDir, modelID, commit, patterns[:1]); !found || path != snapshot {
		t.Errorf("CachedSnapshot(commit) = (%q, %v)", path, found)
	}

	// Pattern, das beim Download nicht angefragt wurde
	if _, found := CachedSnapshot(cacheDir, modelID, "main", []string{"tokenizer.model"}); found {
		t.Error("CachedSnapshot sollte false zurueckgeben fuer nicht geladene Patterns")
	}

	// geloeschte Datei
	if err := os.Remove(filepath.Join(snapshot, "model.safetensors")); err != nil {
		t.Fatal(err)
	}
	if _, found := CachedSnapshot(cacheDir, modelID, "main", patterns); found {
		t.Error("CachedSnapshot sollte false zurueckgeben wenn eine Datei fehlt")
	}
}

// TestMarkCompleteMerges testet, dass spaetere Downloads die Markierung erweitern
func TestMarkCompleteMerges(t *testing.T) {
	cacheDir := t.TempDir()
	modelID := "test-org/test-model"

	if err := markComplete(cacheDir, modelID, "abc", []string{"*.json"}, []APISibling{{Filename: "config.json"}}); err != nil {
		t.Fatal(err)
	}
	if err := markComplete(cacheDir, modelID, "abc", []string{"*.json", "tokenizer.model"}, []APISibling{{Filename: "config.json"}, {Filename: "tokenizer.model"}}); err != nil {
		t.Fatal(err)
	}

	cs, err := readComplete(cacheDir, modelID, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(cs.Patterns, ",") != "*.json,tokenizer.model" || strings.Join(cs.Files, ",") != "config.json,tokenizer.model" {
		t.Errorf("Markierung = %+v", cs)
	}
}
