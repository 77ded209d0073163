// prepare.go - Laden aller Fach-Dateien
// Hauptfunktionen: LoadSubject, Prepare
package curriculum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/bidyaai/bidya/dataset"
)

// FileStatus ist das Ergebnis einer einzelnen Fach-Datei
type FileStatus string

const (
	StatusLoaded  FileStatus = "loaded"
	StatusMissing FileStatus = "missing"
	StatusFailed  FileStatus = "failed"
)

// FileResult beschreibt was aus einer Fach-Datei geladen wurde
type FileResult struct {
	Status  FileStatus `json:"status"`
	Records int        `json:"records"`
	Skipped int        `json:"skipped,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Report fasst einen Prepare-Lauf zusammen
type Report struct {
	Records []dataset.Record `json:"-"`

	// Files ist in Verarbeitungsreihenfolge (Klasse, dann Fach) sortiert
	Files *orderedmap.OrderedMap[string, FileResult] `json:"files"`
}

// Count zaehlt die Dateien mit dem Status
func (r *Report) Count(status FileStatus) int {
	var n int
	for pair := r.Files.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Status == status {
			n++
		}
	}
	return n
}

// Skipped gibt die Anzahl uebersprungener Dialoge zurueck
func (r *Report) Skipped() int {
	var n int
	for pair := r.Files.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.Skipped
	}
	return n
}

// Options konfiguriert Prepare
type Options struct {
	Root     string
	Classes  []string
	Subjects []string
}

// SubjectPath gibt den Pfad der JSON-Datei eines Fachs zurueck
func SubjectPath(root, class, subject string) string {
	return filepath.Join(root, class, subject+".json")
}

// LoadSubject laedt und flacht eine Fach-Datei ab
func LoadSubject(root, class, subject string) ([]dataset.Record, int, error) {
	bts, err := os.ReadFile(SubjectPath(root, class, subject))
	if err != nil {
		return nil, 0, err
	}

	var dialogs []Dialog
	if err := json.Unmarshal(bts, &dialogs); err != nil {
		return nil, 0, fmt.Errorf("decode %s/%s.json: %w", class, subject, err)
	}

	records, skipped := Flatten(class, subject, dialogs)
	return records, skipped, nil
}

// Prepare durchlaeuft alle Klassen und Faecher
// Fehlende oder fehlerhafte Dateien werden protokolliert und uebersprungen.
// Nur ein abgebrochener Context beendet den Lauf vorzeitig.
func Prepare(ctx context.Context, opts Options) (*Report, error) {
	if len(opts.Classes) == 0 {
		opts.Classes = DefaultClasses
	}

	if len(opts.Subjects) == 0 {
		opts.Subjects = DefaultSubjects
	}

	report := Report{Files: orderedmap.New[string, FileResult]()}
	for _, class := range opts.Classes {
		for _, subject := range opts.Subjects {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			name := class + "/" + subject + ".json"
			slog.Info("loading", "file", SubjectPath(opts.Root, class, subject))

			records, skipped, err := LoadSubject(opts.Root, class, subject)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				slog.Warn("file not found, skipping", "file", name)
				report.Files.Set(name, FileResult{Status: StatusMissing})
			case err != nil:
				slog.Error("error processing file, skipping", "file", name, "error", err)
				report.Files.Set(name, FileResult{Status: StatusFailed, Error: err.Error()})
			default:
				report.Records = append(report.Records, records...)
				report.Files.Set(name, FileResult{Status: StatusLoaded, Records: len(records), Skipped: skipped})
			}
		}
	}

	return &report, nil
}
