// Package curriculum - Aufbereitung der Curriculum-Dialoge
//
// Liest pro Klasse und Fach eine JSON-Datei mit Dialogen
// (<root>/<class>/<subject>.json) und flacht jeden Dialog zu einer
// (class, subject, query, response) Zeile ab.
//
// Hauptkomponenten:
// - Flatten: Dialoge einer Datei in Records umwandeln
// - LoadSubject: Eine Fach-Datei laden
// - Prepare: Alle Klassen und Faecher durchlaufen
package curriculum

import (
	"log/slog"

	"golang.org/x/text/unicode/norm"

	"github.com/bidyaai/bidya/dataset"
)

// Rollen innerhalb eines Dialogs
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultClasses sind die Klassen 1 bis 10
var DefaultClasses = []string{
	"Class1", "Class2", "Class3", "Class4", "Class5",
	"Class6", "Class7", "Class8", "Class9", "Class10",
}

// DefaultSubjects sind die Faecher jeder Klasse
var DefaultSubjects = []string{"nepali", "english", "social", "maths", "science"}

// Message ist eine Nachricht mit Rolle
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Dialog ist ein Eintrag der JSON-Datei
type Dialog struct {
	Messages []Message `json:"messages"`
}

// first gibt den Inhalt der ersten Nachricht mit der Rolle zurueck
func (d Dialog) first(role string) (string, bool) {
	for _, m := range d.Messages {
		if m.Role == role {
			return m.Content, true
		}
	}
	return "", false
}

// Flatten wandelt Dialoge in Records um
// Pro Dialog wird die erste user- und die erste assistant-Nachricht verwendet.
// Dialoge ohne eine der beiden Rollen werden mit Warnung uebersprungen;
// die Anzahl uebersprungener Dialoge wird zurueckgegeben.
func Flatten(class, subject string, dialogs []Dialog) ([]dataset.Record, int) {
	records := make([]dataset.Record, 0, len(dialogs))
	var skipped int
	for i, d := range dialogs {
		query, ok := d.first(RoleUser)
		if !ok {
			slog.Warn("dialog has no user message, skipping", "class", class, "subject", subject, "index", i)
			skipped++
			continue
		}

		response, ok := d.first(RoleAssistant)
		if !ok {
			slog.Warn("dialog has no assistant message, skipping", "class", class, "subject", subject, "index", i)
			skipped++
			continue
		}

		records = append(records, dataset.Record{
			Class:    class,
			Subject:  subject,
			Query:    norm.NFC.String(query),
			Response: norm.NFC.String(response),
		})
	}

	return records, skipped
}
