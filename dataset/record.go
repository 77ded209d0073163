// record.go - Curriculum-Datensatz und Gruppierung
// Enthaelt: Record, GroupKey, Header
package dataset

import (
	"cmp"
	"fmt"
)

// Header ist die Spaltenreihenfolge aller geschriebenen CSV-Dateien
var Header = []string{"class", "subject", "query", "response"}

// Record ist eine Frage/Antwort-Zeile einer Klasse und eines Fachs
type Record struct {
	Class    string `json:"class"`
	Subject  string `json:"subject"`
	Query    string `json:"query"`
	Response string `json:"response"`
}

// Key gibt die Gruppe (class, subject) des Records zurueck
func (r Record) Key() GroupKey {
	return GroupKey{Class: r.Class, Subject: r.Subject}
}

func (r Record) row() []string {
	return []string{r.Class, r.Subject, r.Query, r.Response}
}

// GroupKey identifiziert eine (class, subject) Gruppe
type GroupKey struct {
	Class   string
	Subject string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%s", k.Class, k.Subject)
}

// compareKeys sortiert lexikographisch nach class, dann subject
func compareKeys(a, b GroupKey) int {
	return cmp.Or(cmp.Compare(a.Class, b.Class), cmp.Compare(a.Subject, b.Subject))
}
