// split.go - Gruppierter, stratifizierter Train/Val/Test-Split
// Hauptfunktionen: Split, DefaultRatios
package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/emirpasic/gods/v2/maps/treemap"
)

// ErrInvalidRatio wird fuer Anteile ausserhalb von [0, 1) zurueckgegeben
var ErrInvalidRatio = errors.New("invalid split ratio")

// Ratios beschreibt die Split-Anteile einer Gruppe
// Test ist der Anteil der gesamten Gruppe, Val der Anteil des verbleibenden Rests.
type Ratios struct {
	Test float64
	Val  float64
}

// DefaultRatios ergibt ca. 80/10/10 pro Gruppe (0.1111 * 0.9 ≈ 0.1)
var DefaultRatios = Ratios{Test: 0.10, Val: 0.1111}

func (r Ratios) validate() error {
	// test vor val, damit die Meldung stabil ist
	for _, ratio := range []struct {
		name string
		v    float64
	}{{"test", r.Test}, {"val", r.Val}} {
		if math.IsNaN(ratio.v) || ratio.v < 0 || ratio.v >= 1 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidRatio, ratio.name, ratio.v)
		}
	}
	return nil
}

// GroupCount enthaelt die Split-Groessen einer Gruppe
type GroupCount struct {
	GroupKey
	Total, Train, Val, Test int
}

// Splits enthaelt die drei disjunkten Teilmengen
type Splits struct {
	Train, Val, Test []Record

	// Groups ist nach (class, subject) sortiert
	Groups []GroupCount
}

// Split teilt Records pro (class, subject) Gruppe in Train/Val/Test
// Jede Gruppe wird mit dem Seed gemischt, dann wird zuerst der Test-Anteil
// und aus dem Rest der Val-Anteil abgeschnitten (jeweils aufgerundet).
// Wuerde ein Schnitt die Train-Seite leeren, entfaellt er und alle Zeilen bleiben in Train.
// Die zusammengefuegten Mengen werden abschliessend erneut gemischt.
func Split(records []Record, ratios Ratios, seed uint64) (*Splits, error) {
	if err := ratios.validate(); err != nil {
		return nil, err
	}

	groups := treemap.NewWith[GroupKey, []Record](compareKeys)
	for _, r := range records {
		rs, _ := groups.Get(r.Key())
		groups.Put(r.Key(), append(rs, r))
	}

	var s Splits
	it := groups.Iterator()
	for it.Next() {
		key, rows := it.Key(), it.Value()

		trainVal, test := cut(key, "test", rows, ratios.Test, seed)
		train, val := cut(key, "val", trainVal, ratios.Val, seed)

		s.Train = append(s.Train, train...)
		s.Val = append(s.Val, val...)
		s.Test = append(s.Test, test...)
		s.Groups = append(s.Groups, GroupCount{
			GroupKey: key,
			Total:    len(rows),
			Train:    len(train),
			Val:      len(val),
			Test:     len(test),
		})
	}

	shuffle(s.Train, seed)
	shuffle(s.Val, seed)
	shuffle(s.Test, seed)
	return &s, nil
}

// cut mischt eine Kopie der Zeilen und trennt ceil(ratio*n) Zeilen ab
func cut(key GroupKey, name string, rows []Record, ratio float64, seed uint64) (rest, part []Record) {
	rows = append([]Record(nil), rows...)
	shuffle(rows, seed)

	n := int(math.Ceil(ratio * float64(len(rows))))
	if n > 0 && n >= len(rows) {
		slog.Warn("group too small to split, keeping all rows in train", "group", key, "split", name, "rows", len(rows))
		return rows, nil
	}

	return rows[n:], rows[:n]
}

func shuffle(rows []Record, seed uint64) {
	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(len(rows), func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
	})
}
