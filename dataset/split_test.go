package dataset

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func makeRecords(groups map[GroupKey]int) []Record {
	var rs []Record
	for key, n := range groups {
		for i := range n {
			rs = append(rs, Record{
				Class:    key.Class,
				Subject:  key.Subject,
				Query:    fmt.Sprintf("%s q%d", key, i),
				Response: fmt.Sprintf("%s a%d", key, i),
			})
		}
	}
	return rs
}

func TestSplitInvariants(t *testing.T) {
	sizes := map[GroupKey]int{
		{"Class1", "maths"}:   100,
		{"Class1", "nepali"}:  37,
		{"Class10", "social"}: 9,
		{"Class2", "english"}: 3,
		{"Class3", "science"}: 1,
	}

	s, err := Split(makeRecords(sizes), DefaultRatios, 42)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]string)
	count := func(name string, rs []Record) map[GroupKey]int {
		m := make(map[GroupKey]int)
		for _, r := range rs {
			if prev, ok := seen[r.Query]; ok {
				t.Errorf("%q ist in %s und %s", r.Query, prev, name)
			}
			seen[r.Query] = name
			m[r.Key()]++
		}
		return m
	}

	train, val, test := count("train", s.Train), count("val", s.Val), count("test", s.Test)
	for key, n := range sizes {
		if got := train[key] + val[key] + test[key]; got != n {
			t.Errorf("%s: train+val+test = %d, erwartet %d", key, got, n)
		}

		if diff := float64(test[key]) - 0.1*float64(n); math.Abs(diff) >= 1 {
			t.Errorf("%s: test=%d weicht mehr als eine Zeile von 10%% ab", key, test[key])
		}
	}

	if train[GroupKey{"Class1", "maths"}] != 80 || val[GroupKey{"Class1", "maths"}] != 10 || test[GroupKey{"Class1", "maths"}] != 10 {
		t.Errorf("Class1/maths: got %d/%d/%d, erwartet 80/10/10",
			train[GroupKey{"Class1", "maths"}], val[GroupKey{"Class1", "maths"}], test[GroupKey{"Class1", "maths"}])
	}

	if train[GroupKey{"Class3", "science"}] != 1 {
		t.Error("Gruppe mit einer Zeile muss komplett in train landen")
	}
}

func TestSplitGroupsSorted(t *testing.T) {
	s, err := Split(makeRecords(map[GroupKey]int{
		{"Class2", "maths"}:   10,
		{"Class10", "maths"}:  10,
		{"Class1", "science"}: 10,
		{"Class1", "english"}: 10,
	}), DefaultRatios, 42)
	if err != nil {
		t.Fatal(err)
	}

	var keys []string
	for _, g := range s.Groups {
		keys = append(keys, g.String())
	}

	want := []string{"Class1/english", "Class1/science", "Class10/maths", "Class2/maths"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("Gruppenreihenfolge (-want +got):\n%s", diff)
	}
}

func TestSplitDeterministic(t *testing.T) {
	rs := makeRecords(map[GroupKey]int{{"Class1", "maths"}: 50, {"Class2", "social"}: 20})

	a, err := Split(rs, DefaultRatios, 42)
	if err != nil {
		t.Fatal(err)
	}

	b, err := Split(rs, DefaultRatios, 42)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("gleicher Seed sollte gleiches Ergebnis liefern (-a +b):\n%s", diff)
	}

	c, err := Split(rs, DefaultRatios, 7)
	if err != nil {
		t.Fatal(err)
	}

	if cmp.Equal(a.Train, c.Train) {
		t.Error("anderer Seed sollte eine andere Reihenfolge liefern")
	}
}

func TestSplitInvalidRatios(t *testing.T) {
	for _, r := range []Ratios{{Test: -0.1, Val: 0.1}, {Test: 0.1, Val: 1}, {Test: math.NaN(), Val: 0.1}} {
		if _, err := Split(nil, r, 42); !errors.Is(err, ErrInvalidRatio) {
			t.Errorf("Split(%+v) err = %v, erwartet ErrInvalidRatio", r, err)
		}
	}
}

func TestSplitInvalidRatiosOrder(t *testing.T) {
	// beide Anteile ungueltig: test wird immer zuerst gemeldet
	for range 20 {
		_, err := Split(nil, Ratios{Test: -1, Val: 2}, 42)
		if err == nil || !strings.HasSuffix(err.Error(), "test=-1") {
			t.Fatalf("err = %v, erwartet test=-1", err)
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	s, err := Split(nil, DefaultRatios, 42)
	if err != nil {
		t.Fatal(err)
	}

	if len(s.Train)+len(s.Val)+len(s.Test) != 0 || len(s.Groups) != 0 {
		t.Errorf("erwartet leere Splits, got %+v", s)
	}
}
