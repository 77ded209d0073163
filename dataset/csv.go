// csv.go - CSV Ein-/Ausgabe fuer Records
// Hauptfunktionen: ReadCSV, WriteCSV
// Dateien mit Endung .zst oder .lz4 werden transparent (de)komprimiert.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrMissingColumn wird zurueckgegeben wenn eine Pflichtspalte im Header fehlt
var ErrMissingColumn = errors.New("missing column")

// ReadCSV liest Records aus einer CSV-Datei mit Header
// Die Spalten werden ueber den Header-Namen gefunden, zusaetzliche Spalten werden ignoriert.
func ReadCSV(path string) ([]Record, error) {
	rc, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return DecodeCSV(rc)
}

// DecodeCSV liest Records aus einem CSV-Stream
// Zu kurze Zeilen werden wie leere Felder behandelt (pandas liest sie als NaN).
func DecodeCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}

	columns := make([]int, len(Header))
	for i, name := range Header {
		n, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
		columns[i] = n
	}

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		if n := len(header) - len(row); n > 0 {
			row = append(row, make([]string, n)...)
		}

		records = append(records, Record{
			Class:    row[columns[0]],
			Subject:  row[columns[1]],
			Query:    row[columns[2]],
			Response: row[columns[3]],
		})
	}

	return records, nil
}

// WriteCSV schreibt Records mit Header in eine Datei
// Fehlende Elternverzeichnisse werden angelegt.
func WriteCSV(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	wc, err := createWriter(path)
	if err != nil {
		return err
	}

	if err := EncodeCSV(wc, records); err != nil {
		wc.Close()
		return err
	}

	return wc.Close()
}

// EncodeCSV schreibt Records mit Header in einen Stream
func EncodeCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}

	for _, r := range records {
		if err := cw.Write(r.row()); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// multiCloser schliesst den Kompressions-Stream vor der Datei
type multiCloser struct {
	io.Reader
	io.Writer
	closers []func() error
}

func (m *multiCloser) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func openReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &multiCloser{Reader: dec, closers: []func() error{
			func() error { dec.Close(); return nil },
			f.Close,
		}}, nil
	case ".lz4":
		return &multiCloser{Reader: lz4.NewReader(f), closers: []func() error{f.Close}}, nil
	default:
		return f, nil
	}
}

type writeCloser interface {
	io.Writer
	io.Closer
}

func createWriter(path string) (writeCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		enc, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &multiCloser{Writer: enc, closers: []func() error{enc.Close, f.Close}}, nil
	case ".lz4":
		lw := lz4.NewWriter(f)
		return &multiCloser{Writer: lw, closers: []func() error{lw.Close, f.Close}}, nil
	default:
		return f, nil
	}
}
