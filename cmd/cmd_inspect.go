// cmd_inspect.go - inspect Command: GGUF-Metadaten und Tensoren anzeigen
// Hauptfunktionen: InspectHandler, showModel
package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"slices"

	"github.com/spf13/cobra"

	"github.com/bidyaai/bidya/convert"
	"github.com/bidyaai/bidya/fs/ggml"
)

// maxArrayValues - Arrays mit mehr Elementen werden nur gezaehlt
const maxArrayValues = 8

// InspectHandler - Dekodiert eine GGUF-Datei und prueft das Manifest daneben
func InspectHandler(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	tensors, _ := cmd.Flags().GetBool("tensors")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	file, err := ggml.Decode(f)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	w := cmd.OutOrStdout()
	showModel(w, file, verbose, tensors)

	dir := filepath.Dir(args[0])
	m, err := convert.ReadManifest(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	case m.File != filepath.Base(args[0]):
		return nil
	}

	if err := m.Verify(dir); err != nil {
		return fmt.Errorf("%s: %w", convert.ManifestFile, err)
	}
	fmt.Fprintf(w, "%s: ok (%s, xxh3 %s)\n", convert.ManifestFile, m.ID, m.XXH3)
	return nil
}

// showModel - Gibt Modell-, Metadaten- und Tensor-Tabellen aus
func showModel(w io.Writer, file *ggml.File, verbose, tensors bool) {
	tableRender := func(header string, rows [][]string) {
		fmt.Fprintln(w, " ", header)
		table := newTable(w)
		table.AppendBulk(rows)
		table.Render()
		fmt.Fprintln(w)
	}

	kv := file.KV
	arch := kv.Architecture()

	rows := [][]string{
		{"", "architecture", arch},
		{"", "parameters", humanNumber(file.Parameters())},
		{"", "file type", kv.FileType().String()},
		{"", "gguf version", fmt.Sprint(file.Version)},
	}
	for _, k := range []string{"context_length", "embedding_length", "block_count"} {
		if v, ok := kv[arch+"."+k]; ok {
			rows = append(rows, []string{"", k, fmt.Sprint(v)})
		}
	}
	if v, ok := kv["export.signatures"]; ok {
		rows = append(rows, []string{"", "signatures", formatValue(v)})
	}
	tableRender("Model", rows)

	if adapter := kv.String("adapter.type"); adapter != "" {
		tableRender("Adapter", [][]string{
			{"", "type", adapter},
			{"", "rank", fmt.Sprint(kv.Uint("adapter.lora.rank"))},
			{"", "alpha", fmt.Sprint(kv.Float("adapter.lora.alpha"))},
			{"", "modules", formatValue(kv.Strings("adapter.lora.modules"))},
		})
	}

	if verbose {
		rows = rows[:0]
		for _, k := range slices.Sorted(kv.Keys()) {
			rows = append(rows, []string{"", k, formatValue(kv[k])})
		}
		tableRender("Metadata", rows)
	}

	if tensors {
		rows = rows[:0]
		for _, t := range file.Tensors {
			rows = append(rows, []string{"", t.Name, t.Type(), fmt.Sprint(t.Shape), humanBytes(int64(t.Size()))})
		}
		tableRender("Tensors", rows)
	}
}

// formatValue - Kuerzt lange Arrays (z.B. tokenizer.ggml.tokens)
func formatValue(v any) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Len() > maxArrayValues {
		return fmt.Sprintf("[%d values]", rv.Len())
	}
	return fmt.Sprint(v)
}

// newInspectCmd - Erstellt den inspect Command
func newInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show metadata and tensors of an exported GGUF file",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}

	inspectCmd.Flags().BoolP("verbose", "v", false, "Show all metadata")
	inspectCmd.Flags().Bool("tensors", true, "Show tensor table")

	return inspectCmd
}
