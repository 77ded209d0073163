// cmd_prepare.go - prepare Command: Curriculum-JSON nach CSV
// Hauptfunktionen: PrepareHandler, newPrepareCmd
package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bidyaai/bidya/curriculum"
	"github.com/bidyaai/bidya/dataset"
	"github.com/bidyaai/bidya/envconfig"
)

// previewRows ist die Anzahl der Zeilen in der Vorschau
const previewRows = 5

// PrepareHandler - Laedt alle Fach-Dateien und schreibt eine CSV
func PrepareHandler(cmd *cobra.Command, args []string) error {
	root, _ := cmd.Flags().GetString("root")
	out, _ := cmd.Flags().GetString("out")
	classes, _ := cmd.Flags().GetStringSlice("classes")
	subjects, _ := cmd.Flags().GetStringSlice("subjects")

	if out == "" {
		out = defaultDataPath(root, dataFile)
	}

	report, err := curriculum.Prepare(cmd.Context(), curriculum.Options{
		Root:     root,
		Classes:  classes,
		Subjects: subjects,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	showPreview(w, report.Records)

	if err := dataset.WriteCSV(out, report.Records); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	slog.Info("prepared",
		"records", len(report.Records),
		"loaded", report.Count(curriculum.StatusLoaded),
		"missing", report.Count(curriculum.StatusMissing),
		"failed", report.Count(curriculum.StatusFailed),
		"skipped", report.Skipped())

	fmt.Fprintf(w, "Saved %d records to %s\n", len(report.Records), out)
	return nil
}

// showPreview - Gibt die ersten Records als Tabelle aus
func showPreview(w io.Writer, records []dataset.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records.")
		return
	}

	table := newTable(w, dataset.Header...)
	for _, r := range records[:min(previewRows, len(records))] {
		table.Append([]string{r.Class, r.Subject, truncate(r.Query, previewWidth), truncate(r.Response, previewWidth)})
	}
	table.Render()
	fmt.Fprintln(w)
}

// newPrepareCmd - Erstellt den prepare Command
func newPrepareCmd() *cobra.Command {
	prepareCmd := &cobra.Command{
		Use:   "prepare",
		Short: "Flatten curriculum dialogs into a CSV file",
		Args:  cobra.NoArgs,
		RunE:  PrepareHandler,
	}

	prepareCmd.Flags().String("root", envconfig.DataDir(), "Curriculum root containing <class>/<subject>.json")
	prepareCmd.Flags().String("out", "", "Output CSV (default \"<root>/final_data/data.csv\"); .zst and .lz4 are compressed")
	prepareCmd.Flags().StringSlice("classes", curriculum.DefaultClasses, "Classes to load")
	prepareCmd.Flags().StringSlice("subjects", curriculum.DefaultSubjects, "Subjects to load per class")

	return prepareCmd
}
