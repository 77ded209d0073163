// cmd_split.go - split Command: Train/Val/Test-Split der CSV
// Hauptfunktionen: SplitHandler, newSplitCmd
package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bidyaai/bidya/dataset"
	"github.com/bidyaai/bidya/envconfig"
)

// splitFiles - Dateinamen der drei Teilmengen
var splitFiles = [...]string{"dataset_train.csv", "dataset_val.csv", "dataset_test.csv"}

// SplitHandler - Teilt die CSV pro (class, subject) in Train/Val/Test
func SplitHandler(cmd *cobra.Command, args []string) error {
	in, _ := cmd.Flags().GetString("in")
	outDir, _ := cmd.Flags().GetString("out-dir")
	seed, _ := cmd.Flags().GetUint64("seed")
	testSize, _ := cmd.Flags().GetFloat64("test-size")
	valSize, _ := cmd.Flags().GetFloat64("val-size")
	groups, _ := cmd.Flags().GetBool("groups")

	if in == "" {
		in = defaultDataPath("", dataFile)
	}
	if outDir == "" {
		outDir = filepath.Dir(in)
	}

	records, err := dataset.ReadCSV(in)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}

	s, err := dataset.Split(records, dataset.Ratios{Test: testSize, Val: valSize}, seed)
	if err != nil {
		return err
	}

	for i, rs := range [][]dataset.Record{s.Train, s.Val, s.Test} {
		path := filepath.Join(outDir, splitFiles[i])
		if err := dataset.WriteCSV(path, rs); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	w := cmd.OutOrStdout()
	if groups {
		showGroups(w, s.Groups)
	}

	fmt.Fprintln(w, "Splits created:")
	fmt.Fprintf(w, " • Train: %d rows\n", len(s.Train))
	fmt.Fprintf(w, " • Val:   %d rows\n", len(s.Val))
	fmt.Fprintf(w, " • Test:  %d rows\n", len(s.Test))
	return nil
}

// showGroups - Gibt die Split-Groessen pro Gruppe aus
func showGroups(w io.Writer, groups []dataset.GroupCount) {
	table := newTable(w, "CLASS", "SUBJECT", "TOTAL", "TRAIN", "VAL", "TEST")
	for _, g := range groups {
		table.Append([]string{
			g.Class,
			g.Subject,
			strconv.Itoa(g.Total),
			strconv.Itoa(g.Train),
			strconv.Itoa(g.Val),
			strconv.Itoa(g.Test),
		})
	}
	table.Render()
	fmt.Fprintln(w)
}

// newSplitCmd - Erstellt den split Command
func newSplitCmd() *cobra.Command {
	splitCmd := &cobra.Command{
		Use:   "split",
		Short: "Split the dataset into train, validation and test sets",
		Args:  cobra.NoArgs,
		RunE:  SplitHandler,
	}

	splitCmd.Flags().String("in", "", "Input CSV (default \"$BIDYA_DATA_DIR/final_data/data.csv\")")
	splitCmd.Flags().String("out-dir", "", "Output directory (default: directory of --in)")
	splitCmd.Flags().Uint64("seed", envconfig.Seed(), "Shuffle seed")
	splitCmd.Flags().Float64("test-size", dataset.DefaultRatios.Test, "Test share of each group")
	splitCmd.Flags().Float64("val-size", dataset.DefaultRatios.Val, "Validation share of the rest of each group")
	splitCmd.Flags().Bool("groups", false, "Show split sizes per class and subject")

	return splitCmd
}
