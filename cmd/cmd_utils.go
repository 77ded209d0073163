// cmd_utils.go - Hilfsfunktionen fuer die Commands
// Hauptfunktionen: newTable, humanBytes, humanNumber, defaultDataPath, hubClient
package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"

	"github.com/bidyaai/bidya/envconfig"
	"github.com/bidyaai/bidya/huggingface"
)

// Dateinamen unterhalb von <data_dir>/final_data
const (
	finalDataDir = "final_data"
	dataFile     = "data.csv"
)

// previewWidth begrenzt query/response in der Vorschau
const previewWidth = 40

// defaultDataPath - Pfad unterhalb von <root>/final_data
// Ein leeres root steht fuer BIDYA_DATA_DIR.
func defaultDataPath(root string, elem ...string) string {
	if root == "" {
		root = envconfig.DataDir()
	}
	return filepath.Join(append([]string{root, finalDataDir}, elem...)...)
}

// hubClient - Hub Client mit HF_HUB_DOWNLOAD_TIMEOUT und Proxy aus der Umgebung
func hubClient() *huggingface.Client {
	return huggingface.NewClient(huggingface.WithHTTPClient(huggingface.NewHTTPClient(envconfig.HFDownloadTimeout())))
}

// newTable - Linksbuendige Tabelle ohne Rahmen
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		table.SetHeader(header)
	}
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// truncate - Kuerzt s auf die Anzeigebreite w
func truncate(s string, w int) string {
	return runewidth.Truncate(s, w, "...")
}

// humanBytes - Formatiert eine Byte-Anzahl (1000er-Basis)
func humanBytes(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}

	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// humanNumber - Formatiert Parameter-Anzahlen (z.B. 5.4B)
func humanNumber(n uint64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}
