// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bidyaai/bidya/envconfig"
	"github.com/bidyaai/bidya/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// setupLogger - Setzt den Default-Logger auf stderr mit dem Level aus BIDYA_DEBUG
func setupLogger(cmd *cobra.Command, _ []string) {
	slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "bidya",
		Short:         "Curriculum dataset preparation and Gemma 3n LoRA export",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: setupLogger,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	prepareCmd := newPrepareCmd()
	splitCmd := newSplitCmd()
	convertCmd := newConvertCmd()
	inspectCmd := newInspectCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()

	for _, cmd := range []*cobra.Command{
		prepareCmd,
		splitCmd,
		convertCmd,
		inspectCmd,
	} {
		switch cmd {
		case prepareCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["BIDYA_DEBUG"], envVars["BIDYA_DATA_DIR"]})
		case splitCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["BIDYA_DEBUG"], envVars["BIDYA_DATA_DIR"], envVars["BIDYA_SEED"]})
		case convertCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["BIDYA_DEBUG"],
				envVars["BIDYA_BASE_ID"],
				envVars["BIDYA_NUM_THREADS"],
				envVars["HF_TOKEN"],
				envVars["HF_HOME"],
				envVars["HF_HUB_CACHE"],
				envVars["HF_ENDPOINT"],
				envVars["HF_HUB_DOWNLOAD_TIMEOUT"],
			})
		default:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["BIDYA_DEBUG"]})
		}
	}

	rootCmd.AddCommand(
		prepareCmd,
		splitCmd,
		convertCmd,
		inspectCmd,
	)

	return rootCmd
}
