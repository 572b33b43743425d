// Command batchpush previews tabular files and submits them to an ingestion
// endpoint from the command line.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/batchpush/internal/config"
	"github.com/JonMunkholm/batchpush/internal/core"
	"github.com/JonMunkholm/batchpush/internal/logging"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	baseURL  string
	logLevel string
	jsonOut  bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "batchpush",
		Short: "Preview tabular data and submit it to an ingestion endpoint",
		Long: `batchpush parses CSV, JSON and .xlsx files or shared spreadsheet links
into records, shows a preview, and submits them as one batch to
{base}/insert on the ingestion service.

Settings come from the environment (and a .env file); flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine.
			_ = godotenv.Load()

			level := opts.logLevel
			if level == "" {
				level = os.Getenv("LOG_LEVEL")
			}
			if level == "" {
				level = "warn"
			}
			slog.SetDefault(logging.New(stderr, level, os.Getenv("LOG_FORMAT")))
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "Ingestion service base URL (or set INGEST_BASE_URL)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: warn)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(
		newPreviewCmd(opts),
		newImportCmd(opts),
		newSubmitCmd(opts),
		newDiagnoseCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// loadConfig layers the flags over the environment.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	return config.LoadWith(config.Overlay(map[string]string{
		"INGEST_BASE_URL": o.baseURL,
		"LOG_LEVEL":       o.logLevel,
	}, os.LookupEnv))
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		if msg := core.FormatUserError(err); msg != "" && core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
