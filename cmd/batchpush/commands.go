package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/batchpush/internal/config"
	"github.com/JonMunkholm/batchpush/internal/core"
	"github.com/JonMunkholm/batchpush/internal/history"
	"github.com/JonMunkholm/batchpush/internal/transport"
)

func newPreviewCmd(opts *globalOptions) *cobra.Command {
	var rows int

	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Parse a CSV, JSON or .xlsx file and show the first records",
		Long: `Parse a file locally and show the union of its fields and the first
records. Nothing is sent anywhere, so no base URL is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			rs := core.Parse(core.RawInput{Filename: filepath.Base(args[0]), Data: data})
			if err := rs.Err(); err != nil {
				return err
			}
			p := core.Normalize(rs, rows)
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPreview(filepath.Base(args[0]), p))
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", core.DefaultPreviewRows, "Number of records to show")
	return cmd
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var rows int

	cmd := &cobra.Command{
		Use:   "import <url>",
		Short: "Fetch a shared spreadsheet as CSV and show the first records",
		Long: `Resolve a shared spreadsheet link into CSV by trying its export URLs in
order, then show a preview. The sheet must be shared as "Anyone with the
link" with Viewer access. The ingestion endpoint is not contacted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := config.LoadSheets(os.LookupEnv)
			if err != nil {
				return err
			}
			client := transport.New(sc.ExportBaseURL,
				transport.WithTimeout(sc.Timeout),
				transport.WithMaxAttempts(1),
			)
			importer := core.NewSheetImporter(client, core.WithExportBaseURL(sc.ExportBaseURL))

			rs := importer.Import(cmd.Context(), args[0])
			if err := rs.Err(); err != nil {
				return err
			}
			p := core.Normalize(rs, rows)
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPreview(args[0], p))
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", core.DefaultPreviewRows, "Number of records to show")
	return cmd
}

func newSubmitCmd(opts *globalOptions) *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "submit <file|url>",
		Short: "Parse a file or shared spreadsheet and submit it as one batch",
		Long: `Parse a file (or fetch a shared spreadsheet) and POST every record to
{base}/insert. Without --table the configured default table is used.

Network failures are retried by the client; anything else is reported
once. The command exits non-zero when any record was not inserted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.newService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			staged, err := stageSource(cmd, svc, args[0])
			if err != nil {
				return err
			}

			result, err := svc.Submit(cmd.Context(), staged.StagingID, table)
			if result.BatchID != "" {
				if opts.jsonOut {
					if jerr := writeJSON(cmd.OutOrStdout(), result); jerr != nil {
						return jerr
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), renderResult(result))
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&table, "table", "t", "", "Target table (default: INGEST_DEFAULT_TABLE)")
	return cmd
}

// stageSource parses a local file or imports a spreadsheet link.
func stageSource(cmd *cobra.Command, svc *core.Service, source string) (core.StagedPreview, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return svc.Import(cmd.Context(), source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return core.StagedPreview{}, fmt.Errorf("read %s: %w", source, err)
	}
	return svc.Preview(cmd.Context(), core.RawInput{Filename: filepath.Base(source), Data: data})
}

func newDiagnoseCmd(opts *globalOptions) *cobra.Command {
	var probe string

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check connectivity and cross-origin acceptance of the endpoint",
		Long: `Run read-only probes against {base}/api/health (falling back to {base}/):

  connectivity  the endpoint answers a plain request
  cross_origin  the endpoint accepts requests from the configured origin
  credentialed  the endpoint accepts credentialed cross-origin requests

Probes are advisory; the command exits non-zero when any probe fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.newService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			var report core.Report
			if probe != "" {
				res, err := svc.Probe(cmd.Context(), probe)
				if err != nil {
					return err
				}
				report = core.Report{Probes: []core.ProbeResult{res}}
			} else {
				report = svc.Diagnose(cmd.Context())
			}

			if opts.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderReport(report))
			}
			if !report.OK() {
				return errProbesFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&probe, "probe", "", "Run a single probe: "+strings.Join(core.ProbeNames, ", "))
	return cmd
}

var errProbesFailed = errors.New("one or more diagnostic probes failed")

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent submissions recorded in the history database",
		Long: `List recent submissions. History is only kept across runs when
DATABASE_URL points at PostgreSQL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Persistent() {
				return fmt.Errorf("history needs DATABASE_URL")
			}
			store, err := history.Open(cmd.Context(), cfg.History)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderHistory(entries))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", history.DefaultRecentLimit, "Number of submissions to list")
	return cmd
}

// newService builds a Service from the environment and flags. Submission
// history goes to PostgreSQL when configured.
func (o *globalOptions) newService(cmd *cobra.Command) (*core.Service, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	var store history.Store = history.NewMemoryStore(cfg.History.MemoryLimit)
	if cfg.History.Persistent() {
		pg, err := history.Open(cmd.Context(), cfg.History)
		if err != nil {
			return nil, nil, err
		}
		store = pg
	}

	svc := core.NewServiceFromConfig(cfg, store)
	return svc, func() {
		svc.Close()
		store.Close()
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
