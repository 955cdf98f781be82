package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/form-detector/internal/model"
	"github.com/sells-group/form-detector/internal/pipeline"
	"github.com/sells-group/form-detector/internal/report"
	"github.com/sells-group/form-detector/internal/urllist"
)

var (
	analyzeFile   string
	analyzeOut    string
	analyzeFormat string
	analyzeUpload bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [urls...]",
	Short: "Classify the PDFs at the given URLs",
	Long: `Downloads each PDF in order and classifies it as a fillable form or a
read-only document. URLs come from the arguments, --file (use - for stdin), or
stdin when neither is given. Newlines and commas both separate URLs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeUpload && !cfg.Storage.Enabled {
			return eris.New("--upload requires storage.enabled (FORMDETECT_STORAGE_ENABLED)")
		}
		if !validFormat(analyzeFormat) {
			return eris.Errorf("unsupported format %q (table, json or yaml)", analyzeFormat)
		}

		text, err := collectInput(cmd.InOrStdin(), args, analyzeFile)
		if err != nil {
			return err
		}
		urls, err := urllist.ParseAndValidate(text, cfg.Limits.MaxURLs)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "analyze", pipeline.ObserverFunc(logEvent))
		if err != nil {
			return err
		}
		defer env.Close()

		run := env.Pipeline.Run(ctx, urls)

		out := analyzeOut
		if out == "" {
			out = cfg.Report.Path
		}
		path, err := report.Export(out, run.Items)
		if err != nil {
			return err
		}

		sum := newRunSummary(run, path)
		if analyzeUpload && path != "" {
			link, err := env.Publisher.Publish(ctx, run.ID, path)
			if err != nil {
				return eris.Wrap(err, "upload report")
			}
			sum.ReportURL = link
		}

		return writeSummary(cmd.OutOrStdout(), analyzeFormat, sum)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "read URLs from a file (- for stdin)")
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "spreadsheet path (default from config)")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "table", "summary format: table, json or yaml")
	analyzeCmd.Flags().BoolVar(&analyzeUpload, "upload", false, "upload the spreadsheet to object storage and print a link")
	rootCmd.AddCommand(analyzeCmd)
}

// collectInput gathers the raw URL text. Arguments and --file are combined;
// stdin is read only when neither is given or --file is "-".
func collectInput(stdin io.Reader, args []string, file string) (string, error) {
	parts := make([]string, 0, 2)
	if len(args) > 0 {
		parts = append(parts, strings.Join(args, "\n"))
	}

	switch {
	case file == "-" || (file == "" && len(args) == 0):
		text, err := urllist.ReadSource(stdin)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return "", eris.Wrapf(err, "open url file %s", file)
		}
		defer f.Close() //nolint:errcheck
		text, err := urllist.ReadSource(f)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}

	return strings.Join(parts, "\n"), nil
}

func logEvent(e pipeline.Event) {
	switch e.Kind {
	case pipeline.EventRunStarted:
		zap.L().Info("run started", zap.String("run_id", e.RunID), zap.Int("total", e.Progress.Total))
	case pipeline.EventItemUpdated:
		if e.Item == nil {
			return
		}
		fields := []zap.Field{
			zap.String("run_id", e.RunID),
			zap.String("item_id", e.Item.ID),
			zap.String("url", e.Item.URL),
			zap.String("status", string(e.Item.Status)),
			zap.String("progress", fmt.Sprintf("%d/%d", e.Progress.Current, e.Progress.Total)),
		}
		if e.Item.ErrorMessage != nil {
			fields = append(fields, zap.String("error", *e.Item.ErrorMessage))
		}
		zap.L().Info("item updated", fields...)
	case pipeline.EventRunCompleted:
		zap.L().Info("run completed", zap.String("run_id", e.RunID))
	}
}

// runSummary is what analyze prints once a run finishes.
type runSummary struct {
	RunID      string       `json:"run_id" yaml:"run_id"`
	Stats      model.Stats  `json:"stats" yaml:"stats"`
	ReportPath string       `json:"report_path,omitempty" yaml:"report_path,omitempty"`
	ReportURL  string       `json:"report_url,omitempty" yaml:"report_url,omitempty"`
	Rows       []report.Row `json:"rows" yaml:"rows"`
}

func newRunSummary(run *model.Run, reportPath string) runSummary {
	return runSummary{
		RunID:      run.ID,
		Stats:      run.Stats(),
		ReportPath: reportPath,
		Rows:       report.Rows(run.Items),
	}
}

func validFormat(format string) bool {
	switch format {
	case "table", "json", "yaml":
		return true
	}
	return false
}

func writeSummary(out io.Writer, format string, sum runSummary) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(sum); err != nil {
			return eris.Wrap(err, "encode summary")
		}
		return enc.Close()
	default:
		formatRows(out, sum)
		return nil
	}
}

// formatRows writes the results table followed by totals.
func formatRows(out io.Writer, sum runSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILENAME\tSTATUS\tFIELDS\tSUMMARY")
	_, _ = fmt.Fprintln(w, "--------\t------\t------\t-------")
	for _, r := range sum.Rows {
		detail := r.Summary
		if r.Error != "" {
			detail = r.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Filename, r.Status, r.FieldCount, truncate(detail, 60))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nTotal: %d  Fillable: %d  Read-only: %d  Errors: %d\n",
		sum.Stats.Total, sum.Stats.Fillable, sum.Stats.ReadOnly, sum.Stats.Errored)
	if sum.ReportPath != "" {
		_, _ = fmt.Fprintf(out, "Report: %s\n", sum.ReportPath)
	}
	if sum.ReportURL != "" {
		_, _ = fmt.Fprintf(out, "Link: %s\n", sum.ReportURL)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
