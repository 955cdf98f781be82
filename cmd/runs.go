package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/form-detector/internal/model"
	"github.com/sells-group/form-detector/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing and viewing persisted analysis runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's items and totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if !validFormat(format) {
			return eris.Errorf("unsupported format %q (table, json or yaml)", format)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		return writeSummary(cmd.OutOrStdout(), format, newRunSummary(run, ""))
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsShowCmd.Flags().String("format", "table", "output format: table, json or yaml")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tITEMS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.Progress.Current,
			r.Progress.Total,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
