package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector-cli/internal/accounts"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect discovery run history",
	Long:  "Commands for listing, viewing, exporting, and summarizing discovery runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovery runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		account, _ := cmd.Flags().GetString("account")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status:    model.RunStatus(status),
			AccountID: account,
			Limit:     limit,
		}
		if since > 0 {
			filter.StartedAfter = time.Now().Add(-since)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs match.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Long:  "Prints the stored run record as JSON. With --stages, prints the per-stage breakdown instead.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		if byStage, _ := cmd.Flags().GetBool("stages"); byStage {
			results, err := st.ListStageResults(ctx, run.ID)
			if err != nil {
				return eris.Wrap(err, "runs show: stage results")
			}
			if len(results) == 0 {
				fmt.Fprintln(os.Stderr, "No stage results recorded.")
				return nil
			}
			formatStageResults(os.Stdout, results)
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs export --

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>...",
	Short: "Export qualified prospects from runs as CSV",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs := make([]*model.PipelineRun, 0, len(args))
		for _, id := range args {
			run, err := st.GetRun(ctx, id)
			if err != nil {
				return eris.Wrapf(err, "runs export: load run %s", id)
			}
			runs = append(runs, run)
		}

		output, _ := cmd.Flags().GetString("output")
		w := io.Writer(os.Stdout)
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return eris.Wrap(err, "runs export: create output file")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		return accounts.ExportProspectsCSV(w, runs...)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		since, _ := cmd.Flags().GetDuration("since")
		// The limit exists to bound pathological stores; the --since window
		// is what actually scopes the sample.
		filter := store.RunFilter{Limit: 10000}
		if since > 0 {
			filter.StartedAfter = time.Now().Add(-since)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, ok, partial, failed)")
	runsListCmd.Flags().String("account", "", "filter by CRM account ID")
	runsListCmd.Flags().Duration("since", 0, "only runs started within this window (e.g. 24h)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Bool("stages", false, "print the per-stage breakdown instead of the run JSON")

	runsExportCmd.Flags().String("output", "", "write CSV to file (default: stdout)")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats aggregates outcome counts, error kinds, spend, and durations
// across a set of runs.
type runStats struct {
	Total      int
	OK         int
	Partial    int
	Failed     int
	Running    int
	ByKind     map[model.ErrorKind]int
	TotalCost  float64
	AvgDurSecs float64
}

// computeRunStats folds a list of runs into aggregate counters. Average
// duration only counts runs that reached a terminal state.
func computeRunStats(runs []model.PipelineRun) runStats {
	s := runStats{ByKind: make(map[model.ErrorKind]int)}
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		s.TotalCost += r.TotalCost

		switch r.Status {
		case model.RunStatusOK:
			s.OK++
		case model.RunStatusPartial:
			s.Partial++
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Running++
		}

		if r.FirstError != nil {
			s.ByKind[r.FirstError.Kind]++
		}

		if r.CompletedAt != nil {
			totalDur += r.CompletedAt.Sub(r.StartedAt)
			durCount++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList renders one row per run with an aligned header.
func formatRunsList(out io.Writer, runs []model.PipelineRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tACCOUNT\tSTATUS\tQUALIFIED\tCOST\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t---------\t----\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		account := r.Account.ID
		if r.Account.Name != "" {
			account = r.Account.Name
		}
		if len(account) > 30 {
			account = account[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.2f\t%s\t%s\n",
			truncateID(r.ID),
			account,
			r.Status,
			len(r.Qualified),
			r.TotalCost,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatStageResults writes the per-stage breakdown of one run to w.
func formatStageResults(out io.Writer, results []model.StageResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tSTATUS\tFOUND\tKEPT\tCOST\tDURATION\tERROR")

	for _, sr := range results {
		errKind := "-"
		if sr.Error != nil {
			errKind = string(sr.Error.Kind)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%.4f\t%s\t%s\n",
			sr.Stage,
			sr.Status,
			sr.Found,
			sr.Kept,
			sr.Cost,
			time.Duration(sr.DurationMS)*time.Millisecond,
			errKind,
		)
	}
	_ = w.Flush()
}

// formatRunStats prints the aggregate counters, one per line.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "OK:\t%d\n", s.OK)
	_, _ = fmt.Fprintf(w, "Partial:\t%d\n", s.Partial)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	if s.Running > 0 {
		_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	}

	if len(s.ByKind) > 0 {
		kinds := make([]model.ErrorKind, 0, len(s.ByKind))
		for kind := range s.ByKind {
			kinds = append(kinds, kind)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		_, _ = fmt.Fprintln(w, "Errors by kind:")
		for _, kind := range kinds {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", kind, s.ByKind[kind])
		}
	}

	_, _ = fmt.Fprintf(w, "Total cost:\t$%.2f\n", s.TotalCost)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID to its first 8 characters for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
