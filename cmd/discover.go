package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/model"
)

var (
	discoverName   string
	discoverParent string
	discoverCity   string
	discoverState  string
)

var discoverCmd = &cobra.Command{
	Use:   "discover [account-id]",
	Short: "Run prospect discovery for one account",
	Long: `Runs the full discovery pipeline for a single CRM account: acquire
candidate profiles, validate and enrich them, rank against the buyer
persona, and queue qualified prospects for review.

The account is addressed by its Salesforce ID, or described inline with
--name/--city/--state when it is not in the CRM yet.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		account := model.AccountRef{
			Name:   discoverName,
			Parent: discoverParent,
			City:   discoverCity,
			State:  discoverState,
		}
		if len(args) > 0 {
			account.ID = args[0]
		}
		if account.ID == "" && account.Name == "" {
			return eris.New("discover: an account ID argument or --name is required")
		}

		env, err := initPipeline(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Pipeline.Run(ctx, account, discoverOptions(cmd))
		if err != nil {
			return eris.Wrap(err, "discover")
		}

		logRunSummary(run)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverName, "name", "", "account name (for accounts not yet in the CRM)")
	discoverCmd.Flags().StringVar(&discoverParent, "parent", "", "parent organization name")
	discoverCmd.Flags().StringVar(&discoverCity, "city", "", "account city")
	discoverCmd.Flags().StringVar(&discoverState, "state", "", "account state")
	addRunFlags(discoverCmd)
	rootCmd.AddCommand(discoverCmd)
}

// addRunFlags registers the per-run pipeline override flags.
func addRunFlags(c *cobra.Command) {
	c.Flags().String("mode", "", "acquisition mode: dataset, search, or combined (default from config)")
	c.Flags().Int("min-score", 0, "minimum fit score to qualify (default from config)")
	c.Flags().Int("max-prospects", 0, "max prospects to queue per run (default from config)")
	c.Flags().Float64("cost-ceiling", 0, "per-run spend ceiling in USD (default from config)")
	c.Flags().Int("min-connections", 0, "minimum connection count to keep a profile (default from config)")
	c.Flags().Bool("location-filter", false, "drop profiles located outside the account's state")
	c.Flags().Bool("dry-run", false, "run the pipeline without queueing pending updates")
}

// discoverOptions builds the run options from config defaults with any
// explicitly set flags layered on top.
func discoverOptions(cmd *cobra.Command) model.RunOptions {
	opts := runOptions()

	f := cmd.Flags()
	if f.Changed("mode") {
		v, _ := f.GetString("mode")
		opts.Mode = model.AcquireMode(v)
	}
	if f.Changed("min-score") {
		opts.MinScore, _ = f.GetInt("min-score")
	}
	if f.Changed("max-prospects") {
		opts.MaxProspects, _ = f.GetInt("max-prospects")
	}
	if f.Changed("cost-ceiling") {
		opts.CostCeiling, _ = f.GetFloat64("cost-ceiling")
	}
	if f.Changed("min-connections") {
		opts.MinConnections, _ = f.GetInt("min-connections")
	}
	if f.Changed("location-filter") {
		opts.UseLocationFilter, _ = f.GetBool("location-filter")
	}
	opts.DryRun, _ = f.GetBool("dry-run")

	return opts
}

// logRunSummary logs per-stage outcomes and the final tallies of a run.
func logRunSummary(run *model.PipelineRun) {
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("account", run.Account.Name),
	)

	for _, sr := range run.Stages {
		fields := []zap.Field{
			zap.String("name", string(sr.Stage)),
			zap.String("status", string(sr.Status)),
			zap.Int64("duration_ms", sr.DurationMS),
			zap.Int("found", sr.Found),
			zap.Int("kept", sr.Kept),
			zap.Float64("cost", sr.Cost),
		}
		if sr.Error != nil {
			fields = append(fields, zap.String("error", sr.Error.Error()))
		}
		log.Info("stage", fields...)
	}

	log.Info("discovery complete",
		zap.String("status", string(run.Status)),
		zap.Int("qualified", len(run.Qualified)),
		zap.Int("queued", len(run.QueuedIDs)),
		zap.Float64("total_cost", run.TotalCost),
	)
	if run.Recommendation != "" {
		log.Warn("recommendation", zap.String("detail", run.Recommendation))
	}
}
