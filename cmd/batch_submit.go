package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/accounts"
	"github.com/sells-group/prospector-cli/internal/batchflow"
)

var batchSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a batch to the durable workflow queue",
	Long: `Loads an account list and hands it to Temporal as a DiscoverBatch
workflow. A running "prospector-cli worker" picks it up; the submitting
process can exit immediately.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if batchFile == "" {
			return eris.New("batch submit: --file is required")
		}
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		accts, err := accounts.Load(ctx, batchFile)
		if err != nil {
			return eris.Wrap(err, "batch submit: load accounts")
		}
		if batchLimit > 0 && len(accts) > batchLimit {
			accts = accts[:batchLimit]
		}

		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return eris.Wrap(err, "batch submit: dial temporal")
		}
		defer c.Close()

		opts := runOptions()
		opts.DryRun = batchDryRun

		workflowID, runID, err := batchflow.Submit(ctx, c, cfg.Temporal.TaskQueue, batchflow.BatchInput{
			Accounts:    accts,
			Options:     opts,
			MaxParallel: batchConcurrency,
		})
		if err != nil {
			return eris.Wrap(err, "batch submit")
		}

		zap.L().Info("batch submitted",
			zap.String("workflow_id", workflowID),
			zap.Int("accounts", len(accts)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"workflow_id": workflowID,
			"run_id":      runID,
		})
	},
}

func init() {
	batchCmd.AddCommand(batchSubmitCmd)
}
