package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/batchflow"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the durable batch worker",
	Long: `Connects to Temporal and executes DiscoverBatch workflows from the task
queue. Each account in a batch becomes one activity backed by the full
discovery pipeline.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return eris.Wrap(err, "worker: dial temporal")
		}
		defer c.Close()

		acts, err := batchflow.NewActivities(env.Pipeline, env.Store)
		if err != nil {
			return err
		}

		w := batchflow.NewWorker(c, cfg.Temporal.TaskQueue, acts)

		zap.L().Info("worker started",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("namespace", cfg.Temporal.Namespace),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)

		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker: run")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
