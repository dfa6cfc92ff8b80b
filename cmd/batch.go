package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector-cli/internal/accounts"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/resilience"
	"github.com/sells-group/prospector-cli/internal/store"
)

var (
	batchFile        string
	batchLimit       int
	batchConcurrency int
	batchDryRun      bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run discovery for a file of accounts",
	Long: `Reads an account list from a CSV or XLSX export and runs the discovery
pipeline for each account concurrently. Failed accounts are parked in the
dead letter queue for a later "batch retry".`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batchFile == "" {
			return eris.New("batch: --file is required")
		}

		accts, err := accounts.Load(ctx, batchFile)
		if err != nil {
			return eris.Wrap(err, "batch: load accounts")
		}
		zap.L().Info("accounts loaded", zap.Int("accounts", len(accts)), zap.String("file", batchFile))

		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := runOptions()
		opts.DryRun = batchDryRun

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentAccounts
		}

		// One sequential call writes the shared rank prompt cache before the
		// concurrent runs start reading it.
		if err := env.Pipeline.WarmRankCache(ctx); err != nil {
			zap.L().Warn("rank cache warmup failed", zap.Error(err))
		}

		return processBatch(ctx, accts, batchLimit, concurrency, env.Store, func(ctx context.Context, account model.AccountRef) (*model.PipelineRun, error) {
			return env.Pipeline.Run(ctx, account, opts)
		})
	},
}

// -- batch retry --

var batchRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry accounts parked in the dead letter queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		errType, _ := cmd.Flags().GetString("type")

		entries, err := env.Store.DequeueDLQ(ctx, resilience.DLQFilter{
			ErrorType: errType,
			Limit:     batchLimit,
		})
		if err != nil {
			return eris.Wrap(err, "batch retry: dequeue")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No retryable entries in the dead letter queue.")
			return nil
		}

		opts := runOptions()
		opts.DryRun = batchDryRun

		var recovered, stillFailing int
		for _, entry := range entries {
			log := zap.L().With(
				zap.String("account", entry.Account.Name),
				zap.Int("attempt", entry.RetryCount+1),
			)

			run, runErr := env.Pipeline.Run(ctx, entry.Account, opts)
			if runErr == nil && run.Status != model.RunStatusFailed {
				recovered++
				log.Info("retry succeeded",
					zap.String("run_id", run.ID),
					zap.String("status", string(run.Status)),
				)
				if err := env.Store.RemoveDLQ(ctx, entry.ID); err != nil {
					log.Warn("remove dlq entry", zap.Error(err))
				}
				continue
			}

			stillFailing++
			cause := runErr
			if cause == nil && run.FirstError != nil {
				cause = run.FirstError
			}
			if cause == nil {
				cause = eris.New("run failed")
			}
			log.Warn("retry failed", zap.Error(cause))

			next := time.Now().UTC().Add(dlqBackoff(entry.RetryCount))
			if err := env.Store.IncrementDLQRetry(ctx, entry.ID, next, cause.Error()); err != nil {
				log.Warn("update dlq entry", zap.Error(err))
			}
		}

		zap.L().Info("dlq retry complete",
			zap.Int("recovered", recovered),
			zap.Int("still_failing", stillFailing),
		)
		return nil
	},
}

func init() {
	batchCmd.PersistentFlags().StringVar(&batchFile, "file", "", "account list (.csv or .xlsx)")
	batchCmd.PersistentFlags().IntVar(&batchLimit, "limit", 0, "max accounts to process (0 = all)")
	batchCmd.PersistentFlags().IntVar(&batchConcurrency, "concurrency", 0, "max accounts in flight (default from config)")
	batchCmd.PersistentFlags().BoolVar(&batchDryRun, "dry-run", false, "run the pipeline without queueing pending updates")

	batchRetryCmd.Flags().String("type", "", "only retry one error type: transient or permanent")

	batchCmd.AddCommand(batchRetryCmd)
	rootCmd.AddCommand(batchCmd)
}

// discoverFunc is the callback signature for running discovery on an account.
type discoverFunc func(ctx context.Context, account model.AccountRef) (*model.PipelineRun, error)

// processBatch applies limit, then runs discovery for each account with
// bounded concurrency. Accounts whose runs fail are parked in the dead
// letter queue; individual failures never abort the batch.
func processBatch(ctx context.Context, accts []model.AccountRef, limit, concurrency int, st store.Store, discover discoverFunc) error {
	if len(accts) == 0 {
		zap.L().Info("no accounts to process")
		return nil
	}

	if limit > 0 && len(accts) > limit {
		accts = accts[:limit]
	}

	zap.L().Info("processing batch",
		zap.Int("accounts", len(accts)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, account := range accts {
		g.Go(func() error {
			log := zap.L().With(zap.String("account", account.Name))

			run, err := discover(gctx, account)
			if err != nil {
				failed.Add(1)
				log.Error("discovery failed", zap.Error(err))
				parkAccount(gctx, st, account, "", err, resilience.ClassifyError(err))
				return nil // don't abort batch on individual failure
			}

			if run.Status == model.RunStatusFailed {
				failed.Add(1)
				var stage string
				var cause error = eris.New("run failed")
				errType := resilience.ErrorTypePermanent
				if run.FirstError != nil {
					cause = run.FirstError
					stage = string(run.FirstError.Stage)
					errType = resilience.ErrorTypeForKind(run.FirstError.Kind)
				}
				log.Error("discovery run failed", zap.String("run_id", run.ID), zap.Error(cause))
				parkAccount(gctx, st, account, stage, cause, errType)
				return nil
			}

			succeeded.Add(1)
			log.Info("discovery complete",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
				zap.Int("qualified", len(run.Qualified)),
				zap.Float64("cost", run.TotalCost),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}

// parkAccount records a failed account in the dead letter queue. Failures
// here are logged and swallowed; the batch summary already counts the loss.
func parkAccount(ctx context.Context, st store.Store, account model.AccountRef, stage string, cause error, errType string) {
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		Account:      account,
		Error:        cause.Error(),
		ErrorType:    errType,
		FailedStage:  stage,
		MaxRetries:   cfg.Batch.MaxRetries,
		NextRetryAt:  now,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := st.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("enqueue dlq", zap.String("account", account.Name), zap.Error(err))
	}
}

// dlqBackoff returns the deferral before an entry becomes retryable again,
// doubling per attempt from 15 minutes up to 6 hours.
func dlqBackoff(retryCount int) time.Duration {
	d := 15 * time.Minute
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= 6*time.Hour {
			return 6 * time.Hour
		}
	}
	return d
}
