package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/writeback"
)

var (
	writebackLimit   int
	writebackAccount string
	writebackDryRun  bool
)

var writebackCmd = &cobra.Command{
	Use:   "writeback",
	Short: "Write approved pending updates to the CRM",
	Long: `Drains the approved queue into Salesforce: leads insert as Lead
records, contacts as Contact records on their account. People already in
the CRM are skipped. With Notion configured, written records are flipped
to Written on the review board.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("writeback"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		crm, err := initSalesforce()
		if err != nil {
			return err
		}

		var opts []writeback.Option
		if cfg.Notion.Token != "" && cfg.Notion.PendingDB != "" {
			opts = append(opts, writeback.WithReviewBoard(initNotionBoard(st)))
		}

		w, err := writeback.New(st, crm, opts...)
		if err != nil {
			return err
		}

		res, err := w.Run(ctx, writeback.Options{
			Limit:     writebackLimit,
			AccountID: writebackAccount,
			DryRun:    writebackDryRun,
		})
		if err != nil {
			return eris.Wrap(err, "writeback")
		}

		zap.L().Info("writeback complete",
			zap.Int("processed", res.Processed),
			zap.Int("written", res.Written),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	writebackCmd.Flags().IntVar(&writebackLimit, "limit", 0, "max updates to write (0 = drain the queue)")
	writebackCmd.Flags().StringVar(&writebackAccount, "account", "", "only write updates for this CRM account ID")
	writebackCmd.Flags().BoolVar(&writebackDryRun, "dry-run", false, "report what would be written without touching the CRM")
	rootCmd.AddCommand(writebackCmd)
}
