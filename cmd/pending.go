package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/store"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Manage the pending-update approval queue",
	Long: `Commands for the store-backed approval queue. Deployments that review
in Notion approve there instead; these commands cover the local queue.`,
}

// -- pending list --

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending updates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		account, _ := cmd.Flags().GetString("account")
		runID, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		updates, err := st.ListPendingUpdates(ctx, store.PendingFilter{
			Status:    model.PendingStatus(status),
			AccountID: account,
			RunID:     runID,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "pending list")
		}
		if len(updates) == 0 {
			fmt.Fprintln(os.Stderr, "No pending updates match.")
			return nil
		}

		formatPendingList(os.Stdout, updates)
		return nil
	},
}

// -- pending approve / reject --

var pendingApproveCmd = &cobra.Command{
	Use:   "approve <id>...",
	Short: "Approve pending updates for CRM write-back",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPendingStatus(cmd, args, model.PendingApproved)
	},
}

var pendingRejectCmd = &cobra.Command{
	Use:   "reject <id>...",
	Short: "Reject pending updates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPendingStatus(cmd, args, model.PendingRejected)
	},
}

func setPendingStatus(cmd *cobra.Command, ids []string, status model.PendingStatus) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	for _, id := range ids {
		if err := st.UpdatePendingUpdateStatus(ctx, id, status); err != nil {
			return eris.Wrapf(err, "pending: mark %s %s", id, status)
		}
		fmt.Fprintf(os.Stdout, "%s %s\n", id, status)
	}
	return nil
}

func init() {
	pendingListCmd.Flags().String("status", "", "filter by status (queued, approved, rejected, written, failed)")
	pendingListCmd.Flags().String("account", "", "filter by CRM account ID")
	pendingListCmd.Flags().String("run", "", "filter by run ID")
	pendingListCmd.Flags().Int("limit", 50, "max number of updates to display")

	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingApproveCmd)
	pendingCmd.AddCommand(pendingRejectCmd)
	rootCmd.AddCommand(pendingCmd)
}

// formatPendingList writes a tabular list of pending updates to w.
func formatPendingList(out io.Writer, updates []model.PendingUpdate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tPERSON\tTITLE\tSCORE\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-----\t-----\t------\t-------")

	for _, pu := range updates {
		person := fieldVal(pu, model.FieldGivenName) + " " + fieldVal(pu, model.FieldFamilyName)
		title := fieldVal(pu, model.FieldTitle)
		if len(title) > 28 {
			title = title[:25] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(pu.ID),
			pu.RecordType,
			person,
			title,
			fieldVal(pu, model.FieldScore),
			pu.Status,
			pu.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// fieldVal renders one pending-update field for display.
func fieldVal(pu model.PendingUpdate, key string) string {
	v, ok := pu.Fields[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
