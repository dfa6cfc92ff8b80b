package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector-cli/internal/model"
)

var resumeFrom string

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run from a stage",
	Long: `Re-executes a stored run from the given stage. Earlier stage results
are reused from their persisted artifacts; the resume point and everything
after it run fresh.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		from := model.Stage(resumeFrom)
		switch from {
		case model.StageAcquire, model.StageValidate, model.StageRank, model.StageEnqueue:
		default:
			return eris.Errorf("resume: invalid --from stage %q (want acquire, validate, rank, or enqueue)", resumeFrom)
		}

		env, err := initPipeline(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Pipeline.Resume(ctx, args[0], from)
		if err != nil {
			return eris.Wrap(err, "resume")
		}

		logRunSummary(run)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFrom, "from", "acquire", "stage to resume from: acquire, validate, rank, or enqueue")
	rootCmd.AddCommand(resumeCmd)
}
