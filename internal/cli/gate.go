package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thinkelution/devlution/internal/pipeline"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Decide a gate a run is waiting on",
}

func gateDecisionCmd(verb string, decision pipeline.Decision) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb,
		Short: fmt.Sprintf("Record a %s decision and resume the run", decision),
		RunE: func(cmd *cobra.Command, args []string) error {
			gateID, _ := cmd.Flags().GetString("id")
			runID, _ := cmd.Flags().GetString("run-id")
			approver, _ := cmd.Flags().GetString("approver")
			reason, _ := cmd.Flags().GetString("reason")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			a, err := newApp(cmd, appOpts{dryRun: dryRun})
			if err != nil {
				return err
			}
			defer a.close()
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				a.orch.SetProgress(cmd.ErrOrStderr())
			}

			res, err := a.orch.SubmitGate(cmd.Context(), runID, gateID, string(decision), approver, reason)
			if err != nil {
				return err
			}
			if res == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "gate %s %s for run %s; applied when the run reaches it\n", gateID, decision, runID)
				return nil
			}
			return reportResult(cmd, a, res)
		},
	}
	cmd.Flags().String("id", "", "Gate id (required)")
	cmd.Flags().String("run-id", "", "Run id (required)")
	cmd.Flags().String("approver", currentUser(), "Who is deciding")
	cmd.Flags().String("reason", "", "Why")
	cmd.Flags().Bool("dry-run", false, "Resume with offline stub agents")
	addFormatFlag(cmd, "text, json or yaml")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func init() {
	gateCmd.AddCommand(gateDecisionCmd("approve", pipeline.DecisionApproved))
	gateCmd.AddCommand(gateDecisionCmd("reject", pipeline.DecisionRejected))
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
