package cli

import (
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue a run from where it stopped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		a, err := newApp(cmd, appOpts{dryRun: dryRun})
		if err != nil {
			return err
		}
		defer a.close()
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			a.orch.SetProgress(cmd.ErrOrStderr())
		}
		res, err := a.orch.Resume(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return reportResult(cmd, a, res)
	},
}

func init() {
	resumeCmd.Flags().Bool("dry-run", false, "Use offline stub agents")
	addFormatFlag(resumeCmd, "text, json or yaml")
}
