package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "devlution",
	Short: "A supervised multi-agent development pipeline",
	Long: `devlution turns an issue, CI failure, alert or manual request into a pull
request by routing it through planner, coder, reviewer, tester and debugger
agents, with configurable human approval gates along the way.

Run state lives in .devlution/ (JSON per run, JSONL audit trail).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to devlution.yaml (default: ./devlution.yaml, then ~/.devlution/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging and live progress output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(statsCmd)
}
