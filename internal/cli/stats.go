package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thinkelution/devlution/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Agent, token and gate statistics from the audit index",
	Long: `Report per-agent outcomes and durations, token usage and gate decisions
from the SQLite audit index. Run "devlution db reindex" first if the index
was not configured while runs executed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if d, _ := cmd.Flags().GetDuration("since"); d > 0 {
			since = time.Now().Add(-d)
		}
		index, _, err := openIndex(cmd)
		if err != nil {
			return err
		}
		defer index.Close()
		if err := index.Migrate(cmd.Context()); err != nil {
			return err
		}

		report, err := analytics.Build(index, since)
		if err != nil {
			return err
		}
		if ok, err := writeStructured(cmd, report); ok {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tSTEPS\tFAILED%\tESCALATED%\tCONFIDENCE\tAVG s\tP50 s\tP95 s")
		for _, n := range report.Nodes {
			fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.2f\t%.1f\t%.1f\t%.1f\n",
				n.Node, n.Count, n.FailedPct, n.EscalatedPct, n.AvgConfidence, n.Avg, n.P50, n.P95)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "ACTOR\tCALLS\tTOKENS\tRUNS")
		for _, u := range report.Tokens {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", u.Actor, u.Calls, u.Tokens, u.Runs)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "GATE\tAPPROVED\tREJECTED\tTIMEOUT\tAPPROVED%")
		for _, g := range report.Gates {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\n", g.GateID, g.Approved, g.Rejected, g.Timeout, g.ApprovedPct)
		}
		return w.Flush()
	},
}

func init() {
	statsCmd.Flags().Duration("since", 0, "Only entries newer than this (e.g. 168h)")
	addFormatFlag(statsCmd, "text, json or yaml")
}
