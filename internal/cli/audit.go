package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Thinkelution/devlution/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show audit log entries",
	Long: `Show the most recent audit entries, optionally for one run.

With --from-db the entries come from the SQLite index instead of the
JSONL log; run "devlution db reindex" first if the index is stale.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, appOpts{dryRun: true})
		if err != nil {
			return err
		}
		defer a.close()

		last, _ := cmd.Flags().GetInt("last")
		runID, _ := cmd.Flags().GetString("run-id")
		raw, _ := cmd.Flags().GetBool("raw")
		fromDB, _ := cmd.Flags().GetBool("from-db")
		if last < 0 {
			return fmt.Errorf("--last must not be negative")
		}

		var entries []audit.Entry
		if fromDB {
			if a.index == nil {
				return fmt.Errorf("storage.sqlite_path is not configured")
			}
			entries, err = a.index.QueryAudit(cmd.Context(), runID, last)
		} else {
			entries, err = a.orch.Audit(audit.ReadOpts{LastN: last, RunID: runID})
		}
		if err != nil {
			return err
		}

		if raw {
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		}
		if ok, err := writeStructured(cmd, entries); ok {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit entries.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tRUN\tACTOR\tACTION\tTOKENS\tCONFIDENCE")
		for _, e := range entries {
			tokens, conf := "-", "-"
			if e.TokensUsed != nil {
				tokens = fmt.Sprint(*e.TokensUsed)
			}
			if e.Confidence != nil {
				conf = fmt.Sprintf("%.2f", *e.Confidence)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Timestamp, clip(e.RunID, 12), e.Actor, e.Action, tokens, conf)
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.Flags().Int("last", 20, "Number of entries to show (0 for all)")
	auditCmd.Flags().String("run-id", "", "Only entries for this run")
	auditCmd.Flags().Bool("raw", false, "Print entries as JSON lines")
	auditCmd.Flags().Bool("from-db", false, "Read from the SQLite index")
	addFormatFlag(auditCmd, "text, json or yaml")
}
