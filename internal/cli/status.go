package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/orchestrator"
	"github.com/Thinkelution/devlution/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored runs and audit activity per run",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Read-only: stub agents avoid requiring model credentials.
		a, err := newApp(cmd, appOpts{dryRun: true})
		if err != nil {
			return err
		}
		defer a.close()

		if runID, _ := cmd.Flags().GetString("run-id"); runID != "" {
			info, err := a.orch.Status(runID)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, info); ok {
				return err
			}
			printRunDetail(cmd, info)
			return nil
		}

		filter, _ := cmd.Flags().GetString("status")
		status := pipeline.Status(filter)
		if status != "" && !status.Valid() {
			return fmt.Errorf("unknown status %q", filter)
		}
		runs, err := a.orch.StatusAll(status)
		if err != nil {
			return err
		}
		sums, err := a.orch.Summaries()
		if err != nil {
			return err
		}
		if ok, err := writeStructured(cmd, statusReport{Runs: runs, Activity: sums}); ok {
			return err
		}
		return printStatusTables(cmd, runs, sums)
	},
}

type statusReport struct {
	Runs     []orchestrator.RunInfo `json:"runs" yaml:"runs"`
	Activity []audit.RunSummary     `json:"activity" yaml:"activity"`
}

func printStatusTables(cmd *cobra.Command, runs []orchestrator.RunInfo, sums []audit.RunSummary) error {
	out := cmd.OutOrStdout()
	if len(runs) == 0 && len(sums) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if len(runs) > 0 {
		fmt.Fprintln(w, "RUN\tSTATUS\tNODE\tTRIGGER\tUPDATED\tDETAIL")
		for _, r := range runs {
			detail := r.Error
			if len(r.WaitingOn) > 0 {
				detail = "waiting on " + strings.Join(r.WaitingOn, ", ")
			} else if r.PublishedReference != "" {
				detail = r.PublishedReference
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.RunID, r.Status, r.Node, clip(r.Trigger, 30), r.UpdatedAt, clip(detail, 60))
		}
	}
	if len(sums) > 0 {
		if len(runs) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, "RUN\tENTRIES\tTOKENS\tLAST ACTOR\tLAST ACTION\tLAST SEEN")
		for _, s := range sums {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
				s.RunID, s.Entries, s.TokensUsed, s.LastActor, s.LastAction, s.LastSeen)
		}
	}
	return w.Flush()
}

func printRunDetail(cmd *cobra.Command, info *orchestrator.RunInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", info.RunID)
	fmt.Fprintf(out, "Trigger:   %s\n", info.Trigger)
	fmt.Fprintf(out, "Status:    %s\n", info.Status)
	fmt.Fprintf(out, "Node:      %s\n", info.Node)
	fmt.Fprintf(out, "Tasks:     %d\n", info.Tasks)
	fmt.Fprintf(out, "Review:    %s\n", info.ReviewDecision)
	if info.PublishedReference != "" {
		fmt.Fprintf(out, "PR:        %s\n", info.PublishedReference)
	}
	if len(info.WaitingOn) > 0 {
		fmt.Fprintf(out, "Waiting:   %s\n", strings.Join(info.WaitingOn, ", "))
	}
	if info.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", info.Error)
	}
	nodes := make([]string, 0, len(info.Iterations))
	for n := range info.Iterations {
		nodes = append(nodes, string(n))
	}
	sort.Strings(nodes)
	if len(nodes) > 0 {
		fmt.Fprintln(out, "Nodes:")
		for _, n := range nodes {
			node := pipeline.Node(n)
			fmt.Fprintf(out, "  %-10s visits=%d confidence=%.2f\n", n, info.Iterations[node], info.Confidence[node])
		}
	}
}

func init() {
	statusCmd.Flags().String("run-id", "", "Show one run in detail")
	statusCmd.Flags().String("status", "", "Filter runs by status")
	addFormatFlag(statusCmd, "text, json or yaml")
}
