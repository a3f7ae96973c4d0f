package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thinkelution/devlution/internal/engine"
	"github.com/Thinkelution/devlution/internal/orchestrator"
	"github.com/Thinkelution/devlution/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a pipeline run",
	Long: `Start a run from a trigger and drive it until it completes, fails, aborts
or parks at a gate waiting for a human decision.

Examples:
  devlution run --issue 42
  devlution run --trigger ci_failure --source "build #812"
  devlution run --trigger manual --title "Add a health endpoint" --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		trigger, err := triggerFromFlags(cmd)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		a, err := newApp(cmd, appOpts{dryRun: dryRun})
		if err != nil {
			return err
		}
		defer a.close()
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			a.orch.SetProgress(cmd.ErrOrStderr())
		}

		title, _ := cmd.Flags().GetString("title")
		body, _ := cmd.Flags().GetString("body")
		labels, _ := cmd.Flags().GetStringSlice("label")
		res, err := a.orch.Start(cmd.Context(), orchestrator.StartOpts{
			Trigger: trigger,
			Title:   title,
			Body:    body,
			Labels:  labels,
		})
		if err != nil {
			return err
		}
		return reportResult(cmd, a, res)
	},
}

func triggerFromFlags(cmd *cobra.Command) (pipeline.Trigger, error) {
	kindStr, _ := cmd.Flags().GetString("trigger")
	source, _ := cmd.Flags().GetString("source")
	issue, _ := cmd.Flags().GetInt("issue")

	if issue > 0 {
		if kindStr != "" && kindStr != string(pipeline.TriggerIssue) {
			return pipeline.Trigger{}, fmt.Errorf("--issue conflicts with --trigger %s", kindStr)
		}
		return pipeline.IssueTrigger(strconv.Itoa(issue)), nil
	}
	if kindStr == "" {
		kindStr = string(pipeline.TriggerManual)
	}
	kind, err := pipeline.ParseTriggerKind(kindStr)
	if err != nil {
		return pipeline.Trigger{}, err
	}
	t := pipeline.Trigger{Kind: kind, Source: source}
	return t, t.Validate()
}

type runReport struct {
	RunID     string                `json:"run_id" yaml:"run_id"`
	Status    pipeline.Status       `json:"status" yaml:"status"`
	Visited   []pipeline.Node       `json:"visited" yaml:"visited"`
	Suspended bool                  `json:"suspended" yaml:"suspended"`
	Duration  string                `json:"duration" yaml:"duration"`
	Error     string                `json:"error,omitempty" yaml:"error,omitempty"`
	Run       *orchestrator.RunInfo `json:"run" yaml:"run"`
}

// reportResult prints where a run came to rest. Failed and aborted runs
// return an error so the process exits non-zero.
func reportResult(cmd *cobra.Command, a *app, res *engine.RunResult) error {
	info, err := a.orch.Status(res.RunID)
	if err != nil {
		return err
	}
	report := runReport{
		RunID:     res.RunID,
		Status:    res.Status,
		Visited:   res.Visited,
		Suspended: res.Suspended,
		Duration:  res.Duration.Round(time.Millisecond).String(),
		Error:     res.Error,
		Run:       info,
	}
	if ok, err := writeStructured(cmd, report); ok {
		if err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s: %s\n", res.RunID, res.Status)
		if len(res.Visited) > 0 {
			nodes := make([]string, len(res.Visited))
			for i, n := range res.Visited {
				nodes[i] = string(n)
			}
			fmt.Fprintf(out, "  path:  %s\n", strings.Join(nodes, " → "))
		}
		if info.PublishedReference != "" {
			fmt.Fprintf(out, "  pr:    %s\n", info.PublishedReference)
		}
		for _, g := range info.WaitingOn {
			fmt.Fprintf(out, "  waiting on gate %s: devlution gate approve --run-id %s --id %s\n", g, res.RunID, g)
		}
		if res.Error != "" {
			fmt.Fprintf(out, "  error: %s\n", res.Error)
		}
	}
	switch res.Status {
	case pipeline.StatusFailed, pipeline.StatusAborted:
		return fmt.Errorf("run %s %s: %s", res.RunID, res.Status, res.Error)
	}
	return nil
}

func init() {
	runCmd.Flags().String("trigger", "", "Trigger kind: issue, ci_failure, alert or manual (default manual)")
	runCmd.Flags().Int("issue", 0, "GitHub issue number (implies --trigger issue)")
	runCmd.Flags().String("source", "", "Trigger source identifier (issue ref, CI run, alert id)")
	runCmd.Flags().String("title", "", "Request title; overrides what the trigger resolves to")
	runCmd.Flags().String("body", "", "Request body")
	runCmd.Flags().StringSlice("label", nil, "Request labels")
	runCmd.Flags().Bool("dry-run", false, "Use offline stub agents; no model or GitHub calls")
	addFormatFlag(runCmd, "text, json or yaml")
}
