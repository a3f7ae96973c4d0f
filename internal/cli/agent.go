package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thinkelution/devlution/internal/pipeline"
)

var agentCmd = &cobra.Command{
	Use:   "agent <planner|coder|reviewer|tester|debugger|publish>",
	Short: "Run a single agent outside a pipeline",
	Long: `Run one agent against a JSON request and print its output. The request
shape is the agent's input, e.g. for the reviewer:

  devlution agent reviewer --input '{"task_title": "Add profiles", "diff": "..."}'

--input also accepts @path/to/file.json, or - to read standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := pipeline.ParseNode(args[0])
		if err != nil || node == pipeline.NodeGate || node == pipeline.NodeDone {
			return fmt.Errorf("unknown agent %q", args[0])
		}
		input, _ := cmd.Flags().GetString("input")
		raw, err := readInput(cmd, input)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		a, err := newApp(cmd, appOpts{dryRun: dryRun})
		if err != nil {
			return err
		}
		defer a.close()

		out, err := a.orch.RunAgent(cmd.Context(), node, raw)
		if err != nil {
			return err
		}
		report := agentReport{
			Agent:      node,
			Success:    out.Success,
			Confidence: out.Confidence,
			Escalate:   out.Escalate,
			Error:      out.Error,
			Update:     out.Update,
			Data:       out.Data,
		}
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
		if !out.Success {
			return fmt.Errorf("%s failed: %s", node, out.Error)
		}
		return nil
	},
}

type agentReport struct {
	Agent      pipeline.Node   `json:"agent"`
	Success    bool            `json:"success"`
	Confidence float64         `json:"confidence"`
	Escalate   bool            `json:"escalate"`
	Error      string          `json:"error,omitempty"`
	Update     pipeline.Update `json:"update"`
	Data       map[string]any  `json:"data,omitempty"`
}

func readInput(cmd *cobra.Command, input string) ([]byte, error) {
	switch {
	case input == "-":
		return io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(input, "@"):
		data, err := os.ReadFile(strings.TrimPrefix(input, "@"))
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		return data, nil
	}
	return []byte(input), nil
}

func init() {
	agentCmd.Flags().String("input", "{}", "JSON request, @file or - for stdin")
	agentCmd.Flags().Bool("dry-run", false, "Use the offline stub agent")
}
