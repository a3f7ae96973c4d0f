package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func addFormatFlag(cmd *cobra.Command, formats string) {
	cmd.Flags().String("format", "text", "Output format: "+formats)
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("format")
	return format
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// writeStructured writes v as json or yaml and reports whether the format
// was one of those.
func writeStructured(cmd *cobra.Command, v any) (bool, error) {
	switch outputFormat(cmd) {
	case "json":
		return true, writeJSON(cmd, v)
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("marshal yaml: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return true, err
	case "text", "":
		return false, nil
	}
	return true, fmt.Errorf("unknown format %q", outputFormat(cmd))
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
