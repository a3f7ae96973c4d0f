package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Thinkelution/devlution/internal/config"
	"github.com/Thinkelution/devlution/internal/prompt"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default devlution.yaml and the .devlution/ state directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		name, _ := cmd.Flags().GetString("name")
		dir, _ := cmd.Flags().GetString("dir")

		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		if name == "" {
			name = filepath.Base(abs)
		}
		cfg := config.Default(name)
		path := filepath.Join(abs, config.DefaultFile)
		if err := config.Write(path, cfg, force); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wrote %s\n", path)

		stateDir := filepath.Join(abs, cfg.Storage.StateDir)
		if err := os.MkdirAll(filepath.Join(stateDir, "runs"), 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
		fmt.Fprintf(out, "created %s/\n", stateDir)

		written, err := prompt.NewLibrary(filepath.Join(abs, prompt.DefaultOverrideDir)).Install(force)
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Fprintf(out, "wrote %s\n", p)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().String("name", "", "Project name (default: directory name)")
	initCmd.Flags().String("dir", ".", "Project directory")
	initCmd.Flags().Bool("force", false, "Overwrite existing files")
}
