package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the SQLite audit index",
}

// openIndex opens the configured index, or the default location when none
// is configured.
func openIndex(cmd *cobra.Command) (*db.DB, *audit.Log, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	path := cfg.Storage.SQLitePath
	if path == "" {
		path = db.DefaultPath
	}
	index, err := db.Open(under(cfg.Project.Root, path))
	if err != nil {
		return nil, nil, err
	}
	log, err := audit.Open(under(cfg.Project.Root, cfg.Supervision.AuditLog))
	if err != nil {
		index.Close()
		return nil, nil, err
	}
	return index, log, nil
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _, err := openIndex(cmd)
		if err != nil {
			return err
		}
		defer index.Close()
		if err := index.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", index.Path())
		return nil
	},
}

var dbReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the index from the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		index, log, err := openIndex(cmd)
		if err != nil {
			return err
		}
		defer index.Close()

		entries, err := log.Read(audit.ReadOpts{})
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := index.Reset(ctx); err != nil {
			return err
		}
		for _, e := range entries {
			if err := index.InsertAudit(ctx, e); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d entries from %s into %s\n", len(entries), log.Path(), index.Path())
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbReindexCmd)
}
