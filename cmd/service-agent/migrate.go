package main

import (
	"fmt"

	"github.com/spf13/cobra"

	internaldb "service-agent/internal/db"
)

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store migrations and print the schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			writeDB, err := internaldb.OpenSQLite(cfg.MetaDBPath, internaldb.ModeWrite, 1)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer writeDB.Close()

			if err := internaldb.RunMigrations(cmd.Context(), writeDB); err != nil {
				return fmt.Errorf("migrate store: %w", err)
			}
			v, err := internaldb.SchemaVersion(cmd.Context(), writeDB)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", cfg.MetaDBPath, v)
			return nil
		},
	}
}
