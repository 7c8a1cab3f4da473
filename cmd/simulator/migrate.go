package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbgabler/ehr-module-simulator/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured storage backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := storage.Migrate(cmd.Context(), cfg); err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Storage.Driver, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Storage.Driver)
			return err
		},
	}
}
