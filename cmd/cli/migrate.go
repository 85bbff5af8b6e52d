package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/portscope/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long:  `Apply or inspect the embedded PostgreSQL migrations for session storage.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withDatabase(cmd.Context(), cfg, false, func(database *db.DB) error {
			applied, err := db.NewMigrator(database.DB).Up(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withDatabase(cmd.Context(), cfg, false, func(database *db.DB) error {
			statuses, err := db.NewMigrator(database.DB).Status(cmd.Context())
			if err != nil {
				return err
			}
			renderMigrations(cmd.OutOrStdout(), statuses)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}
