package main

import (
	"groupchat/internal/config"
	"groupchat/internal/migrate"

	"github.com/spf13/cobra"
)

func buildMigrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	cmd.PersistentFlags().StringVar(&dsn, "database-url", "", "PostgreSQL connection string (default: DATABASE_URL)")

	resolve := func() string {
		if dsn != "" {
			return dsn
		}
		return config.DatabaseURL()
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate.Up(cmd.Context(), resolve())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate.Down(cmd.Context(), resolve())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate.Status(cmd.Context(), resolve())
			},
		},
	)
	return cmd
}
