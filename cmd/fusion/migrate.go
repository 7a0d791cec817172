package main

import (
	"github.com/couchcryptid/loss-signal-fusion/internal/adapter/postgres"
	"github.com/couchcryptid/loss-signal-fusion/internal/config"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := config.LoadDatabaseURL()
			if err != nil {
				return err
			}
			db, err := postgres.Connect(cmd.Context(), url)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		},
	}
}
