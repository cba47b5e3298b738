package main

import (
	"errors"
	"fmt"

	"mai-accounts/accountd/internal/store/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.DatabaseURL == "" {
				return errors.New("database_url is not set")
			}
			pg, err := postgres.NewStore(c.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to init postgres store: %w", err)
			}
			defer pg.Close()

			if err := pg.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			c.log.Info("database migrations applied")
			return nil
		},
	}
}
