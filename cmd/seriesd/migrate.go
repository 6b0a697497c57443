package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.Storage.Driver != "postgres" {
				return errors.New("migrate requires storage.driver=postgres")
			}
			store, err := openPostgres(opts.cfg, opts)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.AutoMigrate(cmd.Context()); err != nil {
				return err
			}
			opts.logger.Info("database schema is up to date")
			return nil
		},
	}
}
