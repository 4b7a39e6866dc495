package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sift-labs/sift/config"
	"github.com/sift-labs/sift/internal/store"
)

func migrateCMD() *cobra.Command {
	var cfgPath string
	var dir string
	var cmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required to migrate")
			}
			return store.Migrate(cfg.Storage.Postgres.DSN, dir)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")
	return cmd
}
