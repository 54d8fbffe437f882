package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/btcmap/btcmap-api/internal/btcconfig"
	"github.com/btcmap/btcmap-api/internal/storagedb"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the primary and log databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := btcconfig.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		eng, err := storagedb.Open(cfg.PrimaryDBPath(), cfg.LogDBPath(), storagedb.Options{
			PoolSize:      cfg.PoolSize,
			BusyTimeoutMS: cfg.BusyTimeoutMS,
		})
		if err != nil {
			return fmt.Errorf("opening storage engine: %w", err)
		}
		defer eng.Close()

		if err := eng.Migrate(context.Background()); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
