package main

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"agileflow/internal/storage"
)

func initStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the board table and the fallback event queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StorageConnStr == "" {
				return errors.New("missing STORAGE_CONNECTION_STRING")
			}
			log.Info("storage init starting")
			ctx := cmd.Context()
			if err := storage.CreateTables(ctx, cfg.StorageConnStr, []string{cfg.BoardTable}); err != nil {
				return err
			}
			if err := storage.CreateQueues(ctx, cfg.StorageConnStr, []string{cfg.FallbackQueue}); err != nil {
				return err
			}
			log.Info("storage init complete")
			return nil
		},
	}
}
