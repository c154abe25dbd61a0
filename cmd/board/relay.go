package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"agileflow/internal/config"
	"agileflow/internal/realtime"
	"agileflow/internal/storage"
)

func relayCmd() *cobra.Command {
	var idle time.Duration
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Republish events parked on the fallback queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StorageConnStr == "" {
				return errors.New("missing STORAGE_CONNECTION_STRING")
			}
			opts, err := config.RedisOptions(cfg.RedisConnStr)
			if err != nil {
				return err
			}
			rc := redis.NewClient(opts)
			defer rc.Close()

			q, err := storage.NewEventQueue(cfg.StorageConnStr, cfg.FallbackQueue)
			if err != nil {
				return fmt.Errorf("event queue: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.StandardLogger()
			logger.WithField("queue", cfg.FallbackQueue).Info("relay starting")
			return realtime.NewRelay(q, realtime.NewRedisPublisher(rc), logger, idle).Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&idle, "idle", time.Second, "poll interval while the queue is empty")
	return cmd
}
