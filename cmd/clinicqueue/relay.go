package main

import (
	"clinicqueue/internal/config"
	"clinicqueue/internal/relay"
	"clinicqueue/internal/store/postgres"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// relayCommand runs the outbox relay without the API, for deployments that
// serve with --relay=false.
func relayCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish outbox events to Redis and Kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}
			if cfg.RedisURL == "" && len(cfg.Brokers()) == 0 {
				return errors.New("relay needs REDIS_URL or KAFKA_BROKERS")
			}
			ctx := cmd.Context()

			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			redisClient, err := openRedis(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			if redisClient != nil {
				defer redisClient.Close()
			}

			sinks, closeSinks := buildSinks(cfg, redisClient, nil)
			defer closeSinks()
			relay.New(postgres.NewStore(pool), sinks, relayConfig(cfg), logger).Start(ctx)
			return nil
		},
	}
}
