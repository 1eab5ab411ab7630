package main

import (
	"context"
	"strings"

	"clinicqueue/internal/auth"
	"clinicqueue/internal/config"
	"clinicqueue/internal/hub"
	"clinicqueue/internal/models"
	"clinicqueue/internal/relay"
	"clinicqueue/internal/store"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// openRedis returns nil when no URL is configured.
func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// buildSinks picks where relayed events go. With Redis every instance's
// subscriber feeds its own hub, so the local hub is only fed directly when
// Redis is absent. Kafka is an extra destination when brokers are set.
func buildSinks(cfg config.Config, redisClient *redis.Client, h *hub.Hub) ([]relay.Sink, func()) {
	var sinks []relay.Sink
	closers := []func(){}
	switch {
	case redisClient != nil:
		sinks = append(sinks, relay.NewRedisSink(redisClient, relay.RedisChannel))
	case h != nil:
		sinks = append(sinks, relay.NewHubSink(h))
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		writer := relay.NewKafkaWriter(brokers, cfg.KafkaTopic)
		sinks = append(sinks, relay.NewKafkaSink(writer))
		closers = append(closers, func() { _ = writer.Close() })
	}
	return sinks, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
}

func relayConfig(cfg config.Config) relay.Config {
	return relay.Config{
		Interval:  cfg.RelayInterval(),
		BatchSize: cfg.RelayBatchSize,
		Retention: cfg.OutboxRetention(),
	}
}

// bootstrapAdmin creates the first admin account when the user table is empty
// and credentials are configured.
func bootstrapAdmin(ctx context.Context, users store.UserStore, email, password string, logger zerolog.Logger) error {
	if email == "" || password == "" {
		return nil
	}
	count, err := users.CountUsers(ctx)
	if err != nil {
		return errors.Wrap(err, "count users")
	}
	if count > 0 {
		return nil
	}
	if len(password) < auth.MinPasswordLength {
		return errors.Errorf("bootstrap admin password must be at least %d characters", auth.MinPasswordLength)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return errors.Wrap(err, "hash bootstrap password")
	}
	user, err := users.CreateUser(ctx, store.UserInput{
		Name:         "Administrator",
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Function:     models.FunctionAdmin,
		PasswordHash: hash,
	})
	if err != nil {
		return errors.Wrap(err, "create bootstrap admin")
	}
	logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("bootstrap admin created")
	return nil
}
