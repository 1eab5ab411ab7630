package main

import (
	"context"
	"net/http"
	"time"

	"clinicqueue/internal/auth"
	"clinicqueue/internal/config"
	"clinicqueue/internal/httpapi"
	"clinicqueue/internal/hub"
	"clinicqueue/internal/queue"
	"clinicqueue/internal/relay"
	"clinicqueue/internal/store/postgres"
	"clinicqueue/internal/telemetry"
	"clinicqueue/internal/triage"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "clinicqueue"

func serveCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	var withRelay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger, withRelay)
		},
	}
	cmd.Flags().BoolVar(&withRelay, "relay", true, "publish outbox events from this process")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger, withRelay bool) error {
	shutdownTelemetry := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	st := postgres.NewStore(pool)

	redisClient, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	var revoker auth.Revoker = auth.NewMemoryRevoker()
	if redisClient != nil {
		defer redisClient.Close()
		revoker = auth.NewRedisRevoker(redisClient)
	}

	if err := bootstrapAdmin(ctx, st, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword, logger); err != nil {
		return err
	}

	displayHub := hub.New(logger)
	if redisClient != nil {
		go func() {
			if err := relay.Subscribe(ctx, redisClient, relay.RedisChannel, displayHub, logger); err != nil {
				logger.Error().Err(err).Msg("redis subscriber stopped")
			}
		}()
	}
	if withRelay {
		sinks, closeSinks := buildSinks(cfg, redisClient, displayHub)
		defer closeSinks()
		go relay.New(st, sinks, relayConfig(cfg), logger).Start(ctx)
	}

	queueService := queue.NewService(st)
	handler := httpapi.NewHandler(httpapi.Options{
		Queue:   queueService,
		Triage:  triage.NewService(st, queueService),
		Store:   st,
		Issuer:  auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL()),
		Revoker: revoker,
		Hub:     displayHub,
		Pinger:  st,
		Limiter: httpapi.NewRateLimiter(httpapi.RateLimitConfig{
			IPPerMinute:   cfg.RateLimitPerMinute,
			IPBurst:       cfg.RateLimitBurst,
			UserPerMinute: cfg.RateLimitPerMinute,
			UserBurst:     cfg.RateLimitBurst,
		}),
		Logger: logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(handler.Routes(), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Wrap(server.Shutdown(shutdownCtx), "shutdown")
}
