// Command admin-api serves the operator HTTP surface: health/readiness
// probes and bearer-token-protected DLQ inspect/replay/monitor endpoints
// per logical queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/our-edu/sqs-messaging/internal/api"
	"github.com/our-edu/sqs-messaging/internal/auth"
	"github.com/our-edu/sqs-messaging/internal/config"
	"github.com/our-edu/sqs-messaging/internal/logger"
	"github.com/our-edu/sqs-messaging/internal/queue"
	"github.com/our-edu/sqs-messaging/internal/storage"
)

func main() {
	configPath := flag.String("config", "config", "path to config directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	log.Info().Msg("starting admin api")

	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	var db *storage.DB
	if cfg.Database.URL != "" {
		db, err = storage.NewDB(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, cfg.Database.ConnectTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
	}

	transport, err := queue.NewSQSTransport(ctx, cfg.SQS.Region)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init sqs transport")
	}

	resolver := queue.NewResolver(transport, redisClient, cfg.Bus.Prefix)
	publisher := queue.NewPublisher(resolver, transport, "msgbus-admin-api", log)
	notifier := queue.NewLogNotifier(log)

	dlqs := make(map[string]*queue.DLQ, len(cfg.Bus.TargetQueues))
	for _, logicalQueue := range allConfiguredQueues(cfg) {
		dlqs[logicalQueue] = queue.NewDLQ(resolver, transport, publisher, notifier, log)
	}

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey:  cfg.AdminAPI.SigningKey,
		TokenExpiry: time.Hour,
		Issuer:      "msgbus-admin-api",
		Audience:    "msgbus-admin-api",
	})

	router := api.NewRouter(api.RouterConfig{
		DB:                       db,
		JWTService:               jwtService,
		DLQs:                     dlqs,
		DefaultDLQAlertThreshold: cfg.DLQ.AlertThreshold,
		Log:                      log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.AdminAPI.Host, cfg.AdminAPI.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("admin api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin api server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down admin api")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("admin api forced to shutdown")
	}

	log.Info().Msg("admin api stopped")
}

func allConfiguredQueues(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var queues []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			queues = append(queues, name)
		}
	}
	for _, service := range cfg.Bus.Queues {
		add(service.Default)
		for _, q := range service.Specific {
			add(q)
		}
	}
	for _, q := range cfg.Bus.TargetQueues {
		add(q)
	}
	return queues
}
