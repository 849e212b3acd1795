// Command msgbus is the operator CLI for the message bus: queue
// provisioning, consumption, DLQ tooling, and housekeeping, all driven off
// the same configuration the library components use in-process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/our-edu/sqs-messaging/internal/config"
	"github.com/our-edu/sqs-messaging/internal/idempotency"
	"github.com/our-edu/sqs-messaging/internal/logger"
	"github.com/our-edu/sqs-messaging/internal/queue"
	"github.com/our-edu/sqs-messaging/internal/storage"
)

func main() {
	configPath := flag.String("config", "config", "path to config directory")
	limit := flag.Int("limit", 10, "max messages for inspect/replay commands")
	days := flag.Int("days", 0, "retention override for cleanup-processed-events")
	follow := flag.Bool("follow", false, "keep consuming in a persistent loop instead of exiting after one cycle")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: msgbus <command> [args]")
		fmt.Fprintln(os.Stderr, "commands: ensure-queues, consume <queue>, inspect-dlq <queue>, replay-dlq <queue>, monitor-dlq [queue], cleanup-processed-events, status, check")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	ctx := context.Background()

	d, err := buildDeps(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	defer d.close()

	var cmdErr error
	switch cmd := args[0]; cmd {
	case "ensure-queues":
		cmdErr = runEnsureQueues(ctx, d, cfg)
	case "consume":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: msgbus consume <queue>")
			os.Exit(2)
		}
		cmdErr = runConsume(ctx, d, cfg, args[1], *follow, log)
	case "inspect-dlq":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: msgbus inspect-dlq <queue>")
			os.Exit(2)
		}
		cmdErr = runInspectDLQ(ctx, d, args[1], *limit)
	case "replay-dlq":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: msgbus replay-dlq <queue>")
			os.Exit(2)
		}
		cmdErr = runReplayDLQ(ctx, d, args[1], *limit)
	case "monitor-dlq":
		target := ""
		if len(args) >= 2 {
			target = args[1]
		}
		cmdErr = runMonitorDLQ(ctx, d, cfg, target)
	case "cleanup-processed-events":
		cmdErr = runCleanup(ctx, d, cfg, *days)
	case "status":
		cmdErr = runStatus(ctx, d)
	case "check":
		cmdErr = runCheck(ctx, d)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}

	if cmdErr != nil {
		log.Error().Err(cmdErr).Msg("command failed")
		os.Exit(1)
	}
}

// deps bundles the process-lifetime resources every subcommand needs a
// subset of.
type deps struct {
	redis     *redis.Client
	db        *storage.DB
	transport queue.Transport
	resolver  *queue.Resolver
	publisher *queue.Publisher
	managed   *queue.ManagedDriver
	legacy    *queue.LegacyDriver
	router    *queue.MessagingService
	store     *idempotency.Store
	notifier  queue.Notifier
	log       zerolog.Logger
}

func (d *deps) close() {
	if d.redis != nil {
		d.redis.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}

// buildDeps wires every shared component once per process invocation. The
// admin API binary assembles a subset of the same set (Redis, database,
// transport, resolver, publisher and DLQ tooling).
func buildDeps(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*deps, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	var db *storage.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = storage.NewDB(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, cfg.Database.ConnectTimeout)
		if err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
	}

	transport, err := queue.NewSQSTransport(ctx, cfg.SQS.Region)
	if err != nil {
		return nil, fmt.Errorf("init sqs transport: %w", err)
	}

	resolver := queue.NewResolver(transport, redisClient, cfg.Bus.Prefix)
	publisher := queue.NewPublisher(resolver, transport, "msgbus", log)
	managed := queue.NewManagedDriver(publisher, resolver)
	legacy := queue.NewLegacyDriver(redisClient, cfg.Bus.Prefix, "msgbus", log)

	var fallback queue.Driver
	if cfg.Bus.DualWrite || cfg.Bus.FallbackToLegacy {
		fallback = legacy
	}
	router := queue.NewMessagingService(managed, fallback, queue.RouterConfig{
		DualWrite:        cfg.Bus.DualWrite,
		FallbackToLegacy: cfg.Bus.FallbackToLegacy,
	}, log)

	store := idempotency.NewStore(redisClient, db, idempotency.Config{
		ProcessingTTL: time.Duration(cfg.Idempotency.ProcessingTTLSec) * time.Second,
		ProcessedTTL:  time.Duration(cfg.Idempotency.ProcessedTTLSec) * time.Second,
	})

	notifier := queue.NewLogNotifier(log)

	return &deps{
		redis:     redisClient,
		db:        db,
		transport: transport,
		resolver:  resolver,
		publisher: publisher,
		managed:   managed,
		legacy:    legacy,
		router:    router,
		store:     store,
		notifier:  notifier,
		log:       log,
	}, nil
}

func runEnsureQueues(ctx context.Context, d *deps, cfg *config.Config) error {
	for _, service := range cfg.Bus.Queues {
		if service.Default != "" {
			if _, err := d.resolver.Resolve(ctx, service.Default); err != nil {
				return fmt.Errorf("ensure queue %s: %w", service.Default, err)
			}
		}
		for _, q := range service.Specific {
			if _, err := d.resolver.Resolve(ctx, q); err != nil {
				return fmt.Errorf("ensure queue %s: %w", q, err)
			}
		}
	}
	for _, q := range cfg.Bus.TargetQueues {
		if _, err := d.resolver.Resolve(ctx, q); err != nil {
			return fmt.Errorf("ensure queue %s: %w", q, err)
		}
	}
	d.log.Info().Msg("all configured queues ensured")
	return nil
}

func runConsume(ctx context.Context, d *deps, cfg *config.Config, logicalQueue string, follow bool, log zerolog.Logger) error {
	listeners := buildListenerRegistry(cfg)
	loop := queue.NewConsumerLoop(queue.ConsumerConfig{
		LogicalQueue:                 logicalQueue,
		Concurrency:                  10,
		ValidationErrorRateThreshold: cfg.Bus.ValidationErrorRateThreshold,
		TransientErrorRateThreshold:  cfg.Bus.TransientErrorRateThreshold,
		LongRunningEvents:            cfg.Bus.LongRunningEvents,
	}, d.resolver, d.transport, d.store, listeners, d.notifier, log)

	if !follow {
		result, err := loop.RunCycle(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("received", result.Received).Int("acked", result.Acked).Int("left", result.Left).Msg("consume cycle complete")
		return nil
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-quit:
			log.Info().Msg("shutting down consumer")
			return nil
		default:
			result, err := loop.RunCycle(ctx)
			if err != nil {
				log.Error().Err(err).Msg("consume cycle failed")
				continue
			}
			if result.Received > 0 {
				log.Info().Int("received", result.Received).Int("acked", result.Acked).Int("left", result.Left).Msg("consume cycle complete")
			}
		}
	}
}

// buildListenerRegistry maps each configured event type to a placeholder
// listener that returns an error naming the unwired listener. That error is
// not a permanent error, so the consumer leaves such messages for
// redelivery.
func buildListenerRegistry(cfg *config.Config) queue.ListenerRegistry {
	registry := make(queue.ListenerRegistry, len(cfg.Bus.EventListeners))
	for eventType, name := range cfg.Bus.EventListeners {
		listenerName := name
		registry[eventType] = queue.ListenerFunc(func(ctx context.Context, payload map[string]any) error {
			return fmt.Errorf("no listener implementation wired for %q (event_type %q)", listenerName, eventType)
		})
	}
	return registry
}

func dlqFor(d *deps) *queue.DLQ {
	return queue.NewDLQ(d.resolver, d.transport, d.publisher, d.notifier, d.log)
}

func runInspectDLQ(ctx context.Context, d *deps, logicalQueue string, limit int) error {
	dlq := dlqFor(d)
	messages, err := dlq.Inspect(ctx, logicalQueue, limit)
	if err != nil {
		return err
	}
	for _, m := range messages {
		d.log.Info().Str("message_id", m.MessageID).Str("event_type", m.Envelope.EventType).Str("decode_error", m.DecodeError).Msg("dlq message")
	}
	d.log.Info().Int("count", len(messages)).Msg("inspect complete")
	return nil
}

func runReplayDLQ(ctx context.Context, d *deps, logicalQueue string, limit int) error {
	dlq := dlqFor(d)
	result, err := dlq.Replay(ctx, logicalQueue, limit)
	if err != nil {
		return err
	}
	d.log.Info().Int("replayed", result.Replayed).Int("failed", result.Failed).Msg("replay complete")
	if result.Failed > 0 {
		return fmt.Errorf("%d messages failed to replay", result.Failed)
	}
	return nil
}

func runMonitorDLQ(ctx context.Context, d *deps, cfg *config.Config, logicalQueue string) error {
	dlq := dlqFor(d)

	queues := []string{logicalQueue}
	if logicalQueue == "" {
		queues = allConfiguredQueues(cfg)
	}

	var breached bool
	for _, q := range queues {
		depth, err := dlq.Monitor(ctx, q, cfg.DLQ.AlertThreshold)
		if err != nil {
			return fmt.Errorf("monitor %s: %w", q, err)
		}
		if depth > cfg.DLQ.AlertThreshold {
			breached = true
		}
	}
	if breached {
		return fmt.Errorf("one or more dlqs breached the alert threshold")
	}
	return nil
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

func runCleanup(ctx context.Context, d *deps, cfg *config.Config, daysOverride int) error {
	retentionDays := cfg.Cleanup.RetentionDays
	if daysOverride > 0 {
		retentionDays = daysOverride
	}
	deleted, err := d.store.Cleanup(ctx, retentionDays)
	if err != nil {
		return err
	}
	d.log.Info().Int64("deleted", deleted).Int("retention_days", retentionDays).Msg("cleanup complete")
	return nil
}

func runStatus(ctx context.Context, d *deps) error {
	redisOK := d.redis.Ping(ctx).Err() == nil
	dbOK := d.db == nil || d.db.Ping(ctx) == nil
	d.log.Info().Bool("redis_ok", redisOK).Bool("db_ok", dbOK).Msg("status")
	if !redisOK || !dbOK {
		return fmt.Errorf("one or more dependencies are unhealthy")
	}
	return nil
}

func runCheck(ctx context.Context, d *deps) error {
	return runStatus(ctx, d)
}
