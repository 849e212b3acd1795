// Package idempotency implements the two-tier duplicate-suppression store
// (C6) consulted by the consumer loop's DEDUP/CLAIM/COMMIT steps: a fast
// Redis tier for the common case, backed by a durable Postgres table that
// survives a full Redis flush.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/our-edu/sqs-messaging/internal/metrics"
	"github.com/our-edu/sqs-messaging/internal/storage"
)

const (
	processingKeyPrefix = "processing:"
	processedKeyPrefix  = "processed:"
)

// ErrAlreadyClaimed is returned by Claim when another consumer already holds
// or has completed the same idempotency key.
var ErrAlreadyClaimed = errors.New("idempotency key already claimed")

// Store is the two-tier idempotency store.
type Store struct {
	redis           *redis.Client
	db              *storage.DB
	processingTTL   time.Duration
	processedTTL    time.Duration
}

// Config controls the fast tier's TTLs.
type Config struct {
	ProcessingTTL time.Duration
	ProcessedTTL  time.Duration
}

// NewStore constructs a Store. db may be nil in tests that only exercise the
// fast tier; production wiring always supplies both tiers.
func NewStore(redisClient *redis.Client, db *storage.DB, cfg Config) *Store {
	return &Store{redis: redisClient, db: db, processingTTL: cfg.ProcessingTTL, processedTTL: cfg.ProcessedTTL}
}

// IsProcessed reports whether key has already been durably committed,
// checking the fast tier first and falling back to Postgres on a miss so a
// Redis flush cannot cause reprocessing of events Postgres already recorded.
func (s *Store) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := s.redis.Exists(ctx, processedKeyPrefix+key).Result()
	if err == nil && exists > 0 {
		metrics.IdempotencyHitsTotal.WithLabelValues("redis", "hit").Inc()
		return true, nil
	}

	if s.db == nil {
		metrics.IdempotencyHitsTotal.WithLabelValues("redis", "miss").Inc()
		return false, nil
	}

	var found string
	row := s.db.Pool.QueryRow(ctx, `SELECT idempotency_key FROM processed_events WHERE idempotency_key = $1`, key)
	err = row.Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.IdempotencyHitsTotal.WithLabelValues("postgres", "miss").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query processed_events: %w", err)
	}

	metrics.IdempotencyHitsTotal.WithLabelValues("postgres", "hit").Inc()
	// Backfill the fast tier so subsequent duplicates within the TTL window
	// short-circuit without a Postgres round trip.
	s.redis.Set(ctx, processedKeyPrefix+key, "1", s.processedTTL)
	return true, nil
}

// Claim attempts to mark key as in-flight, returning ErrAlreadyClaimed if
// another consumer already claimed or completed it. Uses SETNX so only one
// concurrent claimant wins the race.
func (s *Store) Claim(ctx context.Context, key string) error {
	processed, err := s.IsProcessed(ctx, key)
	if err != nil {
		return err
	}
	if processed {
		return ErrAlreadyClaimed
	}

	ok, err := s.redis.SetNX(ctx, processingKeyPrefix+key, "1", s.processingTTL).Result()
	if err != nil {
		return fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return ErrAlreadyClaimed
	}
	return nil
}

// Commit durably records key as processed: Postgres first via
// insert-or-ignore (the source of truth), then the fast tier, then clears
// the in-flight marker.
func (s *Store) Commit(ctx context.Context, key, eventType, service string) error {
	if s.db != nil {
		_, err := s.db.Pool.Exec(ctx,
			`INSERT INTO processed_events (idempotency_key, event_type, service) VALUES ($1, $2, $3) ON CONFLICT (idempotency_key) DO NOTHING`,
			key, eventType, service)
		if err != nil {
			return fmt.Errorf("insert processed_events: %w", err)
		}
	}

	s.redis.Set(ctx, processedKeyPrefix+key, "1", s.processedTTL)
	s.redis.Del(ctx, processingKeyPrefix+key)
	return nil
}

// Release clears an in-flight claim without marking it processed. The
// consumer calls it whenever a claimed message does not end in a commit: an
// unmapped event type, a listener error, or a failed commit.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, processingKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Cleanup deletes durable idempotency records older than retentionDays,
// returning the number of rows removed. Intended for a periodic operator job
// since the fast tier already self-expires via TTL.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if s.db == nil {
		return 0, nil
	}

	tag, err := s.db.Pool.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < now() - ($1 || ' days')::interval`,
		retentionDays)
	if err != nil {
		return 0, fmt.Errorf("cleanup processed_events: %w", err)
	}
	return tag.RowsAffected(), nil
}
