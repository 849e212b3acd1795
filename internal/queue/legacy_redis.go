package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LegacyDriver publishes envelopes onto Redis Streams, the pre-SQS transport
// kept alive for dual-write safety and as a fallback while a Managed queue is
// still being provisioned. It only ever plays the publisher half of the
// Driver contract: nothing in this system consumes off a legacy stream, so
// there is no consumer group, receive loop, or reclaim path here.
type LegacyDriver struct {
	client  *redis.Client
	prefix  string
	service string
	log     zerolog.Logger
}

// NewLegacyDriver constructs a LegacyDriver against client, namespacing
// stream keys with prefix the same way Resolver namespaces SQS queue names.
func NewLegacyDriver(client *redis.Client, prefix, service string, log zerolog.Logger) *LegacyDriver {
	return &LegacyDriver{client: client, prefix: prefix, service: service, log: log}
}

// Name implements Driver.
func (d *LegacyDriver) Name() string { return "Legacy" }

func (d *LegacyDriver) streamKey(logicalQueue string) string {
	return fmt.Sprintf("%s-%s", d.prefix, logicalQueue)
}

// Publish implements Driver by XADD-ing the wrapped envelope onto the
// logical queue's stream.
func (d *LegacyDriver) Publish(ctx context.Context, logicalQueue, eventType string, payload map[string]any, _ map[string]string) (string, error) {
	envelope := Wrap(eventType, payload, d.service)

	body, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	id, err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamKey(logicalQueue),
		Values: map[string]any{"envelope": body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", logicalQueue, err)
	}

	return id, nil
}

// IsAvailable implements Driver via a Redis PING.
func (d *LegacyDriver) IsAvailable(ctx context.Context) bool {
	return d.client.Ping(ctx).Err() == nil
}
